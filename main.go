package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antibyte/crisisroom/pkg/auth"
	"github.com/antibyte/crisisroom/pkg/configuration"
	"github.com/antibyte/crisisroom/pkg/gateway"
	"github.com/antibyte/crisisroom/pkg/grid"
	"github.com/antibyte/crisisroom/pkg/levels"
	"github.com/antibyte/crisisroom/pkg/logger"
	"github.com/antibyte/crisisroom/pkg/room"
	"github.com/antibyte/crisisroom/pkg/store"
	tlsmanager "github.com/antibyte/crisisroom/pkg/tls"
)

func main() {
	configPath := flag.String("config", "settings.cfg", "configuration file")
	flag.Parse()

	// Configuration comes first, everything else reads from it.
	if err := configuration.Initialize(*configPath); err != nil {
		fmt.Printf("Error initializing configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Initialize(); err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	logger.ConfigInfo("System started - configuration loaded from: %s", *configPath)

	dbPath := configuration.GetString("Database", "path", "crisisroom.db")
	db, err := store.Open(dbPath)
	if err != nil {
		logger.Fatal(logger.AreaDatabase, "Database initialization failed: %v", err)
	}
	defer db.Close()
	db.SetHashCost(configuration.GetInt("Authentication", "password_hash_cost", 12))
	logger.Info(logger.AreaDatabase, "Database ready at %s", dbPath)

	width := configuration.GetInt("Game", "grid_width", grid.DefaultWidth)
	height := configuration.GetInt("Game", "grid_height", grid.DefaultHeight)
	levelsDir := configuration.GetString("Game", "levels_dir", "levels")
	extra, err := levels.LoadDir(levelsDir, width, height)
	if err != nil {
		logger.Error(logger.AreaLevels, "Loading levels from %s failed: %v", levelsDir, err)
	}
	logger.Info(logger.AreaLevels, "%d built-in and %d extra levels available", levels.BuiltinCount, len(extra))

	mux := http.NewServeMux()
	auth.NewHandlers(db).Register(mux)

	gw := gateway.NewHandler(db, func() room.Options {
		opts := room.OptionsFromConfig()
		opts.Extra = extra
		if opts.MaxLevel < levels.BuiltinCount+len(extra) {
			opts.MaxLevel = levels.BuiltinCount + len(extra)
		}
		return opts
	})
	gw.Register(mux)
	go housekeeping(gw)

	staticDir := configuration.GetString("Server", "static_dir", "static")
	mux.Handle("/", staticHandler(staticDir))

	tlsManager, err := tlsmanager.NewTLSManager()
	if err != nil {
		logger.Fatal(logger.AreaSecurity, "TLS manager initialization failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	servers := startServers(tlsManager, mux)
	<-ctx.Done()

	logger.Info(logger.AreaGeneral, "Shutting down")
	gw.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(logger.AreaGeneral, "Server shutdown on %s: %v", srv.Addr, err)
		}
	}
}

// housekeeping drops stale rate limit entries and idle sessions.
func housekeeping(gw *gateway.Handler) {
	idleTimeout := configuration.GetDuration("Network", "idle_timeout", 30*time.Minute)
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		gw.Clients().CleanupRateLimits(10 * time.Minute)
		if n := gw.Clients().CloseIdle(idleTimeout); n > 0 {
			logger.Info(logger.AreaSession, "closed %d idle sessions", n)
		}
	}
}

// startServers starts plain HTTP, or HTTPS plus an HTTP server for ACME
// challenges and redirects.
func startServers(tlsManager *tlsmanager.TLSManager, handler http.Handler) []*http.Server {
	listen := func(srv *http.Server, tls bool) {
		var err error
		if tls {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(logger.AreaGeneral, "Server on %s failed: %v", srv.Addr, err)
			log.Fatalf("Error starting server on %s: %v", srv.Addr, err)
		}
	}

	httpPort := tlsManager.GetHTTPPort()
	if !tlsManager.IsEnabled() {
		srv := &http.Server{Addr: ":" + httpPort, Handler: handler}
		logger.Info(logger.AreaGeneral, "Starting HTTP server on port %s", httpPort)
		go listen(srv, false)
		return []*http.Server{srv}
	}

	httpsPort := tlsManager.GetHTTPSPort()
	httpsServer := &http.Server{
		Addr:      ":" + httpsPort,
		Handler:   handler,
		TLSConfig: tlsManager.GetTLSConfig(),
	}
	logger.Info(logger.AreaSecurity, "Starting HTTPS server on port %s", httpsPort)
	go listen(httpsServer, true)
	servers := []*http.Server{httpsServer}

	if tlsManager.NeedsHTTPServer() {
		httpServer := &http.Server{Addr: ":" + httpPort, Handler: tlsManager.GetHTTPHandler(handler)}
		logger.Info(logger.AreaSecurity, "Starting HTTP server for challenges/redirects on port %s", httpPort)
		go listen(httpServer, false)
		servers = append(servers, httpServer)
	}
	return servers
}

// staticHandler serves the browser client from dir.
func staticHandler(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			if _, err := os.Stat(dir + "/index.html"); err != nil {
				logger.Error(logger.AreaGeneral, "index.html not found in %s", dir)
				http.Error(w, "Main HTML file not found", http.StatusNotFound)
				return
			}
		}
		files.ServeHTTP(w, r)
	})
}
