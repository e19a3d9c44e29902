// Package gateway serves the crisis room to browsers: one websocket session
// per connection, each with its own room, plus a small REST API for saved
// games and custom levels.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/antibyte/crisisroom/pkg/auth"
	"github.com/antibyte/crisisroom/pkg/configuration"
	"github.com/antibyte/crisisroom/pkg/crisis"
	"github.com/antibyte/crisisroom/pkg/grid"
	"github.com/antibyte/crisisroom/pkg/levels"
	"github.com/antibyte/crisisroom/pkg/logger"
	"github.com/antibyte/crisisroom/pkg/room"
	"github.com/antibyte/crisisroom/pkg/shared"
	"github.com/antibyte/crisisroom/pkg/store"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func getWriteWait() time.Duration {
	return configuration.GetDuration("Network", "write_wait_timeout", 10*time.Second)
}

func getPongWait() time.Duration {
	return configuration.GetDuration("Network", "pong_timeout", 60*time.Second)
}

func getPingPeriod() time.Duration {
	return (getPongWait() * 9) / 10
}

func getMaxMessageSize() int64 {
	return int64(configuration.GetInt("Network", "max_message_size_kb", 64) * 1024)
}

func getMaxChannelBuffer() int {
	return configuration.GetInt("Network", "max_channel_buffer", 256)
}

var newline = []byte{'\n'}

// Store is the persistence the gateway uses. It is optional; without it
// games are not saved and the level API answers 503.
type Store interface {
	TestConnection() (store.TableInfo, error)
	SaveProgress(sessionID string, level int, data json.RawMessage) error
	LoadProgress(sessionID string) (*store.Progress, error)
	RecordCompletion(username string, level int, seconds float64) error
	Completions(username string) ([]store.Completion, error)
	SaveLevel(owner string, l levels.Layout) (string, error)
	ListLevels(owner string) ([]store.LevelRecord, error)
	GetLevel(id string) (store.LevelRecord, error)
	DeleteLevel(id, owner string) error
}

// savedGame is the progress blob written for each session.
type savedGame struct {
	LevelName         string `json:"levelName"`
	TotalBugsDefeated int    `json:"totalBugsDefeated"`
	Completed         bool   `json:"completed"`
}

// Handler owns the websocket endpoint and the REST API.
type Handler struct {
	store     Store
	clients   *ClientManager
	validator *RequestValidator
	upgrader  websocket.Upgrader

	// RoomOptions builds the options of every new room.
	RoomOptions func() room.Options
}

// NewHandler creates a gateway. st may be nil.
func NewHandler(st Store, roomOptions func() room.Options) *Handler {
	if roomOptions == nil {
		roomOptions = room.OptionsFromConfig
	}
	h := &Handler{
		store:       st,
		clients:     NewClientManager(0),
		validator:   NewRequestValidator(),
		RoomOptions: roomOptions,
	}
	origins := splitList(configuration.GetString("Network", "allowed_origins", ""))
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(origins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range origins {
				if origin == allowed {
					return true
				}
			}
			logger.SecurityWarn("rejected websocket origin %q", origin)
			return false
		},
	}
	return h
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Clients exposes the connected clients.
func (h *Handler) Clients() *ClientManager { return h.clients }

// Shutdown disconnects all clients.
func (h *Handler) Shutdown() { h.clients.CloseAll() }

// Client is one websocket connection and the room it plays in. It is the
// room's Game and View: every callback becomes a frame on the send channel.
type Client struct {
	handler   *Handler
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	username  string
	ip        string
	room      *room.Room
	limits    *sessionLimits

	mu         sync.Mutex
	closed     bool
	levelStart time.Time

	cleanupOnce sync.Once
}

// owner is the name completions and custom levels are stored under.
func (c *Client) owner() string {
	if c.username != "" {
		return c.username
	}
	return c.sessionID
}

// Send queues msg without blocking. Frames are dropped when the client
// cannot keep up.
func (c *Client) Send(msg shared.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error(logger.AreaWebSocket, "failed to marshal %s frame: %v", msg.Type, err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		logger.Warn(logger.AreaWebSocket, "send buffer full for session %s, dropping %s frame", c.sessionID, msg.Type)
	}
}

// Close ends the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) sendError(err error) {
	c.Send(shared.Message{Type: shared.MessageTypeError, Content: err.Error(), Kind: grid.KindError})
}

func (c *Client) RedrawPlayer(p grid.Player) {
	c.Send(shared.Message{Type: shared.MessageTypePlayer, Player: &p})
}

func (c *Client) RedrawEntities(s grid.Snapshot) {
	c.Send(shared.Message{Type: shared.MessageTypeState, World: &s})
}

func (c *Client) UpdateStatus(st crisis.Status) {
	c.Send(shared.Message{Type: shared.MessageTypeStatus, Status: &st})
}

func (c *Client) ShowMessage(text, kind string) {
	c.Send(shared.Message{Type: shared.MessageTypeMessage, Content: text, Kind: kind})
}

func (c *Client) LevelLoaded(level int, l levels.Layout) {
	c.mu.Lock()
	c.levelStart = time.Now()
	c.mu.Unlock()

	st := c.room.Status()
	c.Send(shared.Message{
		Type:       shared.MessageTypeLevel,
		Level:      level,
		LevelName:  l.Name,
		Difficulty: levels.Difficulty(l),
		Custom:     st.Custom,
		World:      &st.World,
	})
	if !st.Custom {
		c.saveProgress(level, savedGame{LevelName: l.Name, TotalBugsDefeated: st.TotalBugsDefeated})
	}
}

func (c *Client) LevelCompleted(level, bugsDefeated int, custom bool) {
	c.mu.Lock()
	elapsed := time.Since(c.levelStart)
	c.mu.Unlock()

	c.Send(shared.Message{
		Type:         shared.MessageTypeLevelComplete,
		Level:        level,
		BugsDefeated: bugsDefeated,
		Custom:       custom,
	})
	if custom || c.handler.store == nil {
		return
	}
	if err := c.handler.store.RecordCompletion(c.owner(), level, elapsed.Seconds()); err != nil {
		logger.Error(logger.AreaDatabase, "recording completion for %s: %v", c.owner(), err)
	}
}

func (c *Client) RoomCompleted(summary string) {
	c.Send(shared.Message{Type: shared.MessageTypeRoomCompleted, Content: summary, Kind: grid.KindSuccess})
	st := c.room.Status()
	c.saveProgress(st.Level, savedGame{LevelName: st.LevelName, TotalBugsDefeated: st.TotalBugsDefeated, Completed: true})
}

func (c *Client) GameOver(message string) {
	c.Send(shared.Message{Type: shared.MessageTypeGameOver, Content: message, Kind: grid.KindError})
}

func (c *Client) saveProgress(level int, game savedGame) {
	if c.handler.store == nil {
		return
	}
	data, err := json.Marshal(game)
	if err != nil {
		return
	}
	if err := c.handler.store.SaveProgress(c.sessionID, level, data); err != nil {
		logger.Error(logger.AreaDatabase, "saving progress for %s: %v", c.sessionID, err)
	}
}

// start resumes a saved game for the session or begins at level 1.
func (c *Client) start() error {
	if st := c.handler.store; st != nil {
		p, err := st.LoadProgress(c.sessionID)
		switch {
		case err == nil:
			var game savedGame
			corrupt := false
			if len(p.Data) > 0 {
				if err := json.Unmarshal(p.Data, &game); err != nil {
					logger.Error(logger.AreaDatabase, "decoding progress for %s: %v", c.sessionID, err)
					game, corrupt = savedGame{}, true
				}
			}
			if !game.Completed {
				if err := c.room.Resume(p.Level, game.TotalBugsDefeated); err == nil {
					c.room.ShowMessage(fmt.Sprintf("Welcome back! Resuming at level %d.", p.Level), grid.KindInfo)
					if corrupt {
						c.room.ShowMessage("Saved progress could not be read, the bug count starts over.", grid.KindWarning)
					}
					return nil
				}
				logger.Warn(logger.AreaSession, "saved level %d for %s is not available", p.Level, c.sessionID)
			}
		case !errors.Is(err, store.ErrNotFound):
			logger.Error(logger.AreaDatabase, "loading progress for %s: %v", c.sessionID, err)
		}
	}
	return c.room.Start()
}

// identify returns the session of the request. A request without a token
// starts a new guest session.
func identify(r *http.Request) (sessionID, username, token string, err error) {
	token, err = auth.ExtractTokenFromRequest(r)
	if errors.Is(err, auth.ErrNoToken) {
		sessionID = "guest_" + uuid.NewString()
		token, err = auth.GenerateGuestToken(sessionID)
		return sessionID, "", token, err
	}
	if err != nil {
		return "", "", "", err
	}
	claims, err := auth.ValidateToken(token)
	if err != nil {
		return "", "", "", err
	}
	if err := ValidateSessionID(claims.SessionID); err != nil {
		return "", "", "", err
	}
	return claims.SessionID, claims.Username, token, nil
}

// HandleWebSocket upgrades the connection and runs a room for it until the
// client disconnects.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := getClientIP(r)
	if err := h.clients.CheckRateLimit(ip); err != nil {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}
	sessionID, username, token, err := identify(r)
	if err != nil {
		logger.SecurityWarn("websocket rejected for %s: %v", ip, err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error(logger.AreaWebSocket, "upgrade failed for %s: %v", ip, err)
		return
	}

	client := &Client{
		handler:   h,
		conn:      conn,
		send:      make(chan []byte, getMaxChannelBuffer()),
		sessionID: sessionID,
		username:  username,
		ip:        ip,
		limits:    newSessionLimits(),
	}
	old, err := h.clients.AddClient(sessionID, client)
	if err != nil {
		logger.Warn(logger.AreaWebSocket, "refusing %s: %v", ip, err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(getWriteWait()))
		conn.Close()
		return
	}
	if old != nil {
		logger.Info(logger.AreaSession, "session %s reconnected, closing previous connection", sessionID)
		old.Close()
	}
	logger.Info(logger.AreaWebSocket, "client connected: session %s from %s", sessionID, ip)

	client.room = room.New(client, client, h.RoomOptions())
	go client.writePump()

	client.Send(shared.Message{Type: shared.MessageTypeSession, SessionID: sessionID, Token: token})
	if err := client.start(); err != nil {
		client.sendError(err)
	}
	client.readPump()
}

func (c *Client) cleanup() {
	c.cleanupOnce.Do(func() {
		c.room.Cleanup()
		c.handler.clients.RemoveClient(c.sessionID, c)
		c.Close()
		logger.Info(logger.AreaWebSocket, "client disconnected: session %s after %d messages", c.sessionID, c.limits.Total())
	})
}

func (c *Client) readPump() {
	defer c.cleanup()

	c.conn.SetReadLimit(getMaxMessageSize())
	c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(getPongWait()))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				logger.Warn(logger.AreaWebSocket, "unexpected close for session %s: %v", c.sessionID, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.conn.SetReadDeadline(time.Now().Add(getPongWait()))

		if err := c.limits.Check(len(message)); err != nil {
			logger.SecurityWarn("session %s from %s: %v", c.sessionID, c.ip, err)
			c.sendError(err)
			continue
		}
		req, err := c.handler.validator.Parse(message)
		if err != nil {
			logger.SecurityWarn("invalid request from session %s: %v", c.sessionID, err)
			c.sendError(err)
			continue
		}
		if err := c.handleRequest(req); err != nil {
			c.sendError(err)
		}
	}
}

func (c *Client) handleRequest(req *shared.Request) error {
	logger.Debug(logger.AreaWebSocket, "session %s: %s", c.sessionID, req.Action)
	switch req.Action {
	case shared.ActionExecute:
		return c.room.Execute(req.Code)
	case shared.ActionStep:
		return c.room.StepDebug(req.Code)
	case shared.ActionStop:
		c.room.Stop()
	case shared.ActionRestart:
		c.room.RestartLevel()
	case shared.ActionSpeed:
		c.room.SetSpeed(time.Duration(req.Speed) * time.Millisecond)
	case shared.ActionLoadLevel:
		return c.loadLevel(req)
	case shared.ActionStatus:
		st := c.room.Status()
		c.Send(shared.Message{
			Type:       shared.MessageTypeStatus,
			Level:      st.Level,
			LevelName:  st.LevelName,
			Difficulty: st.Difficulty,
			Custom:     st.Custom,
			Status:     &st.Interpreter,
			World:      &st.World,
		})
	case shared.ActionKeepalive:
	}
	return nil
}

func (c *Client) loadLevel(req *shared.Request) error {
	switch {
	case req.Layout != nil:
		return c.room.LoadCustomLevel(*req.Layout)
	case req.LevelID != "":
		if c.handler.store == nil {
			return errors.New("custom levels are not available")
		}
		rec, err := c.handler.store.GetLevel(req.LevelID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("level %s not found", req.LevelID)
		}
		if err != nil {
			return err
		}
		return c.room.LoadCustomLevel(rec.Layout)
	case req.Level > 0:
		return c.room.LoadLevel(req.Level)
	}
	return errors.New("no level given")
}

func (c *Client) writePump() {
	ticker := time.NewTicker(getPingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				additional, ok := <-c.send
				if !ok {
					break
				}
				w.Write(newline)
				w.Write(additional)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(getWriteWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug(logger.AreaWebSocket, "ping failed for session %s: %v", c.sessionID, err)
				return
			}
		}
	}
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
