package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/antibyte/crisisroom/pkg/auth"
	"github.com/antibyte/crisisroom/pkg/configuration"
	"github.com/antibyte/crisisroom/pkg/grid"
	"github.com/antibyte/crisisroom/pkg/levels"
	"github.com/antibyte/crisisroom/pkg/logger"
	"github.com/antibyte/crisisroom/pkg/store"
)

const maxLevelUpload = 1 << 20

// APIResponse is the JSON reply of the REST endpoints.
type APIResponse struct {
	Success  bool                `json:"success"`
	Message  string              `json:"message,omitempty"`
	ID       string              `json:"id,omitempty"`
	Clients  int                 `json:"clients,omitempty"`
	Database *store.TableInfo    `json:"database,omitempty"`
	Progress *store.Progress     `json:"progress,omitempty"`
	Level    *store.LevelRecord  `json:"level,omitempty"`
	Levels   []store.LevelRecord `json:"levels,omitempty"`

	Completions []store.Completion `json:"completions,omitempty"`
}

// ProgressRequest is the body of POST /api/progress.
type ProgressRequest struct {
	SessionID string          `json:"sessionId,omitempty"`
	Level     int             `json:"level"`
	Progress  json.RawMessage `json:"progress,omitempty"`
}

// Register mounts the websocket endpoint and the REST API on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWebSocket)
	mux.HandleFunc("/api/test", h.HandleTest)
	mux.HandleFunc("/api/verify", h.HandleVerify)
	mux.HandleFunc("/api/progress", auth.RequireToken(h.HandleSaveProgress))
	mux.HandleFunc("/api/progress/{sessionID}", auth.RequireToken(h.HandleLoadProgress))
	mux.HandleFunc("/api/completions", auth.RequireToken(h.HandleCompletions))
	mux.HandleFunc("/api/levels", auth.RequireToken(h.HandleLevels))
	mux.HandleFunc("/api/levels/{id}", auth.RequireToken(h.HandleLevel))
}

func setHeaders(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods+", OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Content-Type", "application/json")
}

// preflight writes CORS headers and reports whether the request is done.
func preflight(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	setHeaders(w, strings.Join(methods, ", "))
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return true
	}
	for _, m := range methods {
		if r.Method == m {
			return false
		}
	}
	respondWithError(w, "Method not allowed", http.StatusMethodNotAllowed)
	return true
}

func respond(w http.ResponseWriter, status int, resp APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func respondWithError(w http.ResponseWriter, message string, status int) {
	respond(w, status, APIResponse{Success: false, Message: message})
}

// owner names the caller for stored levels: the username, or the session
// ID for guests.
func owner(r *http.Request) string {
	if name := auth.UsernameFromContext(r.Context()); name != "" {
		return name
	}
	return auth.SessionIDFromContext(r.Context())
}

func (h *Handler) requireStore(w http.ResponseWriter) bool {
	if h.store == nil {
		respondWithError(w, "Database not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// HandleTest reports that the server is up.
func (h *Handler) HandleTest(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodGet) {
		return
	}
	respond(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Crisis room server is running",
		Clients: h.clients.GetClientCount(),
	})
}

// HandleVerify checks the database connection.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodGet) || !h.requireStore(w) {
		return
	}
	info, err := h.store.TestConnection()
	if err != nil {
		logger.Error(logger.AreaDatabase, "database verification failed: %v", err)
		respondWithError(w, "Database connection failed", http.StatusInternalServerError)
		return
	}
	respond(w, http.StatusOK, APIResponse{Success: true, Message: "Database connected", Database: &info})
}

// HandleSaveProgress stores progress for the caller's own session.
func (h *Handler) HandleSaveProgress(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodPost) || !h.requireStore(w) {
		return
	}
	var req ProgressRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLevelUpload)).Decode(&req); err != nil {
		respondWithError(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	sessionID := auth.SessionIDFromContext(r.Context())
	if req.SessionID != "" && req.SessionID != sessionID {
		logger.SecurityWarn("session %s tried to save progress for %s", sessionID, req.SessionID)
		respondWithError(w, "Forbidden", http.StatusForbidden)
		return
	}
	if req.Level < 1 {
		respondWithError(w, "Level must be at least 1", http.StatusBadRequest)
		return
	}
	if err := h.store.SaveProgress(sessionID, req.Level, req.Progress); err != nil {
		logger.Error(logger.AreaDatabase, "saving progress for %s: %v", sessionID, err)
		respondWithError(w, "Failed to save progress", http.StatusBadRequest)
		return
	}
	respond(w, http.StatusOK, APIResponse{Success: true, Message: "Progress saved"})
}

// HandleLoadProgress returns the saved progress of the caller's session.
func (h *Handler) HandleLoadProgress(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodGet) || !h.requireStore(w) {
		return
	}
	sessionID := r.PathValue("sessionID")
	if sessionID != auth.SessionIDFromContext(r.Context()) {
		respondWithError(w, "Forbidden", http.StatusForbidden)
		return
	}
	p, err := h.store.LoadProgress(sessionID)
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, "No saved progress", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Error(logger.AreaDatabase, "loading progress for %s: %v", sessionID, err)
		respondWithError(w, "Failed to load progress", http.StatusInternalServerError)
		return
	}
	respond(w, http.StatusOK, APIResponse{Success: true, Progress: p})
}

// HandleCompletions lists the levels the caller has finished.
func (h *Handler) HandleCompletions(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodGet) || !h.requireStore(w) {
		return
	}
	name := owner(r)
	list, err := h.store.Completions(name)
	if err != nil {
		logger.Error(logger.AreaDatabase, "listing completions for %s: %v", name, err)
		respondWithError(w, "Failed to load completions", http.StatusInternalServerError)
		return
	}
	respond(w, http.StatusOK, APIResponse{Success: true, Completions: list})
}

// HandleLevels lists custom levels (GET, ?owner=me for the caller's own)
// or uploads one in YAML or JSON (POST).
func (h *Handler) HandleLevels(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodGet, http.MethodPost) || !h.requireStore(w) {
		return
	}
	if r.Method == http.MethodGet {
		filter := ""
		if r.URL.Query().Get("owner") == "me" {
			filter = owner(r)
		}
		recs, err := h.store.ListLevels(filter)
		if err != nil {
			logger.Error(logger.AreaDatabase, "listing levels: %v", err)
			respondWithError(w, "Failed to list levels", http.StatusInternalServerError)
			return
		}
		respond(w, http.StatusOK, APIResponse{Success: true, Levels: recs})
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxLevelUpload))
	if err != nil {
		respondWithError(w, "Level too large", http.StatusRequestEntityTooLarge)
		return
	}
	l, err := levels.Decode(data)
	if err != nil {
		respondWithError(w, err.Error(), http.StatusBadRequest)
		return
	}
	width := configuration.GetInt("Game", "grid_width", grid.DefaultWidth)
	height := configuration.GetInt("Game", "grid_height", grid.DefaultHeight)
	if err := levels.Validate(&l, width, height); err != nil {
		respondWithError(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := h.store.SaveLevel(owner(r), l)
	if err != nil {
		logger.Error(logger.AreaDatabase, "saving level: %v", err)
		respondWithError(w, "Failed to save level", http.StatusInternalServerError)
		return
	}
	rec, err := h.store.GetLevel(id)
	if err != nil {
		respondWithError(w, "Failed to load saved level", http.StatusInternalServerError)
		return
	}
	respond(w, http.StatusCreated, APIResponse{Success: true, Message: "Level saved", ID: id, Level: &rec})
}

// HandleLevel returns (optionally as ?format=yaml) or deletes one level.
func (h *Handler) HandleLevel(w http.ResponseWriter, r *http.Request) {
	if preflight(w, r, http.MethodGet, http.MethodDelete) || !h.requireStore(w) {
		return
	}
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		respondWithError(w, "Invalid level id", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodDelete {
		err := h.store.DeleteLevel(id, owner(r))
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, "Level not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error(logger.AreaDatabase, "deleting level %s: %v", id, err)
			respondWithError(w, "Failed to delete level", http.StatusInternalServerError)
			return
		}
		respond(w, http.StatusOK, APIResponse{Success: true, Message: "Level deleted"})
		return
	}

	rec, err := h.store.GetLevel(id)
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, "Level not found", http.StatusNotFound)
		return
	}
	if err != nil {
		respondWithError(w, "Failed to load level", http.StatusInternalServerError)
		return
	}
	if format := r.URL.Query().Get("format"); format == "yaml" || format == "yml" {
		data, err := levels.Encode(rec.Layout, "yaml")
		if err != nil {
			respondWithError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/x-yaml")
		w.Header().Set("Content-Disposition", `attachment; filename="`+levels.FileName(rec.Layout, "yaml")+`"`)
		w.Write(data)
		return
	}
	respond(w, http.StatusOK, APIResponse{Success: true, Level: &rec})
}
