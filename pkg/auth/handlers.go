package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/antibyte/crisisroom/pkg/configuration"
	"github.com/antibyte/crisisroom/pkg/logger"
	"github.com/antibyte/crisisroom/pkg/store"
	"github.com/google/uuid"
)

// UserStore ist der Teil des Stores, den die Handler brauchen
type UserStore interface {
	RegisterUser(username, email, password string) (*store.User, error)
	AuthenticateUser(identifier, password string) (*store.User, error)
}

// Handlers bedient die /api/auth Endpunkte
type Handlers struct {
	users UserStore
}

// NewHandlers creates auth handlers backed by users. A nil store allows
// guest sessions only.
func NewHandlers(users UserStore) *Handlers {
	return &Handlers{users: users}
}

// Register mounts the handlers on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/session", h.HandleCreateSession)
	mux.HandleFunc("/api/auth/register", h.HandleRegister)
	mux.HandleFunc("/api/auth/login", h.HandleLogin)
	mux.HandleFunc("/api/auth/logout", h.HandleLogout)
	mux.HandleFunc("/api/auth/user", RequireToken(h.HandleUser))
	mux.HandleFunc("/api/auth/validate", h.HandleTokenValidation)
}

// LoginRequest definiert die Struktur für Login-Anfragen. Ohne Passwort wird
// ein Gast-Token für SessionID ausgestellt. Email darf auch ein Benutzername sein.
type LoginRequest struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
}

// RegisterRequest definiert die Struktur für Registrierungs-Anfragen
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserInfo ist der öffentliche Teil eines Kontos
type UserInfo struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Response definiert die gemeinsame JSON-Antwort der Auth-Endpunkte
type Response struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	User      *UserInfo `json:"user,omitempty"`
	Message   string    `json:"message"`
}

func setHeaders(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods+", OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Content-Type", "application/json")
}

// HandleCreateSession creates a new guest session and returns the session ID
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	setHeaders(w, "POST")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		respondWithError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := generateSessionID()
	logger.AuthInfo("New guest session created: %s for IP: %s", sessionID, getClientIP(r))
	json.NewEncoder(w).Encode(Response{
		Success:   true,
		SessionID: sessionID,
		Message:   "Session created successfully",
	})
}

// HandleRegister legt ein Konto an
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	setHeaders(w, "POST")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		respondWithError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.users == nil {
		respondWithError(w, "Registration unavailable", http.StatusServiceUnavailable)
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" || req.Password == "" {
		respondWithError(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	if msg := validateCredentials(req.Username, req.Email, req.Password); msg != "" {
		respondWithError(w, msg, http.StatusBadRequest)
		return
	}

	user, err := h.users.RegisterUser(req.Username, req.Email, req.Password)
	if errors.Is(err, store.ErrUserExists) {
		respondWithError(w, "Username or email already exists", http.StatusConflict)
		return
	}
	if err != nil {
		logger.AuthError("Registration of %s failed: %v", req.Username, err)
		respondWithError(w, "Registration failed", http.StatusInternalServerError)
		return
	}

	logger.AuthInfo("Registered user %s from %s", user.Username, getClientIP(r))
	json.NewEncoder(w).Encode(Response{
		Success: true,
		User:    &UserInfo{Username: user.Username, Email: user.Email},
		Message: "Registration successful",
	})
}

func validateCredentials(username, email, password string) string {
	minUser := configuration.GetInt("Authentication", "min_username_length", 3)
	maxUser := configuration.GetInt("Authentication", "max_username_length", 20)
	minPass := configuration.GetInt("Authentication", "min_password_length", 6)
	maxPass := configuration.GetInt("Authentication", "max_password_length", 100)

	switch {
	case len(username) < minUser || len(username) > maxUser:
		return "Username length is invalid"
	case len(password) < minPass || len(password) > maxPass:
		return "Password length is invalid"
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "Email address is invalid"
	}
	return ""
}

// HandleLogin verarbeitet Login-Anfragen und generiert JWT-Tokens. Mit
// Zugangsdaten wird gegen den Store geprüft, sonst gibt es ein Gast-Token.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	setHeaders(w, "POST")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		logger.AuthWarn("Invalid method for login: %s", r.Method)
		respondWithError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.AuthWarn("Invalid JSON in login request: %v", err)
		respondWithError(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	identifier := req.Email
	if identifier == "" {
		identifier = req.Username
	}
	if identifier == "" && req.SessionID == "" {
		respondWithError(w, "Session ID required", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = generateSessionID()
	}

	var (
		token string
		user  *UserInfo
		err   error
	)
	if identifier != "" {
		if h.users == nil {
			respondWithError(w, "Login unavailable", http.StatusServiceUnavailable)
			return
		}
		u, authErr := h.users.AuthenticateUser(identifier, req.Password)
		if errors.Is(authErr, store.ErrInvalidCredentials) {
			logger.SecurityWarn("Failed login for %s from %s", identifier, getClientIP(r))
			respondWithError(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		if authErr != nil {
			logger.AuthError("Login for %s failed: %v", identifier, authErr)
			respondWithError(w, "Login failed", http.StatusInternalServerError)
			return
		}
		user = &UserInfo{Username: u.Username, Email: u.Email}
		token, err = GenerateUserToken(req.SessionID, u.Username)
	} else {
		token, err = GenerateGuestToken(req.SessionID)
	}
	if err != nil {
		logger.AuthError("Failed to generate JWT token for session %s: %v", req.SessionID, err)
		respondWithError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(getTokenExpiration().Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	json.NewEncoder(w).Encode(Response{
		Success:   true,
		Token:     token,
		SessionID: req.SessionID,
		User:      user,
		Message:   "Login successful",
	})
}

// HandleLogout löscht das JWT-Token Cookie
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	setHeaders(w, "GET, POST")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	logger.AuthInfo("User logged out, token cookie cleared")
	json.NewEncoder(w).Encode(Response{Success: true, Message: "Logout successful"})
}

// HandleUser liefert den Benutzer zum Token, Gäste erhalten 401
func (h *Handlers) HandleUser(w http.ResponseWriter, r *http.Request) {
	setHeaders(w, "GET")
	claims, ok := ClaimsFromContext(r.Context())
	if !ok || claims.IsGuest() {
		respondWithError(w, "Not authenticated", http.StatusUnauthorized)
		return
	}
	json.NewEncoder(w).Encode(Response{
		Success:   true,
		SessionID: claims.SessionID,
		User:      &UserInfo{Username: claims.Username},
		Message:   "Authenticated",
	})
}

// HandleTokenValidation validiert ein JWT-Token
func (h *Handlers) HandleTokenValidation(w http.ResponseWriter, r *http.Request) {
	setHeaders(w, "GET, POST")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	tokenString, err := ExtractTokenFromRequest(r)
	if err != nil {
		logger.AuthWarn("No token found in validation request: %v", err)
		respondWithError(w, "Token not found", http.StatusUnauthorized)
		return
	}
	claims, err := ValidateToken(tokenString)
	if err != nil {
		logger.AuthWarn("Token validation failed: %v", err)
		respondWithError(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	resp := Response{Success: true, SessionID: claims.SessionID, Message: "Token valid"}
	if !claims.IsGuest() {
		resp.User = &UserInfo{Username: claims.Username}
	}
	json.NewEncoder(w).Encode(resp)
}

func generateSessionID() string {
	return "guest_" + uuid.NewString()
}

// getClientIP extracts the client IP address from the request
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

func respondWithError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{Success: false, Message: message})
}
