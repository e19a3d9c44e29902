// Package store persists users, saved games, level completions and custom
// levels in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/antibyte/crisisroom/pkg/levels"
	"github.com/antibyte/crisisroom/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

var (
	ErrUserExists         = errors.New("username or email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("not found")
)

// Store wraps the SQLite connection.
type Store struct {
	conn     *sql.DB
	hashCost int
}

// User is a registered account.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Progress is the saved state of one game session.
type Progress struct {
	SessionID string          `json:"sessionId"`
	Level     int             `json:"level"`
	Data      json.RawMessage `json:"progress"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Completion records a finished level.
type Completion struct {
	Username       string    `json:"username"`
	Level          int       `json:"level"`
	CompletionTime float64   `json:"completionTime"`
	CreatedAt      time.Time `json:"createdAt"`
}

// LevelRecord is a stored custom level.
type LevelRecord struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Owner      string        `json:"owner"`
	Difficulty int           `json:"difficulty"`
	Layout     levels.Layout `json:"layout"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// TableInfo is the result of TestConnection.
type TableInfo struct {
	Connected bool     `json:"connected"`
	Tables    []string `json:"tables"`
	Count     int      `json:"count"`
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{conn: conn, hashCost: bcrypt.DefaultCost}
	if err := s.CreateTables(); err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info(logger.AreaDatabase, "database opened at %s", path)
	return s, nil
}

// SetHashCost sets the bcrypt cost for new passwords.
func (s *Store) SetHashCost(cost int) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	s.hashCost = cost
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// CreateTables ensures all required tables exist.
func (s *Store) CreateTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS game_state (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT UNIQUE NOT NULL,
			current_level INTEGER DEFAULT 1,
			progress TEXT DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_progress (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			level_completed INTEGER NOT NULL,
			completion_time REAL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS custom_levels (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			owner TEXT NOT NULL,
			data TEXT NOT NULL,
			difficulty INTEGER DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_progress_username ON user_progress(username)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// TestConnection lists the tables in the database.
func (s *Store) TestConnection() (TableInfo, error) {
	rows, err := s.conn.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return TableInfo{}, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	info := TableInfo{Connected: true}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return TableInfo{}, err
		}
		info.Tables = append(info.Tables, name)
	}
	info.Count = len(info.Tables)
	return info, rows.Err()
}

// RegisterUser creates an account with a bcrypt password hash.
func (s *Store) RegisterUser(username, email, password string) (*User, error) {
	var count int
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM users WHERE username = ? OR email = ?`, username, email).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing user: %w", err)
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	res, err := s.conn.Exec(`INSERT INTO users (username, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		username, email, string(hash), now.Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	id, _ := res.LastInsertId()
	logger.Info(logger.AreaDatabase, "registered user %s", username)
	return &User{ID: id, Username: username, Email: email, CreatedAt: time.Unix(now.Unix(), 0)}, nil
}

// AuthenticateUser checks a password against the account identified by
// username or email.
func (s *Store) AuthenticateUser(identifier, password string) (*User, error) {
	var (
		u       User
		hash    string
		created int64
	)
	err := s.conn.QueryRow(`SELECT id, username, email, password_hash, created_at FROM users WHERE username = ? OR email = ?`,
		identifier, identifier).Scan(&u.ID, &u.Username, &u.Email, &hash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		logger.Debug(logger.AreaDatabase, "password mismatch for %s", identifier)
		return nil, ErrInvalidCredentials
	}
	u.CreatedAt = time.Unix(created, 0)
	return &u, nil
}

// SaveProgress stores the level and free-form progress of a session,
// replacing any earlier save.
func (s *Store) SaveProgress(sessionID string, level int, data json.RawMessage) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if !json.Valid(data) {
		return errors.New("progress must be valid JSON")
	}
	now := time.Now().Unix()
	_, err := s.conn.Exec(`
		INSERT INTO game_state (session_id, current_level, progress, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			current_level = excluded.current_level,
			progress = excluded.progress,
			updated_at = excluded.updated_at
	`, sessionID, level, string(data), now, now)
	if err != nil {
		return fmt.Errorf("failed to save progress: %w", err)
	}
	return nil
}

// LoadProgress returns the saved state of a session or ErrNotFound.
func (s *Store) LoadProgress(sessionID string) (*Progress, error) {
	var (
		p       = Progress{SessionID: sessionID}
		data    string
		updated int64
	)
	err := s.conn.QueryRow(`SELECT current_level, progress, updated_at FROM game_state WHERE session_id = ?`, sessionID).
		Scan(&p.Level, &data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	p.Data = json.RawMessage(data)
	p.UpdatedAt = time.Unix(updated, 0)
	return &p, nil
}

// RecordCompletion logs that username finished level after seconds.
func (s *Store) RecordCompletion(username string, level int, seconds float64) error {
	_, err := s.conn.Exec(`INSERT INTO user_progress (username, level_completed, completion_time, created_at) VALUES (?, ?, ?, ?)`,
		username, level, seconds, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record completion: %w", err)
	}
	return nil
}

// Completions lists the completions of username, newest first.
func (s *Store) Completions(username string) ([]Completion, error) {
	rows, err := s.conn.Query(`SELECT level_completed, completion_time, created_at FROM user_progress WHERE username = ? ORDER BY id DESC`, username)
	if err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	defer rows.Close()

	var out []Completion
	for rows.Next() {
		c := Completion{Username: username}
		var created int64
		if err := rows.Scan(&c.Level, &c.CompletionTime, &created); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(created, 0)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveLevel stores a validated custom level and returns its new ID.
func (s *Store) SaveLevel(owner string, l levels.Layout) (string, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("failed to encode level: %w", err)
	}
	id := uuid.New().String()
	_, err = s.conn.Exec(`INSERT INTO custom_levels (id, name, owner, data, difficulty, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, l.Name, owner, string(data), l.Difficulty, time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("failed to save level: %w", err)
	}
	logger.Info(logger.AreaDatabase, "saved custom level %q (%s) for %s", l.Name, id, owner)
	return id, nil
}

// ListLevels returns all custom levels, newest first. An empty owner lists
// every owner's levels.
func (s *Store) ListLevels(owner string) ([]LevelRecord, error) {
	query := `SELECT id, name, owner, data, difficulty, created_at FROM custom_levels`
	var args []any
	if owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at DESC, name`

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list levels: %w", err)
	}
	defer rows.Close()

	var out []LevelRecord
	for rows.Next() {
		rec, err := scanLevel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetLevel returns one custom level or ErrNotFound.
func (s *Store) GetLevel(id string) (LevelRecord, error) {
	row := s.conn.QueryRow(`SELECT id, name, owner, data, difficulty, created_at FROM custom_levels WHERE id = ?`, id)
	rec, err := scanLevel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return LevelRecord{}, ErrNotFound
	}
	return rec, err
}

// DeleteLevel removes a custom level owned by owner.
func (s *Store) DeleteLevel(id, owner string) error {
	res, err := s.conn.Exec(`DELETE FROM custom_levels WHERE id = ? AND owner = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("failed to delete level: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLevel(row scanner) (LevelRecord, error) {
	var (
		rec     LevelRecord
		data    string
		created int64
	)
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Owner, &data, &rec.Difficulty, &created); err != nil {
		return LevelRecord{}, err
	}
	if err := json.Unmarshal([]byte(data), &rec.Layout); err != nil {
		return LevelRecord{}, fmt.Errorf("corrupt level %s: %w", rec.ID, err)
	}
	rec.CreatedAt = time.Unix(created, 0)
	return rec, nil
}
