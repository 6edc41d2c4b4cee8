// Package history provides SQLite-backed persistence for users, chat
// sessions, messages, and auth tokens.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Sentinel errors for callers that map storage outcomes to HTTP status.
var (
	ErrNotFound   = errors.New("not found")
	ErrUserExists = errors.New("user already exists")
)

// User is a registered account.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Session is one conversation thread owned by a user.
type Session struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one persisted chat message. Only user and assistant turns
// are persisted; tool traffic stays in memory for the duration of a turn.
type Message struct {
	ID        int64
	SessionID string
	UserID    int64
	Role      string
	Content   string
	CreatedAt time.Time
}

// Store is the SQLite-backed persistence layer.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at dbPath and applies the
// schema. Use ":memory:" for an ephemeral store in tests.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);

	CREATE TABLE IF NOT EXISTS tokens (
		token TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_tokens_expiry ON tokens(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new account. Returns ErrUserExists when the
// username or email is already taken.
func (s *Store) CreateUser(username, email, passwordHash string) (*User, error) {
	now := time.Now().UTC()

	res, err := s.db.Exec(`
		INSERT INTO users (username, email, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, username, email, passwordHash, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "constraint failed") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}, nil
}

// UserByUsername looks up an account by username.
func (s *Store) UserByUsername(username string) (*User, error) {
	return s.scanUser(s.db.QueryRow(`
		SELECT id, username, email, password_hash, created_at
		FROM users WHERE username = ?
	`, username))
}

// UserByID looks up an account by ID.
func (s *Store) UserByID(id int64) (*User, error) {
	return s.scanUser(s.db.QueryRow(`
		SELECT id, username, email, password_hash, created_at
		FROM users WHERE id = ?
	`, id))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// GetOrCreateSession returns the session with the given ID if the user
// owns it, or creates a new session. An empty sessionID always creates
// a fresh session with a generated UUID. A sessionID owned by another
// user returns ErrNotFound rather than leaking its existence.
func (s *Store) GetOrCreateSession(sessionID string, userID int64) (*Session, error) {
	now := time.Now().UTC()

	if sessionID != "" {
		var sess Session
		err := s.db.QueryRow(`
			SELECT id, user_id, created_at, updated_at
			FROM sessions WHERE id = ?
		`, sessionID).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.UpdatedAt)
		if err == nil {
			if sess.UserID != userID {
				return nil, ErrNotFound
			}
			return &sess, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lookup session: %w", err)
		}
	} else {
		sessionID = uuid.NewString()
	}

	_, err := s.db.Exec(`
		INSERT INTO sessions (id, user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, userID, now, now)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &Session{ID: sessionID, UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
}

// SaveMessage appends a message to a session and bumps the session's
// updated_at.
func (s *Store) SaveMessage(sessionID string, userID int64, role, content string) error {
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO messages (session_id, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, userID, role, content, now); err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE sessions SET updated_at = ? WHERE id = ?
	`, now, sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	return tx.Commit()
}

// History returns a session's messages in chronological order. Returns
// ErrNotFound when the session does not exist or belongs to another user.
func (s *Store) History(sessionID string, userID int64) ([]Message, error) {
	var owner int64
	err := s.db.QueryRow(`SELECT user_id FROM sessions WHERE id = ?`, sessionID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != userID) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT id, session_id, user_id, role, content, created_at
		FROM messages WHERE session_id = ?
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SessionSummary is one row of a user's session list.
type SessionSummary struct {
	ID           string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int
}

// Sessions lists a user's sessions, most recently active first.
func (s *Store) Sessions(userID int64) ([]SessionSummary, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.created_at, s.updated_at, COUNT(m.id)
		FROM sessions s
		LEFT JOIN messages m ON m.session_id = s.id
		WHERE s.user_id = ?
		GROUP BY s.id
		ORDER BY s.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var sess SessionSummary
		if err := rows.Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt, &sess.MessageCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes one session and its messages. Returns
// ErrNotFound when the user does not own such a session.
func (s *Store) DeleteSession(sessionID string, userID int64) error {
	res, err := s.db.Exec(`
		DELETE FROM sessions WHERE id = ? AND user_id = ?
	`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllSessions removes every session the user owns and returns the
// number deleted.
func (s *Store) DeleteAllSessions(userID int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return n, nil
}

// SaveToken stores an auth token for a user.
func (s *Store) SaveToken(token string, userID int64, expiresAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO tokens (token, user_id, expires_at)
		VALUES (?, ?, ?)
	`, token, userID, expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// UserForToken resolves a token to its user. Expired or unknown tokens
// return ErrNotFound; expired rows are removed opportunistically.
func (s *Store) UserForToken(token string) (*User, error) {
	var userID int64
	var expiresAt time.Time
	err := s.db.QueryRow(`
		SELECT user_id, expires_at FROM tokens WHERE token = ?
	`, token).Scan(&userID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup token: %w", err)
	}

	if time.Now().After(expiresAt) {
		_, _ = s.db.Exec(`DELETE FROM tokens WHERE token = ?`, token)
		return nil, ErrNotFound
	}

	return s.UserByID(userID)
}

// DeleteToken revokes a token. Deleting an unknown token is not an error.
func (s *Store) DeleteToken(token string) error {
	_, err := s.db.Exec(`DELETE FROM tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// PurgeExpiredTokens removes tokens past their expiry.
func (s *Store) PurgeExpiredTokens() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM tokens WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge tokens: %w", err)
	}
	return res.RowsAffected()
}
