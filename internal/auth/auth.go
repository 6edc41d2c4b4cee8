// Package auth provides account registration, login, and opaque bearer
// token authentication backed by the history store.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"skiff/internal/history"
)

// CookieName is the cookie that carries the session token.
const CookieName = "access_token"

// Validation and credential errors. ErrInvalidCredentials deliberately
// covers both unknown-user and wrong-password so login failures do not
// reveal which accounts exist.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNotAuthenticated   = errors.New("not authenticated")
)

// Service issues and verifies auth tokens. Tokens are random opaque
// strings stored server side with an expiry, so logout and revocation
// take effect immediately.
type Service struct {
	store    *history.Store
	tokenTTL time.Duration
}

// NewService creates an auth service. ttl bounds how long issued tokens
// stay valid.
func NewService(store *history.Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Service{store: store, tokenTTL: ttl}
}

// TokenTTL reports the configured token lifetime, for cookie expiry.
func (s *Service) TokenTTL() time.Duration { return s.tokenTTL }

// Register creates a new account with a bcrypt password hash.
func (s *Service) Register(username, email, password string) (*history.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if len(username) < 3 {
		return nil, fmt.Errorf("username must be at least 3 characters")
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email address")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	return s.store.CreateUser(username, email, string(hash))
}

// Login verifies credentials and issues a fresh token.
func (s *Service) Login(username, password string) (string, *history.User, error) {
	user, err := s.store.UserByUsername(strings.TrimSpace(username))
	if errors.Is(err, history.ErrNotFound) {
		// Burn a comparison so response timing does not differ for
		// unknown usernames.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$000000000000000000000u"), []byte(password))
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return "", nil, err
	}
	if err := s.store.SaveToken(token, user.ID, time.Now().Add(s.tokenTTL)); err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Authenticate resolves a token to its user. Unknown, revoked, and
// expired tokens all return ErrNotAuthenticated.
func (s *Service) Authenticate(token string) (*history.User, error) {
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	user, err := s.store.UserForToken(token)
	if errors.Is(err, history.ErrNotFound) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Logout revokes a token. Revoking an unknown token succeeds silently.
func (s *Service) Logout(token string) error {
	if token == "" {
		return nil
	}
	return s.store.DeleteToken(token)
}

// newToken generates a 256-bit random token, hex encoded.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
