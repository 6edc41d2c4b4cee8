package auth

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"skiff/internal/history"
)

func newTestService(t *testing.T, ttl time.Duration) *Service {
	t.Helper()
	store, err := history.NewStore(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewService(store, ttl)
}

func TestRegister_Validation(t *testing.T) {
	svc := newTestService(t, time.Hour)

	tests := []struct {
		name     string
		username string
		email    string
		password string
		wantErr  bool
	}{
		{"valid", "alice", "alice@example.com", "hunter2hunter2", false},
		{"short username", "al", "al@example.com", "hunter2hunter2", true},
		{"bad email", "bob", "not-an-email", "hunter2hunter2", true},
		{"short password", "carol", "carol@example.com", "short", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(tt.username, tt.email, tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("Register error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegister_HashesPassword(t *testing.T) {
	svc := newTestService(t, time.Hour)

	user, err := svc.Register("alice", "alice@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.PasswordHash == "correct horse battery" {
		t.Error("password stored in plaintext")
	}
	if user.PasswordHash == "" {
		t.Error("empty password hash")
	}
}

func TestLoginAndAuthenticate(t *testing.T) {
	svc := newTestService(t, time.Hour)
	svc.Register("alice", "alice@example.com", "correct horse battery")

	token, user, err := svc.Login("alice", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" || user.Username != "alice" {
		t.Fatalf("token = %q, user = %+v", token, user)
	}

	got, err := svc.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("authenticated user %d, want %d", got.ID, user.ID)
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	svc := newTestService(t, time.Hour)
	svc.Register("alice", "alice@example.com", "correct horse battery")

	if _, _, err := svc.Login("alice", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Login("nobody", "whatever12345"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogout_RevokesToken(t *testing.T) {
	svc := newTestService(t, time.Hour)
	svc.Register("alice", "alice@example.com", "correct horse battery")
	token, _, _ := svc.Login("alice", "correct horse battery")

	if err := svc.Logout(token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := svc.Authenticate(token); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("revoked token error = %v, want ErrNotAuthenticated", err)
	}

	// Logging out again is fine.
	if err := svc.Logout(token); err != nil {
		t.Errorf("repeat Logout: %v", err)
	}
}

func TestAuthenticate_ExpiredToken(t *testing.T) {
	svc := newTestService(t, time.Millisecond)
	svc.Register("alice", "alice@example.com", "correct horse battery")
	token, _, _ := svc.Login("alice", "correct horse battery")

	time.Sleep(5 * time.Millisecond)

	if _, err := svc.Authenticate(token); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("expired token error = %v, want ErrNotAuthenticated", err)
	}
}

func TestAuthenticate_EmptyToken(t *testing.T) {
	svc := newTestService(t, time.Hour)
	if _, err := svc.Authenticate(""); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("empty token error = %v, want ErrNotAuthenticated", err)
	}
}
