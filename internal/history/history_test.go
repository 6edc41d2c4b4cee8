package history

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateUser_Duplicate(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.CreateUser("alice", "alice@example.com", "hash"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := store.CreateUser("alice", "other@example.com", "hash"); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate username error = %v, want ErrUserExists", err)
	}
	if _, err := store.CreateUser("bob", "alice@example.com", "hash"); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate email error = %v, want ErrUserExists", err)
	}
}

func TestUserLookup(t *testing.T) {
	store := newTestStore(t)

	created, err := store.CreateUser("alice", "alice@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	byName, err := store.UserByUsername("alice")
	if err != nil {
		t.Fatalf("UserByUsername: %v", err)
	}
	if byName.ID != created.ID || byName.Email != "alice@example.com" {
		t.Errorf("UserByUsername = %+v", byName)
	}

	if _, err := store.UserByUsername("nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown user error = %v, want ErrNotFound", err)
	}
}

func TestGetOrCreateSession(t *testing.T) {
	store := newTestStore(t)
	alice, _ := store.CreateUser("alice", "alice@example.com", "hash")
	bob, _ := store.CreateUser("bob", "bob@example.com", "hash")

	// Empty ID creates a fresh session.
	sess, err := store.GetOrCreateSession("", alice.ID)
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected generated session ID")
	}

	// Same ID returns the same session.
	again, err := store.GetOrCreateSession(sess.ID, alice.ID)
	if err != nil {
		t.Fatalf("GetOrCreateSession existing: %v", err)
	}
	if again.ID != sess.ID {
		t.Errorf("session ID changed: %q != %q", again.ID, sess.ID)
	}

	// Another user cannot attach to it.
	if _, err := store.GetOrCreateSession(sess.ID, bob.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user session error = %v, want ErrNotFound", err)
	}
}

func TestMessagesAndHistory(t *testing.T) {
	store := newTestStore(t)
	alice, _ := store.CreateUser("alice", "alice@example.com", "hash")
	bob, _ := store.CreateUser("bob", "bob@example.com", "hash")
	sess, _ := store.GetOrCreateSession("", alice.ID)

	for _, m := range []struct{ role, content string }{
		{"user", "list my files"},
		{"assistant", "[Backend: Google Drive] Files: a.txt"},
		{"user", "thanks"},
	} {
		if err := store.SaveMessage(sess.ID, alice.ID, m.role, m.content); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	msgs, err := store.History(sess.ID, alice.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("order wrong: %+v", msgs)
	}

	// History is owner-scoped.
	if _, err := store.History(sess.ID, bob.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user history error = %v, want ErrNotFound", err)
	}
	if _, err := store.History("no-such-session", alice.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown session history error = %v, want ErrNotFound", err)
	}
}

func TestSessionsListAndDelete(t *testing.T) {
	store := newTestStore(t)
	alice, _ := store.CreateUser("alice", "alice@example.com", "hash")

	s1, _ := store.GetOrCreateSession("", alice.ID)
	s2, _ := store.GetOrCreateSession("", alice.ID)
	store.SaveMessage(s1.ID, alice.ID, "user", "hi")
	store.SaveMessage(s1.ID, alice.ID, "assistant", "hello")
	store.SaveMessage(s2.ID, alice.ID, "user", "hey")

	sessions, err := store.Sessions(alice.ID)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}

	counts := map[string]int{}
	for _, s := range sessions {
		counts[s.ID] = s.MessageCount
	}
	if counts[s1.ID] != 2 || counts[s2.ID] != 1 {
		t.Errorf("message counts = %v", counts)
	}

	if err := store.DeleteSession(s1.ID, alice.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if err := store.DeleteSession(s1.ID, alice.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}

	n, err := store.DeleteAllSessions(alice.ID)
	if err != nil {
		t.Fatalf("DeleteAllSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d sessions, want 1", n)
	}
}

func TestTokens(t *testing.T) {
	store := newTestStore(t)
	alice, _ := store.CreateUser("alice", "alice@example.com", "hash")

	if err := store.SaveToken("tok-live", alice.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if err := store.SaveToken("tok-dead", alice.ID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("SaveToken expired: %v", err)
	}

	user, err := store.UserForToken("tok-live")
	if err != nil {
		t.Fatalf("UserForToken: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("user = %+v", user)
	}

	if _, err := store.UserForToken("tok-dead"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired token error = %v, want ErrNotFound", err)
	}
	if _, err := store.UserForToken("tok-unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown token error = %v, want ErrNotFound", err)
	}

	if err := store.DeleteToken("tok-live"); err != nil {
		t.Fatalf("DeleteToken: %v", err)
	}
	if _, err := store.UserForToken("tok-live"); !errors.Is(err, ErrNotFound) {
		t.Errorf("revoked token error = %v, want ErrNotFound", err)
	}
}

func TestPurgeExpiredTokens(t *testing.T) {
	store := newTestStore(t)
	alice, _ := store.CreateUser("alice", "alice@example.com", "hash")

	store.SaveToken("a", alice.ID, time.Now().Add(-time.Minute))
	store.SaveToken("b", alice.ID, time.Now().Add(time.Minute))

	n, err := store.PurgeExpiredTokens()
	if err != nil {
		t.Fatalf("PurgeExpiredTokens: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d tokens, want 1", n)
	}
}
