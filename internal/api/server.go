// Package api implements the HTTP surface: auth endpoints, the chat
// endpoint that drives the orchestrator, and session management.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"skiff/internal/agent"
	"skiff/internal/auth"
	"skiff/internal/buildinfo"
	"skiff/internal/history"
	"skiff/internal/llm"
)

type contextKey int

const userKey contextKey = 0

// Server is the HTTP API server.
type Server struct {
	address       string
	port          int
	auth          *auth.Service
	store         *history.Store
	orchestrator  *agent.Orchestrator
	secureCookies bool
	logger        *slog.Logger
	server        *http.Server
}

// NewServer wires the API surface.
func NewServer(address string, port int, authSvc *auth.Service, store *history.Store, orch *agent.Orchestrator, secureCookies bool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:       address,
		port:          port,
		auth:          authSvc,
		store:         store,
		orchestrator:  orch,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// Handler builds the route table. Split out from Start so tests can
// exercise the full surface with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.HandleFunc("GET /auth/me", s.requireUser(s.handleMe))

	mux.HandleFunc("POST /chat", s.requireUser(s.handleChat))
	mux.HandleFunc("POST /chat/new", s.requireUser(s.handleNewChat))
	mux.HandleFunc("GET /chat/history/{session_id}", s.requireUser(s.handleChatHistory))
	mux.HandleFunc("GET /chat/sessions", s.requireUser(s.handleSessions))
	mux.HandleFunc("DELETE /chat/sessions/{session_id}", s.requireUser(s.handleDeleteSession))
	mux.HandleFunc("DELETE /chat/sessions", s.requireUser(s.handleDeleteAllSessions))

	mux.HandleFunc("GET /health", s.handleHealth)

	return s.withLogging(mux)
}

// Start runs the server until ctx is cancelled or ListenAndServe fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("api server listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// requireUser authenticates the access_token cookie and stashes the
// user in the request context.
func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(auth.CookieName)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}

		user, err := s.auth.Authenticate(cookie.Value)
		if errors.Is(err, auth.ErrNotAuthenticated) {
			s.writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if err != nil {
			s.logger.Error("authentication lookup failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	}
}

func currentUser(r *http.Request) *history.User {
	user, _ := r.Context().Value(userKey).(*history.User)
	return user
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.auth.Register(req.Username, req.Email, req.Password)
	if errors.Is(err, history.ErrUserExists) {
		s.writeError(w, http.StatusConflict, "username or email already registered")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("user registered", "username", user.Username)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, user, err := s.auth.Login(req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("login failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.setTokenCookie(w, token, s.auth.TokenTTL())
	s.writeJSON(w, map[string]any{"username": user.Username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(auth.CookieName); err == nil {
		if err := s.auth.Logout(cookie.Value); err != nil {
			s.logger.Warn("token revocation failed", "error", err)
		}
	}
	s.setTokenCookie(w, "", -time.Hour)
	s.writeJSON(w, map[string]any{"message": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	s.writeJSON(w, map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
	})
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	session, err := s.store.GetOrCreateSession(req.SessionID, user.ID)
	if errors.Is(err, history.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error("session lookup failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	past, err := s.store.History(session.ID, user.ID)
	if err != nil {
		s.logger.Error("history load failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	modelHistory := make([]llm.Message, 0, len(past))
	for _, m := range past {
		modelHistory = append(modelHistory, llm.Message{Role: m.Role, Content: m.Content})
	}

	if err := s.store.SaveMessage(session.ID, user.ID, "user", req.Message); err != nil {
		s.logger.Error("persisting user message failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	result := s.orchestrator.Run(r.Context(), modelHistory, req.Message)

	if err := s.store.SaveMessage(session.ID, user.ID, "assistant", result.Reply); err != nil {
		s.logger.Error("persisting assistant reply failed", "error", err)
	}

	s.logger.Info("chat turn complete",
		"session", session.ID,
		"model_calls", result.ModelCalls,
		"tool_calls", result.ToolCalls)

	s.writeJSON(w, chatResponse{Reply: result.Reply, SessionID: session.ID})
}

func (s *Server) handleNewChat(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	session, err := s.store.GetOrCreateSession("", user.ID)
	if err != nil {
		s.logger.Error("session creation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, map[string]string{"session_id": session.ID})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	sessionID := r.PathValue("session_id")

	messages, err := s.store.History(sessionID, user.ID)
	if errors.Is(err, history.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error("history load failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]any{
			"role":       m.Role,
			"content":    m.Content,
			"created_at": m.CreatedAt.Format(time.RFC3339),
		})
	}
	s.writeJSON(w, map[string]any{"session_id": sessionID, "messages": out})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	sessions, err := s.store.Sessions(user.ID)
	if err != nil {
		s.logger.Error("session list failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, map[string]any{
			"session_id":    sess.ID,
			"created_at":    sess.CreatedAt.Format(time.RFC3339),
			"updated_at":    sess.UpdatedAt.Format(time.RFC3339),
			"message_count": sess.MessageCount,
		})
	}
	s.writeJSON(w, map[string]any{"sessions": out})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	sessionID := r.PathValue("session_id")

	err := s.store.DeleteSession(sessionID, user.ID)
	if errors.Is(err, history.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found or access denied")
		return
	}
	if err != nil {
		s.logger.Error("session delete failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, map[string]string{"message": "Session deleted successfully"})
}

func (s *Server) handleDeleteAllSessions(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	count, err := s.store.DeleteAllSessions(user.ID)
	if err != nil {
		s.logger.Error("session purge failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, map[string]any{
		"message": fmt.Sprintf("Deleted %d session(s) successfully", count),
		"count":   count,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":  "ok",
		"version": buildinfo.Version,
		"uptime":  buildinfo.Uptime().String(),
	})
}

func (s *Server) setTokenCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}
