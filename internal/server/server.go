package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/schoolhub/session-agent/internal/credentials"
	apperrors "github.com/schoolhub/session-agent/internal/errors"
	"github.com/schoolhub/session-agent/internal/logger"
	"github.com/schoolhub/session-agent/internal/refresh"
	"github.com/schoolhub/session-agent/internal/session"
)

// SessionService is the part of the session the admin API drives.
type SessionService interface {
	Login(ctx context.Context, identifier, secret string) (credentials.UserProfile, error)
	Logout(ctx context.Context) error
	RefreshNow(ctx context.Context) (bool, error)
	Status() session.Status
}

// Server exposes session administration over HTTP.
type Server struct {
	session  SessionService
	adminKey string
	router   *mux.Router
}

// NewServer creates a server guarded by adminKey. An empty key disables every
// admin route.
func NewServer(sess SessionService, adminKey string) *Server {
	s := &Server{
		session:  sess,
		adminKey: adminKey,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(loggingMiddleware)
	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	// Admin routes sit on the root router so a method mismatch answers 405
	// instead of falling through a subrouter as 404.
	s.router.Handle("/admin/session/status", s.admin(s.statusHandler)).Methods(http.MethodGet)
	s.router.Handle("/admin/session/login", s.admin(s.loginHandler)).Methods(http.MethodPost)
	s.router.Handle("/admin/session/refresh", s.admin(s.refreshHandler)).Methods(http.MethodPost)
	s.router.Handle("/admin/session/logout", s.admin(s.logoutHandler)).Methods(http.MethodPost)
}

func (s *Server) admin(handler http.HandlerFunc) http.Handler {
	return s.adminMiddleware(handler)
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Get().Info().Msgf("Starting admin server on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

// statusHandler handles GET /admin/session/status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

// loginHandler handles POST /admin/session/login
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Get().Error().Err(err).Msg("Failed to decode login request")
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	profile, err := s.session.Login(r.Context(), req.Identifier, req.Secret)
	if err != nil {
		status := loginStatus(err)
		logger.Get().Warn().Err(err).Int("status", status).Msg("Admin login failed")
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"profile": profile,
		"status":  s.session.Status(),
	})
}

// refreshHandler handles POST /admin/session/refresh
func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	refreshed, err := s.session.RefreshNow(r.Context())
	switch {
	case apperrors.Is(err, refresh.ErrInFlight), apperrors.Is(err, refresh.ErrNotRunning),
		apperrors.Is(err, apperrors.ErrNotAuthenticated), apperrors.Is(err, apperrors.ErrAuthExpired):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		logger.Get().Error().Err(err).Msg("Manual refresh failed")
		writeError(w, http.StatusInternalServerError, "Refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   refreshed,
		"refreshed": refreshed,
		"status":    s.session.Status(),
	})
}

// logoutHandler handles POST /admin/session/logout
func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Logout(r.Context()); err != nil {
		logger.Get().Error().Err(err).Msg("Logout could not clear persisted credentials")
		writeError(w, http.StatusInternalServerError, "Failed to clear credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Logged out",
	})
}

func loginStatus(err error) int {
	switch {
	case apperrors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case apperrors.Is(err, apperrors.ErrTenantNotFound):
		return http.StatusNotFound
	case apperrors.Is(err, apperrors.ErrNetwork), apperrors.Is(err, apperrors.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Get().Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
