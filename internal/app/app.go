package app

import (
	"context"

	"github.com/schoolhub/session-agent/internal/auth"
	"github.com/schoolhub/session-agent/internal/config"
	"github.com/schoolhub/session-agent/internal/credentials"
	serverhttp "github.com/schoolhub/session-agent/internal/http"
	"github.com/schoolhub/session-agent/internal/logger"
	"github.com/schoolhub/session-agent/internal/refresh"
	"github.com/schoolhub/session-agent/internal/remote"
	"github.com/schoolhub/session-agent/internal/server"
	"github.com/schoolhub/session-agent/internal/session"
	"github.com/schoolhub/session-agent/internal/tenant"
)

// Agent is the wired session agent.
type Agent struct {
	Store   *credentials.Store
	Session *session.Session
	Server  *server.Server
}

// New wires every layer on top of backend.
func New(cfg *config.Config, backend credentials.Backend) *Agent {
	store := credentials.NewStore(backend)
	client := remote.NewClient(serverhttp.NewHTTPClient(cfg.Remote.Timeout), cfg.Remote.BaseURL)

	authenticator := auth.NewAuthenticator(tenant.NewResolver(client), client, store)
	scheduler := refresh.NewScheduler(store, client, cfg.SchedulerConfig())
	sess := session.New(store, authenticator, scheduler)

	sess.Subscribe(func(e session.Event) {
		logger.Get().Info().
			Str("event", e.Type.String()).
			Str("session_id", e.SessionID).
			Msg("Session event")
	})

	return &Agent{
		Store:   store,
		Session: sess,
		Server:  server.NewServer(sess, cfg.Admin.APIKey),
	}
}

// Restore resumes a persisted session, if any.
func (a *Agent) Restore(ctx context.Context) bool {
	if a.Session.Restore(ctx) {
		return true
	}
	logger.Get().Warn().
		Str("backend", a.Store.Backend().Name()).
		Msg("No persisted session, waiting for login via the admin API")
	return false
}

// Close stops token renewal. Persisted credentials are kept.
func (a *Agent) Close() {
	a.Session.Close()
}
