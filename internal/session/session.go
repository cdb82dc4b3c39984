package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/schoolhub/session-agent/internal/auth"
	"github.com/schoolhub/session-agent/internal/credentials"
	apperrors "github.com/schoolhub/session-agent/internal/errors"
	"github.com/schoolhub/session-agent/internal/logger"
	"github.com/schoolhub/session-agent/internal/refresh"
)

// EventType identifies why a session ended.
type EventType int

const (
	// AuthExpired fires when token renewal gave up. The store is already
	// cleared; collaborators should send the user back to login.
	AuthExpired EventType = iota + 1
	// SessionEnded fires on explicit logout.
	SessionEnded
)

func (t EventType) String() string {
	switch t {
	case AuthExpired:
		return "auth_expired"
	case SessionEnded:
		return "session_ended"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is delivered to subscribers.
type Event struct {
	Type      EventType
	SessionID string
	At        time.Time
}

// Store is the credential access the session needs.
type Store interface {
	Restore(ctx context.Context) bool
	Credential() (credentials.Credential, bool)
	Profile() (credentials.UserProfile, bool)
	SetProfile(ctx context.Context, profile credentials.UserProfile) error
	ClearAll(ctx context.Context) error
}

// Authenticator performs the login flow and persists its credential.
type Authenticator interface {
	Login(ctx context.Context, identifier, secret string) (*auth.LoginResult, error)
}

// Scheduler keeps the stored token pair fresh.
type Scheduler interface {
	Start()
	Stop()
	OnExpired(fn func())
	OnAbandoned(fn func())
	RefreshNow(ctx context.Context) (bool, error)
	State() refresh.State
	RetryCount() int
	LastSuccess() time.Time
}

// expiringSoonWindow matches the default refresh interval: a token inside it
// may lapse before the next scheduled check.
const expiringSoonWindow = 10 * time.Minute

// Status is a token-free snapshot of the session. A session whose scheduler
// found the store empty reports itself inactive.
type Status struct {
	Active       bool                     `json:"active"`
	SessionID    string                   `json:"sessionId,omitempty"`
	TenantID     string                   `json:"tenantId,omitempty"`
	Profile      *credentials.UserProfile `json:"profile,omitempty"`
	ExpiresAt    *time.Time               `json:"expiresAt,omitempty"`
	ExpiringSoon bool                     `json:"expiringSoon"`
	Scheduler   string                   `json:"scheduler"`
	RetryCount  int                      `json:"retryCount"`
	LastRefresh *time.Time               `json:"lastRefresh,omitempty"`
}

// Session is the entry point for everything that needs to know who is logged
// in. Construct one per process and pass it by reference.
type Session struct {
	store         Store
	authenticator Authenticator
	scheduler     Scheduler
	log           zerolog.Logger

	// lifecycle serializes starting and ending sessions with the scheduler's
	// callbacks.
	lifecycle sync.Mutex

	mu      sync.Mutex
	active  bool
	expired bool
	id      string
	subs    map[int]func(Event)
	nextSub int
}

func New(store Store, authenticator Authenticator, scheduler Scheduler) *Session {
	s := &Session{
		store:         store,
		authenticator: authenticator,
		scheduler:     scheduler,
		log:           logger.For("session"),
		subs:          make(map[int]func(Event)),
	}
	scheduler.OnExpired(s.handleExpired)
	scheduler.OnAbandoned(s.handleAbandoned)
	return s
}

// Login authenticates and starts token renewal. The identifier doubles as
// the profile's display name until SetProfile replaces it. Renewal of any
// running session stops before the new credential is written; if the login
// fails the previous session resumes.
func (s *Session) Login(ctx context.Context, identifier, secret string) (credentials.UserProfile, error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.Active() {
		s.scheduler.Stop()
	}
	result, err := s.authenticator.Login(ctx, identifier, secret)
	if err != nil {
		s.log.Warn().Err(err).Msg("Login failed")
		s.resume()
		return credentials.UserProfile{}, err
	}

	profile := credentials.UserProfile{
		Name:   strings.TrimSpace(identifier),
		UserID: result.UserID,
	}
	if err := s.store.SetProfile(ctx, profile); err != nil {
		s.log.Warn().Err(err).Msg("Could not persist user profile")
	}

	id := s.activate()
	s.log.Info().
		Str("session_id", id).
		Str("tenant_id", result.Credential.TenantID).
		Str("user_id", result.UserID).
		Msg("Logged in")
	return profile, nil
}

// Restore resumes a persisted session without re-authenticating. It reports
// whether a session was found.
func (s *Session) Restore(ctx context.Context) bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.store.Restore(ctx) {
		return false
	}
	cred, ok := s.store.Credential()
	if !ok {
		return false
	}

	id := s.activate()
	s.log.Info().
		Str("session_id", id).
		Str("tenant_id", cred.TenantID).
		Msg("Resumed persisted session")
	return true
}

// resume restarts renewal for a session a failed login interrupted.
func (s *Session) resume() {
	if !s.Active() {
		return
	}
	if _, ok := s.store.Credential(); ok {
		s.scheduler.Start()
	}
}

func (s *Session) activate() string {
	s.mu.Lock()
	s.active = true
	s.expired = false
	s.id = uuid.NewString()
	id := s.id
	s.mu.Unlock()

	s.scheduler.Start()
	return id
}

// deactivate marks the session ended and returns its id. ok is false when no
// session was active, which makes every ending path fire at most once.
func (s *Session) deactivate(expired bool) (id string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return "", false
	}
	s.active = false
	s.expired = expired
	id, s.id = s.id, ""
	return id, true
}

// Logout ends the session: renewal stops, the store is cleared and
// subscribers get SessionEnded. Logging out twice is a no-op.
func (s *Session) Logout(ctx context.Context) error {
	s.lifecycle.Lock()
	id, ok := s.deactivate(false)
	if !ok {
		s.lifecycle.Unlock()
		return nil
	}

	s.scheduler.Stop()
	err := s.store.ClearAll(ctx)
	s.lifecycle.Unlock()
	if err != nil {
		s.log.Error().Err(err).Str("session_id", id).Msg("Failed to clear credentials on logout")
	}

	s.log.Info().Str("session_id", id).Msg("Logged out")
	s.emit(Event{Type: SessionEnded, SessionID: id, At: time.Now()})
	return err
}

// ending claims the session for a scheduler callback. A callback that lost
// the race to a newer Login or Restore finds the scheduler running again and
// is dropped.
func (s *Session) ending(expired bool) (string, bool) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.scheduler.State() != refresh.Stopped {
		return "", false
	}
	return s.deactivate(expired)
}

func (s *Session) handleExpired() {
	id, ok := s.ending(true)
	if !ok {
		return
	}
	s.log.Warn().Str("session_id", id).Msg("Session expired, login required")
	s.emit(Event{Type: AuthExpired, SessionID: id, At: time.Now()})
}

// handleAbandoned ends a session whose credential vanished from the store.
// Nobody logged out and nothing expired, so no event fires.
func (s *Session) handleAbandoned() {
	if id, ok := s.ending(false); ok {
		s.log.Warn().Str("session_id", id).Msg("Stored credential disappeared, session ended")
	}
}

// Close stops renewal but keeps the persisted credential for the next
// Restore.
func (s *Session) Close() {
	s.scheduler.Stop()
}

// Subscribe registers fn for session events and returns a function that
// removes it. Handlers run synchronously on the goroutine that ended the
// session.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	key := s.nextSub
	s.nextSub++
	s.subs[key] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, key)
		s.mu.Unlock()
	}
}

func (s *Session) emit(event Event) {
	s.mu.Lock()
	handlers := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		handlers = append(handlers, fn)
	}
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(event)
	}
}

// Active reports whether a session is running.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// credential returns ErrAuthExpired after renewal gave up, until the next
// login.
func (s *Session) credential() (credentials.Credential, error) {
	s.mu.Lock()
	active, expired := s.active, s.expired
	s.mu.Unlock()
	if expired {
		return credentials.Credential{}, apperrors.ErrAuthExpired
	}
	if !active {
		return credentials.Credential{}, apperrors.ErrNotAuthenticated
	}
	cred, ok := s.store.Credential()
	if !ok {
		return credentials.Credential{}, apperrors.ErrNotAuthenticated
	}
	return cred, nil
}

// AccessToken returns the current access token.
func (s *Session) AccessToken() (string, error) {
	cred, err := s.credential()
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// TenantID returns the tenant the session is scoped to.
func (s *Session) TenantID() (string, error) {
	cred, err := s.credential()
	if err != nil {
		return "", err
	}
	return cred.TenantID, nil
}

// CurrentUser returns the logged in user's profile.
func (s *Session) CurrentUser() (credentials.UserProfile, bool) {
	if !s.Active() {
		return credentials.UserProfile{}, false
	}
	return s.store.Profile()
}

// SetProfile replaces the stored profile, e.g. once the caller has fetched
// the user's real name and role.
func (s *Session) SetProfile(ctx context.Context, profile credentials.UserProfile) error {
	if !s.Active() {
		return apperrors.ErrNotAuthenticated
	}
	return s.store.SetProfile(ctx, profile)
}

// RefreshNow renews the token pair immediately through the scheduler.
func (s *Session) RefreshNow(ctx context.Context) (bool, error) {
	if !s.Active() {
		return false, apperrors.ErrNotAuthenticated
	}
	return s.scheduler.RefreshNow(ctx)
}

func (s *Session) Status() Status {
	s.mu.Lock()
	status := Status{Active: s.active, SessionID: s.id}
	s.mu.Unlock()

	status.Scheduler = s.scheduler.State().String()
	status.RetryCount = s.scheduler.RetryCount()
	if last := s.scheduler.LastSuccess(); !last.IsZero() {
		status.LastRefresh = &last
	}
	if !status.Active {
		return status
	}

	if cred, ok := s.store.Credential(); ok {
		status.TenantID = cred.TenantID
		if !cred.ExpiresAt.IsZero() {
			expiresAt := cred.ExpiresAt
			status.ExpiresAt = &expiresAt
		}
		status.ExpiringSoon = cred.ExpiresWithin(expiringSoonWindow, time.Now())
	}
	if profile, ok := s.store.Profile(); ok {
		status.Profile = &profile
	}
	return status
}
