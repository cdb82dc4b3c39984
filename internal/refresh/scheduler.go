package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/schoolhub/session-agent/internal/credentials"
	apperrors "github.com/schoolhub/session-agent/internal/errors"
	"github.com/schoolhub/session-agent/internal/logger"
	"github.com/schoolhub/session-agent/internal/remote"
)

var (
	// ErrNotRunning is returned by RefreshNow when the scheduler has not been
	// started or has been stopped.
	ErrNotRunning = errors.New("refresh scheduler is not running")
	// ErrInFlight is returned by RefreshNow when another attempt is running.
	ErrInFlight = errors.New("token refresh already in progress")
)

// State is the scheduler's lifecycle state.
type State int

const (
	Idle State = iota
	Scheduled
	Refreshing
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Refreshing:
		return "refreshing"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config controls timing and retry behaviour.
type Config struct {
	// Interval between periodic checks.
	Interval time.Duration
	// InitialDelay before the first check after Start.
	InitialDelay time.Duration
	// RetryDelay between a failed attempt and its retry.
	RetryDelay time.Duration
	// MaxRetries is the number of consecutive failed attempts that ends the
	// session.
	MaxRetries int
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		Interval:     600 * time.Second,
		InitialDelay: time.Second,
		RetryDelay:   5 * time.Second,
		MaxRetries:   3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	return c
}

// Refresher performs the remote refresh call.
type Refresher interface {
	RefreshToken(ctx context.Context, tenantID, accessToken, refreshToken string) (*remote.TokenPair, error)
}

// Store is the credential access the scheduler needs.
type Store interface {
	Credential() (credentials.Credential, bool)
	SetAll(ctx context.Context, cred credentials.Credential) error
	ClearAll(ctx context.Context) error
}

// Scheduler renews the stored token pair on a fixed interval. At most one
// attempt is in flight at any time; timer ticks, retries and manual requests
// all enter through begin.
type Scheduler struct {
	store     Store
	refresher Refresher
	cfg       Config
	log       zerolog.Logger

	mu          sync.Mutex
	state       State
	retryCount  int
	gen         uint64
	ctx         context.Context
	cancel      context.CancelFunc
	onExpired   func()
	onAbandoned func()
	lastSuccess time.Time
}

func NewScheduler(store Store, refresher Refresher, cfg Config) *Scheduler {
	return &Scheduler{
		store:     store,
		refresher: refresher,
		cfg:       cfg.withDefaults(),
		log:       logger.For("refresh"),
		state:     Idle,
	}
}

// OnExpired registers the callback run once when retries are exhausted. The
// store has already been cleared when it runs.
func (s *Scheduler) OnExpired(fn func()) {
	s.mu.Lock()
	s.onExpired = fn
	s.mu.Unlock()
}

// OnAbandoned registers the callback run when a cycle finds no complete
// credential in the store and the scheduler stops on its own.
func (s *Scheduler) OnAbandoned(fn func()) {
	s.mu.Lock()
	s.onAbandoned = fn
	s.mu.Unlock()
}

// Start arms the periodic timer plus one early check. Calling Start on a
// running scheduler replaces the previous timers.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.gen++
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.state = Scheduled
	s.retryCount = 0

	s.log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("initial_delay", s.cfg.InitialDelay).
		Msg("Starting periodic token refresh")

	go s.loop(s.ctx, s.gen)
}

// Stop cancels pending timers, retries and any in-flight call. Safe to call
// in any state, any number of times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Stopped {
		return
	}
	s.stopLocked()
	s.state = Stopped
	s.log.Info().Msg("Stopped periodic token refresh")
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RetryCount returns the number of consecutive failed attempts.
func (s *Scheduler) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

// LastSuccess returns when the token pair was last renewed.
func (s *Scheduler) LastSuccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSuccess
}

// RefreshNow runs a refresh cycle in the caller's goroutine, retries
// included. It reports whether the token pair was renewed. ctx only bounds
// this call; Stop still cancels it.
func (s *Scheduler) RefreshNow(ctx context.Context) (bool, error) {
	s.mu.Lock()
	switch s.state {
	case Refreshing:
		s.mu.Unlock()
		return false, ErrInFlight
	case Scheduled:
	default:
		s.mu.Unlock()
		return false, ErrNotRunning
	}
	gen, runCtx := s.gen, s.ctx
	s.state = Refreshing
	s.mu.Unlock()

	cycleCtx, cancel := context.WithCancel(runCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	s.log.Info().Msg("Manual token refresh requested")
	return s.runCycle(cycleCtx, gen), nil
}

func (s *Scheduler) stopLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	// Bumping the generation orphans any cycle still unwinding.
	s.gen++
}

func (s *Scheduler) loop(ctx context.Context, gen uint64) {
	initial := time.NewTimer(s.cfg.InitialDelay)
	defer initial.Stop()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-initial.C:
			s.trigger(ctx, gen, "initial")
		case <-ticker.C:
			s.trigger(ctx, gen, "interval")
		}
	}
}

// trigger is the timer entry point. A tick that lands while a cycle is
// running is dropped.
func (s *Scheduler) trigger(ctx context.Context, gen uint64, reason string) {
	if !s.begin(gen) {
		s.log.Debug().Str("reason", reason).Msg("Token refresh already in progress, skipping tick")
		return
	}
	s.log.Debug().Str("reason", reason).Msg("Running token refresh check")
	go s.runCycle(ctx, gen)
}

func (s *Scheduler) begin(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != Scheduled {
		return false
	}
	s.state = Refreshing
	return true
}

// runCycle performs one attempt and its retries. The caller has already moved
// the state to Refreshing.
func (s *Scheduler) runCycle(ctx context.Context, gen uint64) bool {
	for {
		cred, ok := s.store.Credential()
		if !ok {
			s.abandon(gen)
			return false
		}

		pair, err := s.refresher.RefreshToken(ctx, cred.TenantID, cred.AccessToken, cred.RefreshToken)
		if ctx.Err() != nil {
			s.release(gen)
			return false
		}
		if err == nil && (pair == nil || pair.AccessToken == "" || pair.RefreshToken == "") {
			err = fmt.Errorf("%w: refresh response is missing tokens", apperrors.ErrMalformedResponse)
		}
		if err == nil {
			err = s.commit(ctx, gen, cred, pair)
			if err == nil {
				return true
			}
			if errors.Is(err, errStale) {
				return false
			}
		}

		if !s.recordFailure(gen, err) {
			return false
		}

		retry := time.NewTimer(s.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			retry.Stop()
			s.release(gen)
			return false
		case <-retry.C:
		}
	}
}

var errStale = errors.New("refresh cycle superseded")

// commit writes the new pair while holding the scheduler lock, so a
// concurrent Stop either waits for the write or prevents it.
func (s *Scheduler) commit(ctx context.Context, gen uint64, cred credentials.Credential, pair *remote.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.state != Refreshing {
		return errStale
	}

	expiresAt := pair.ExpiresAt()
	if expiresAt.IsZero() {
		expiresAt = credentials.TokenExpiry(pair.AccessToken)
	}
	if err := s.store.SetAll(ctx, cred.WithTokens(pair.AccessToken, pair.RefreshToken, expiresAt)); err != nil {
		return err
	}

	s.retryCount = 0
	s.state = Scheduled
	s.lastSuccess = time.Now()
	s.log.Info().
		Str("access_token", logger.MaskToken(pair.AccessToken)).
		Time("expires_at", expiresAt).
		Msg("Token refresh successful")
	return nil
}

// recordFailure counts a failed attempt and reports whether to retry. On
// exhaustion it stops the scheduler, clears the store and fires the expired
// callback. The store is cleared under the lock so a cycle superseded by
// Start or Stop can never wipe a newer credential.
func (s *Scheduler) recordFailure(gen uint64, cause error) bool {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return false
	}

	s.retryCount++
	if s.retryCount < s.cfg.MaxRetries {
		s.log.Warn().
			Err(cause).
			Int("attempt", s.retryCount).
			Dur("retry_in", s.cfg.RetryDelay).
			Msg("Token refresh failed, retrying")
		s.mu.Unlock()
		return true
	}

	s.log.Error().
		Err(cause).
		Int("attempts", s.retryCount).
		Msg("Token refresh retries exhausted, ending session")
	s.stopLocked()
	s.state = Stopped
	if err := s.store.ClearAll(context.Background()); err != nil {
		s.log.Error().Err(err).Msg("Failed to clear credentials after refresh failure")
	}
	onExpired := s.onExpired
	s.mu.Unlock()

	if onExpired != nil {
		onExpired()
	}
	return false
}

// abandon handles a store with no complete credential: there is no session to
// keep alive, so the scheduler stops quietly.
func (s *Scheduler) abandon(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.log.Warn().Msg("No credentials to refresh, stopping periodic token refresh")
	s.stopLocked()
	s.state = Stopped
	onAbandoned := s.onAbandoned
	s.mu.Unlock()

	if onAbandoned != nil {
		onAbandoned()
	}
}

// release returns a cancelled cycle's slot if it still owns the scheduler.
// This only happens when a manual caller's own context was cancelled.
func (s *Scheduler) release(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.gen && s.state == Refreshing {
		s.state = Scheduled
	}
}
