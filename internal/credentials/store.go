package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/schoolhub/session-agent/internal/logger"
)

// ErrIncompleteCredential is returned by SetAll when any token field is empty.
var ErrIncompleteCredential = errors.New("credential must carry access token, refresh token and tenant id")

// Store is the single writer of durable session state. Reads are served from
// an in-memory snapshot that is swapped only after the backend write has
// succeeded, so a reader sees either the old or the new credential, never a
// mix of both.
type Store struct {
	backend Backend
	log     zerolog.Logger

	// writeMu serializes writers; mu guards the snapshot.
	writeMu sync.Mutex
	mu      sync.RWMutex
	cred    *Credential
	profile *UserProfile
}

// NewStore wraps backend. Call Restore to load previously persisted state.
func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		log:     logger.For("credentials"),
	}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Restore loads persisted state into the snapshot and reports whether a
// complete credential was found. Unreadable or partial data is treated as
// absent.
func (s *Store) Restore(ctx context.Context) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	values, err := s.backend.Read(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("backend", s.backend.Name()).Msg("Could not read persisted credentials, treating as logged out")
		s.swap(nil, nil)
		return false
	}

	cred, profile := decode(values, s.log)
	s.swap(cred, profile)

	if cred == nil {
		s.log.Debug().Str("backend", s.backend.Name()).Msg("No persisted credentials")
		return false
	}
	s.log.Info().
		Str("backend", s.backend.Name()).
		Str("tenant_id", cred.TenantID).
		Msg("Restored persisted credentials")
	return true
}

// Get returns a single field by its persisted key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch key {
	case KeyCurrentUser:
		if s.profile == nil {
			return "", false
		}
		data, err := json.Marshal(s.profile)
		if err != nil {
			return "", false
		}
		return string(data), true
	}

	if s.cred == nil {
		return "", false
	}
	switch key {
	case KeyAccessToken:
		return s.cred.AccessToken, true
	case KeyRefreshToken:
		return s.cred.RefreshToken, true
	case KeyTenantID:
		return s.cred.TenantID, true
	case KeyExpiresAt:
		if s.cred.ExpiresAt.IsZero() {
			return "", false
		}
		return strconv.FormatInt(s.cred.ExpiresAt.UnixMilli(), 10), true
	}
	return "", false
}

// Credential returns a copy of the current credential.
func (s *Store) Credential() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cred == nil {
		return Credential{}, false
	}
	return *s.cred, true
}

// Profile returns the persisted user profile.
func (s *Store) Profile() (UserProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.profile == nil {
		return UserProfile{}, false
	}
	return *s.profile, true
}

// SetAll replaces the credential. The profile, if any, is kept.
func (s *Store) SetAll(ctx context.Context, cred Credential) error {
	if !cred.Complete() {
		return ErrIncompleteCredential
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	profile := s.profile
	s.mu.RUnlock()

	if err := s.write(ctx, &cred, profile); err != nil {
		return err
	}
	s.swap(&cred, profile)
	return nil
}

// SetProfile persists the profile next to the current credential. It fails
// with ErrIncompleteCredential when no credential is stored, since a profile
// without a session would survive a restart on its own.
func (s *Store) SetProfile(ctx context.Context, profile UserProfile) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	cred := s.cred
	s.mu.RUnlock()

	if cred == nil {
		return ErrIncompleteCredential
	}
	if err := s.write(ctx, cred, &profile); err != nil {
		return err
	}
	s.swap(cred, &profile)
	return nil
}

// ClearAll drops the credential and profile. The snapshot is cleared even when
// the backend fails so the process never keeps using a session it tried to
// end; the backend error is still returned.
func (s *Store) ClearAll(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.swap(nil, nil)
	if err := s.backend.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear credentials in %s: %w", s.backend.Name(), err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, cred *Credential, profile *UserProfile) error {
	values, err := encode(cred, profile)
	if err != nil {
		return err
	}
	if err := s.backend.Write(ctx, values); err != nil {
		return fmt.Errorf("failed to write credentials to %s: %w", s.backend.Name(), err)
	}
	return nil
}

func (s *Store) swap(cred *Credential, profile *UserProfile) {
	s.mu.Lock()
	s.cred = cred
	s.profile = profile
	s.mu.Unlock()
}

func encode(cred *Credential, profile *UserProfile) (map[string]string, error) {
	values := map[string]string{
		KeyAccessToken:  cred.AccessToken,
		KeyRefreshToken: cred.RefreshToken,
		KeyTenantID:     cred.TenantID,
	}
	if !cred.ExpiresAt.IsZero() {
		values[KeyExpiresAt] = strconv.FormatInt(cred.ExpiresAt.UnixMilli(), 10)
	}
	if profile != nil {
		data, err := json.Marshal(profile)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}
		values[KeyCurrentUser] = string(data)
	}
	return values, nil
}

// decode never fails: anything partial or unparsable comes back as absent.
func decode(values map[string]string, log zerolog.Logger) (*Credential, *UserProfile) {
	cred := Credential{
		AccessToken:  values[KeyAccessToken],
		RefreshToken: values[KeyRefreshToken],
		TenantID:     values[KeyTenantID],
	}
	if !cred.Complete() {
		if cred.AccessToken != "" || cred.RefreshToken != "" || cred.TenantID != "" {
			log.Warn().Msg("Discarding partial persisted credential")
		}
		return nil, nil
	}

	if raw, ok := values[KeyExpiresAt]; ok && raw != "" {
		millis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			log.Warn().Err(err).Msg("Discarding persisted credential with corrupt expiry")
			return nil, nil
		}
		cred.ExpiresAt = time.UnixMilli(millis)
	}

	var profile *UserProfile
	if raw, ok := values[KeyCurrentUser]; ok && raw != "" {
		var p UserProfile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			log.Warn().Err(err).Msg("Ignoring corrupt persisted profile")
		} else {
			profile = &p
		}
	}

	return &cred, profile
}
