package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultPendingAuthTTL bounds how long an issued login URL stays
// redeemable. Airtable's own authorization screens expire on a similar
// horizon, so anything older is treated as never issued.
const DefaultPendingAuthTTL = 10 * time.Minute

const (
	stateEntropyBytes    = 32
	verifierEntropyBytes = 64
)

// MemoryPendingAuthStore keeps in-flight authorizations in process memory.
// Loss on restart invalidates in-flight logins, which is acceptable; the
// store must never be persisted since it holds raw code verifiers.
type MemoryPendingAuthStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]PendingAuthorization
	nowFn   func() time.Time
}

func NewMemoryPendingAuthStore(ttl time.Duration) *MemoryPendingAuthStore {
	if ttl <= 0 {
		ttl = DefaultPendingAuthTTL
	}
	return &MemoryPendingAuthStore{
		ttl:     ttl,
		entries: map[string]PendingAuthorization{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryPendingAuthStore) Save(_ context.Context, pending PendingAuthorization) error {
	if s == nil {
		return fmt.Errorf("core: pending auth store is not configured")
	}
	state := strings.TrimSpace(pending.State)
	if state == "" {
		return fmt.Errorf("core: authorization state is required")
	}
	if strings.TrimSpace(pending.CodeVerifier) == "" {
		return fmt.Errorf("core: code verifier is required")
	}

	now := s.nowFn()
	if pending.CreatedAt.IsZero() {
		pending.CreatedAt = now
	}

	s.mu.Lock()
	s.purgeLocked(now)
	s.entries[state] = pending
	s.mu.Unlock()

	return nil
}

func (s *MemoryPendingAuthStore) Consume(_ context.Context, state string) (PendingAuthorization, error) {
	if s == nil {
		return PendingAuthorization{}, fmt.Errorf("core: pending auth store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return PendingAuthorization{}, ErrInvalidState
	}

	s.mu.Lock()
	pending, ok := s.entries[state]
	if ok {
		delete(s.entries, state)
	}
	now := s.nowFn()
	s.mu.Unlock()

	if !ok {
		return PendingAuthorization{}, ErrInvalidState
	}
	if now.Sub(pending.CreatedAt) > s.ttl {
		// Expiry and unknown state surface identically on purpose: the
		// caller cannot distinguish CSRF from a stale login attempt.
		return PendingAuthorization{}, ErrInvalidState
	}
	return pending, nil
}

func (s *MemoryPendingAuthStore) PurgeExpired(_ context.Context, now time.Time) int {
	if s == nil {
		return 0
	}
	if now.IsZero() {
		now = s.nowFn()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked(now)
}

func (s *MemoryPendingAuthStore) purgeLocked(now time.Time) int {
	purged := 0
	for state, pending := range s.entries {
		if now.Sub(pending.CreatedAt) > s.ttl {
			delete(s.entries, state)
			purged++
		}
	}
	return purged
}

// NewPendingAuthorization generates the per-attempt state and PKCE verifier
// pair. State carries 32 bytes of entropy, the verifier 64, both URL-safe
// base64 without padding as the authorize endpoint requires.
func NewPendingAuthorization(now time.Time) (PendingAuthorization, error) {
	state, err := randomURLSafe(stateEntropyBytes)
	if err != nil {
		return PendingAuthorization{}, fmt.Errorf("core: generate authorization state: %w", err)
	}
	verifier, err := randomURLSafe(verifierEntropyBytes)
	if err != nil {
		return PendingAuthorization{}, fmt.Errorf("core: generate code verifier: %w", err)
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return PendingAuthorization{
		State:        state,
		CodeVerifier: verifier,
		CreatedAt:    now.UTC(),
	}, nil
}

// CodeChallengeS256 derives the PKCE challenge for a verifier.
func CodeChallengeS256(codeVerifier string) string {
	digest := sha256.Sum256([]byte(codeVerifier))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

func randomURLSafe(size int) (string, error) {
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
