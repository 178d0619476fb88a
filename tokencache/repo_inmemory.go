package tokencache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-sso-bridge/internal/errors"
)

type entry struct {
	session   *Session
	expiresAt time.Time
}

// InMemoryRepo is an in-memory implementation of Repo
type InMemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]entry // sessionID -> cached session
	now      func() time.Time
}

// NewInMemoryRepo creates a new in-memory token cache repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		sessions: make(map[string]entry),
		now:      time.Now,
	}
}

// Get retrieves a copy of the cached session
func (r *InMemoryRepo) Get(_ context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("sessionID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	if r.expired(e) {
		delete(r.sessions, sessionID)
		return nil, errors.ErrSessionNotFound
	}
	return e.session.clone(), nil
}

// Upsert creates or updates a cached session
func (r *InMemoryRepo) Upsert(_ context.Context, sessionID string, session *Session, ttl time.Duration) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}
	if session == nil {
		return fmt.Errorf("session is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpired()
	e := entry{session: session.clone()}
	if ttl > 0 {
		e.expiresAt = r.now().Add(ttl)
	}
	r.sessions[sessionID] = e
	return nil
}

// Delete removes a cached session
func (r *InMemoryRepo) Delete(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID) // Already doesn't exist, no error
	return nil
}

// Len is the number of stored sessions, expired or not.
func (r *InMemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *InMemoryRepo) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !r.now().Before(e.expiresAt)
}

func (r *InMemoryRepo) evictExpired() {
	for sessionID, e := range r.sessions {
		if r.expired(e) {
			delete(r.sessions, sessionID)
		}
	}
}
