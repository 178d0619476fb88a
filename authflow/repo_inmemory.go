package authflow

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-sso-bridge/internal/errors"
)

type entry struct {
	flow      *Flow
	expiresAt time.Time
}

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu    sync.Mutex
	flows map[string]entry
	now   func() time.Time
}

// NewInMemoryRepo creates a new in-memory auth flow repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		flows: make(map[string]entry),
		now:   time.Now,
	}
}

// Upsert stores or updates a flow
func (r *InMemoryRepo) Upsert(_ context.Context, state string, flow *Flow, ttl time.Duration) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if flow == nil {
		return errors.New("flow cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpired()
	e := entry{flow: flow.clone()}
	if ttl > 0 {
		e.expiresAt = r.now().Add(ttl)
	}
	r.flows[state] = e
	return nil
}

// Get retrieves a flow by state parameter
func (r *InMemoryRepo) Get(_ context.Context, state string) (*Flow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(state)
	if err != nil {
		return nil, err
	}
	return e.flow.clone(), nil
}

func (r *InMemoryRepo) Take(_ context.Context, state string) (*Flow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.lookup(state)
	if err != nil {
		return nil, err
	}
	delete(r.flows, state)
	return e.flow, nil
}

// Delete removes a flow
func (r *InMemoryRepo) Delete(_ context.Context, state string) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flows, state)
	return nil
}

func (r *InMemoryRepo) lookup(state string) (entry, error) {
	if state == "" {
		return entry{}, errors.ErrInvalidState
	}
	e, ok := r.flows[state]
	if !ok {
		return entry{}, errors.ErrStateNotFound
	}
	if r.expired(e) {
		delete(r.flows, state)
		return entry{}, errors.ErrStateNotFound
	}
	return e, nil
}

func (r *InMemoryRepo) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !r.now().Before(e.expiresAt)
}

func (r *InMemoryRepo) evictExpired() {
	for state, e := range r.flows {
		if r.expired(e) {
			delete(r.flows, state)
		}
	}
}
