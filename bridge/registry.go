package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-sso-bridge/identity"
)

// DefaultIdleTimeout is how long a session's bridge is kept without an Attach.
const DefaultIdleTimeout = 8 * time.Hour

// Registry holds the current bridge of every browser session. A bridge lives
// for one "page load": after the user agent navigates away it is replaced.
// Bridges that have not been attached for the idle timeout are dropped.
type Registry struct {
	loader  *identity.Loader
	cfg     identity.Config
	options []Option
	idle    time.Duration
	now     func() time.Time

	mu        sync.Mutex
	bridges   map[string]*registered
	lastSweep time.Time
}

type registered struct {
	bridge   *Bridge
	lastSeen time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBridgeOptions applies options to every bridge the registry creates.
func WithBridgeOptions(options ...Option) RegistryOption {
	return func(r *Registry) {
		r.options = append(r.options, options...)
	}
}

// WithIdleTimeout sets how long an unattached bridge is retained.
func WithIdleTimeout(idle time.Duration) RegistryOption {
	return func(r *Registry) {
		if idle > 0 {
			r.idle = idle
		}
	}
}

// WithClock replaces time.Now for idle tracking.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates bridges initialised with cfg.
func NewRegistry(loader *identity.Loader, cfg identity.Config, options ...RegistryOption) *Registry {
	r := &Registry{
		loader:  loader,
		cfg:     cfg,
		idle:    DefaultIdleTimeout,
		now:     time.Now,
		bridges: map[string]*registered{},
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Attach returns the session's initialised bridge, creating it if needed. A
// bridge that found the identity client unavailable is replaced, so a later
// page load tries to load the client again.
func (r *Registry) Attach(ctx context.Context, sessionID string) *Bridge {
	var stale []*Bridge

	r.mu.Lock()
	now := r.now()
	stale = r.sweep(now)
	entry, ok := r.bridges[sessionID]
	if ok && entry.bridge.Phase() == PhaseUnavailable {
		stale = append(stale, entry.bridge)
		ok = false
	}
	if !ok {
		entry = &registered{bridge: New(r.loader, sessionID, r.options...)}
		r.bridges[sessionID] = entry
	}
	entry.lastSeen = now
	b := entry.bridge
	r.mu.Unlock()

	for _, old := range stale {
		old.Close()
	}
	// The bridge outlives this request.
	b.Initialize(context.WithoutCancel(ctx), r.cfg)
	return b
}

// Reload replaces the session's bridge with a freshly initialised one, as a
// browser does when it lands back on the application after a redirect.
func (r *Registry) Reload(ctx context.Context, sessionID string) *Bridge {
	b := New(r.loader, sessionID, r.options...)
	r.mu.Lock()
	var old *Bridge
	if entry, ok := r.bridges[sessionID]; ok {
		old = entry.bridge
	}
	r.bridges[sessionID] = &registered{bridge: b, lastSeen: r.now()}
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	b.Initialize(context.WithoutCancel(ctx), r.cfg)
	return b
}

// Forget drops the session's bridge; the next Attach starts a new one.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	entry, ok := r.bridges[sessionID]
	delete(r.bridges, sessionID)
	r.mu.Unlock()

	if ok {
		entry.bridge.Close()
	}
}

// Len is the number of sessions with a live bridge.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bridges)
}

// sweep removes idle bridges, at most once per sweep interval. Must be called with r.mu held.
func (r *Registry) sweep(now time.Time) []*Bridge {
	if now.Sub(r.lastSweep) < r.sweepInterval() {
		return nil
	}
	r.lastSweep = now

	var idle []*Bridge
	for sessionID, entry := range r.bridges {
		if now.Sub(entry.lastSeen) >= r.idle {
			idle = append(idle, entry.bridge)
			delete(r.bridges, sessionID)
		}
	}
	return idle
}

func (r *Registry) sweepInterval() time.Duration {
	return min(r.idle, time.Minute)
}
