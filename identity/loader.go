package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Loader owns the one identity client a process may have. It is created at
// startup and shared by reference with every bridge. The first successful
// Load decides the client's configuration; later configs with a different
// ClientID are logged and ignored. A failed load leaves the Loader empty so
// a later caller can try again.
type Loader struct {
	factory  Factory
	logger   zerolog.Logger
	attempts uint
	delay    time.Duration
	timeout  time.Duration

	group singleflight.Group

	mu       sync.RWMutex
	client   Client
	clientID string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the logger used for load failures and config mismatches.
func WithLoaderLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithRetry retries client initialisation (provider discovery) before giving up.
func WithRetry(attempts uint, delay time.Duration) LoaderOption {
	return func(l *Loader) {
		if attempts > 0 {
			l.attempts = attempts
		}
		l.delay = delay
	}
}

// WithLoadTimeout bounds one shared load, including every initialisation attempt.
func WithLoadTimeout(timeout time.Duration) LoaderOption {
	return func(l *Loader) {
		l.timeout = timeout
	}
}

// DefaultLoadTimeout bounds a shared load when WithLoadTimeout is not given.
const DefaultLoadTimeout = 30 * time.Second

func NewLoader(factory Factory, options ...LoaderOption) *Loader {
	l := &Loader{
		factory:  factory,
		logger:   log.Logger,
		attempts: 1,
		timeout:  DefaultLoadTimeout,
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// Client returns the loaded client, if any.
func (l *Loader) Client() (Client, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.client, l.client != nil
}

// ClientID returns the ClientID the current client was created with.
func (l *Loader) ClientID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.clientID
}

// Load returns the process-wide client, constructing and initialising it on
// first use. Concurrent first calls share a single construction, which runs
// detached from the caller's cancellation so one abandoned request cannot fail
// the others waiting on it.
func (l *Loader) Load(ctx context.Context, cfg Config) (Client, error) {
	if client, ok := l.existing(cfg); ok {
		return client, nil
	}

	results := l.group.DoChan("client", func() (any, error) {
		if client, ok := l.Client(); ok {
			return client, nil
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
		client, err := l.create(loadCtx, cfg)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.client = client
		l.clientID = cfg.ClientID
		l.mu.Unlock()
		return client, nil
	})

	var res singleflight.Result
	select {
	case res = <-results:
	case <-ctx.Done():
		return nil, fmt.Errorf("[Loader Load] %w", ctx.Err())
	}
	if res.Err != nil {
		return nil, res.Err
	}

	l.warnOnMismatch(cfg)
	return res.Val.(Client), nil
}

func (l *Loader) existing(cfg Config) (Client, bool) {
	client, ok := l.Client()
	if ok {
		l.warnOnMismatch(cfg)
	}
	return client, ok
}

func (l *Loader) warnOnMismatch(cfg Config) {
	clientID := l.ClientID()
	if clientID != "" && clientID != cfg.ClientID {
		l.logger.Warn().
			Str("client_id", clientID).
			Str("ignored_client_id", cfg.ClientID).
			Msg("identity client already initialised with a different client id; only one client per process is supported")
	}
}

func (l *Loader) create(ctx context.Context, cfg Config) (Client, error) {
	if l.factory == nil {
		return nil, fmt.Errorf("[Loader create] no factory: %w", ErrUnavailable)
	}
	if err := cfg.Validate(); err != nil {
		l.logger.Err(err).Msg("identity client config is invalid")
		return nil, fmt.Errorf("[Loader create] invalid config %v: %w", err, ErrUnavailable)
	}

	client, err := l.factory(ctx, cfg)
	if err != nil {
		l.logger.Err(err).Msg("identity client could not be constructed")
		return nil, fmt.Errorf("[Loader create] %v: %w", err, ErrUnavailable)
	}

	err = retry.Do(
		func() error {
			return client.Initialize(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(l.attempts),
		retry.Delay(l.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			l.logger.Warn().Err(err).Uint("attempt", n+1).Msg("retrying identity client initialisation")
		}),
	)
	if err != nil {
		l.logger.Err(err).Msg("identity client could not be initialised")
		return nil, fmt.Errorf("[Loader create] %v: %w", err, ErrUnavailable)
	}
	return client, nil
}
