package identity

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means the identity client could not be constructed or initialised.
	ErrUnavailable = errors.New("identity client is not available")
	// ErrInteractionRequired is returned by AcquireTokenSilent when only a redirect can produce a token.
	ErrInteractionRequired = errors.New("interaction required")
	// ErrNoAccount is returned when an operation needs an account and none was given.
	ErrNoAccount = errors.New("no account")
)

// Client is the identity library boundary the bridge drives. Every method
// that touches cached accounts or tokens works on the session carried by ctx
// (see WithSession).
type Client interface {
	Initialize(ctx context.Context) error

	// HandleRedirect consumes the pending redirect response for the session.
	// It returns nil, nil when there is none.
	HandleRedirect(ctx context.Context) (*AuthResult, error)

	ActiveAccount(ctx context.Context) (*Account, error)
	AllAccounts(ctx context.Context) ([]Account, error)
	SetActiveAccount(ctx context.Context, account *Account) error

	LoginRedirect(ctx context.Context, req RedirectRequest) error
	LogoutRedirect(ctx context.Context, req EndSessionRequest) error

	AcquireTokenSilent(ctx context.Context, req SilentRequest) (*AuthResult, error)
	AcquireTokenRedirect(ctx context.Context, req RedirectRequest) error
}

// Factory constructs a client for cfg. It must not perform network I/O;
// that belongs in Client.Initialize.
type Factory func(ctx context.Context, cfg Config) (Client, error)
