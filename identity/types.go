package identity

import (
	"context"
	"regexp"
	"slices"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const (
	// DefaultTenant is the multi-tenant authority segment used when no tenant is configured.
	DefaultTenant = "common"
	// DefaultScope is requested when the caller does not ask for any scopes.
	DefaultScope = "User.Read"
)

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9.\-]+$`)

// Config is the per-application registration a bridge authenticates with.
// It is immutable once handed to a Loader.
type Config struct {
	ClientID    string
	TenantID    string   // default "common"
	RedirectURI string   // default: the service's callback URL
	Scopes      []string // default ["User.Read"]
}

// Tenant returns the configured tenant or DefaultTenant.
func (c Config) Tenant() string {
	if c.TenantID == "" {
		return DefaultTenant
	}
	return c.TenantID
}

// ScopesOrDefault returns a copy of the configured scopes, falling back to DefaultScope.
func (c Config) ScopesOrDefault() []string {
	if len(c.Scopes) == 0 {
		return []string{DefaultScope}
	}
	return slices.Clone(c.Scopes)
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ClientID, validation.Required),
		validation.Field(&c.TenantID, validation.Match(tenantPattern)),
		validation.Field(&c.RedirectURI, is.URL),
	)
}

// Account is the identity client's view of a signed-in user.
type Account struct {
	HomeAccountID  string `json:"homeAccountId"`
	Environment    string `json:"environment"`
	TenantID       string `json:"tenantId"`
	Username       string `json:"username"`
	LocalAccountID string `json:"localAccountId"`
	Name           string `json:"name"`
	LoginHint      string `json:"loginHint,omitempty"`
}

// AuthResult is returned by a completed redirect or a silent token acquisition.
type AuthResult struct {
	Account     *Account
	AccessToken string
	IDToken     string
	Scopes      []string
	ExpiresOn   time.Time
}

// Navigator moves the user agent to target. Redirect based operations hand
// their provider URL to it and do not return a result themselves.
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, target string) error

func (f NavigatorFunc) Navigate(ctx context.Context, target string) error {
	return f(ctx, target)
}

// RedirectRequest starts an interactive sign-in or token acquisition.
type RedirectRequest struct {
	Scopes    []string
	LoginHint string
	Prompt    string
	ReturnURL string
	Navigator Navigator
}

// SilentRequest asks for a token without user interaction.
type SilentRequest struct {
	Scopes       []string
	Account      *Account
	ForceRefresh bool
}

// EndSessionRequest signs the account out at the provider.
type EndSessionRequest struct {
	Account               *Account
	PostLogoutRedirectURI string
	Navigator             Navigator
}
