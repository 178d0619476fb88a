package config

import (
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

type IdentityConfig interface {
	GetClientID() string
	GetClientSecret() string
	GetTenantID() string
	GetAuthorityHost() string
	GetRedirectURI() string
	GetPostLogoutRedirectURI() string
	GetScopes() []string
	GetDiscoveryAttempts() uint
	GetDiscoveryDelay() time.Duration
}

// Identity holds the app registration used against the identity provider.
type Identity struct {
	ClientID              string        `env:"CLIENT_ID"`
	ClientSecret          string        `env:"CLIENT_SECRET"`
	TenantID              string        `env:"TENANT_ID, default=common"`
	AuthorityHost         string        `env:"AUTHORITY_HOST, default=https://login.microsoftonline.com"`
	RedirectURI           string        `env:"REDIRECT_URI"`
	PostLogoutRedirectURI string        `env:"POST_LOGOUT_REDIRECT_URI"`
	Scopes                []string      `env:"SCOPES, default=User.Read"`
	DiscoveryAttempts     uint          `env:"DISCOVERY_ATTEMPTS, default=3"`
	DiscoveryDelay        time.Duration `env:"DISCOVERY_DELAY, default=500ms"`
}

var _ IdentityConfig = Identity{}

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9.\-]+$`)

func (i Identity) GetClientID() string {
	return i.ClientID
}

func (i Identity) GetClientSecret() string {
	return i.ClientSecret
}

func (i Identity) GetTenantID() string {
	if i.TenantID == "" {
		return "common"
	}
	return i.TenantID
}

func (i Identity) GetAuthorityHost() string {
	return strings.TrimRight(i.AuthorityHost, "/")
}

// GetRedirectURI returns the configured callback URI; empty means "derive from the base URL".
func (i Identity) GetRedirectURI() string {
	return i.RedirectURI
}

func (i Identity) GetPostLogoutRedirectURI() string {
	return i.PostLogoutRedirectURI
}

func (i Identity) GetScopes() []string {
	scopes := make([]string, 0, len(i.Scopes))
	for _, scope := range i.Scopes {
		if scope = strings.TrimSpace(scope); scope != "" {
			scopes = append(scopes, scope)
		}
	}
	return scopes
}

func (i Identity) GetDiscoveryAttempts() uint {
	if i.DiscoveryAttempts == 0 {
		return 1
	}
	return i.DiscoveryAttempts
}

func (i Identity) GetDiscoveryDelay() time.Duration {
	return i.DiscoveryDelay
}

func (i Identity) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.ClientID, validation.Required),
		validation.Field(&i.TenantID, validation.Match(tenantPattern)),
		validation.Field(&i.AuthorityHost, validation.Required, is.URL),
		validation.Field(&i.RedirectURI, is.URL),
		validation.Field(&i.PostLogoutRedirectURI, is.URL),
	)
}
