// Package entra is an identity.Client for Microsoft Entra ID (v2.0 endpoints)
// built on OpenID Connect discovery and the authorization code flow with PKCE.
package entra

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-sso-bridge/authflow"
	"github.com/jrsteele09/go-sso-bridge/identity"
	"github.com/jrsteele09/go-sso-bridge/internal/errors"
	"github.com/jrsteele09/go-sso-bridge/tokencache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	DefaultAuthorityHost = "https://login.microsoftonline.com"
	DefaultFlowTTL       = 15 * time.Minute
	DefaultExpirySkew    = 5 * time.Minute

	tenantIDPlaceholder = "{tenantid}"
)

// Tenants whose discovery document carries a templated issuer.
var multiTenantAuthorities = []string{"common", "organizations", "consumers"}

// Scopes requested on every authorization in addition to the caller's.
var baseScopes = []string{oidc.ScopeOpenID, "profile", oidc.ScopeOfflineAccess}

// Options carries the service-level settings shared by every client the
// factory builds.
type Options struct {
	AuthorityHost         string
	ClientSecret          string
	PostLogoutRedirectURI string
	FlowTTL               time.Duration
	ExpirySkew            time.Duration

	Flows authflow.Repo
	Cache *tokencache.Cache

	HTTPClient *http.Client
	Logger     *zerolog.Logger
	Now        func() time.Time
}

// AuthError is an error reported by the provider on the redirect back.
type AuthError struct {
	Code        string
	Description string
}

func (e *AuthError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

type Client struct {
	cfg    identity.Config
	opts   Options
	logger zerolog.Logger

	mu             sync.RWMutex
	provider       *oidc.Provider
	oauth          *oauth2.Config
	verifier       *oidc.IDTokenVerifier
	issuerTemplate string
	endSession     string
}

var _ identity.Client = (*Client)(nil)

// NewFactory returns an identity.Factory building Entra clients with opts.
func NewFactory(opts Options) identity.Factory {
	return func(_ context.Context, cfg identity.Config) (identity.Client, error) {
		return New(cfg, opts)
	}
}

func New(cfg identity.Config, opts Options) (*Client, error) {
	if opts.Flows == nil || opts.Cache == nil {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "[entra New] flow store and token cache are required")
	}
	if cfg.RedirectURI == "" {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "[entra New] redirect uri is required")
	}
	if opts.AuthorityHost == "" {
		opts.AuthorityHost = DefaultAuthorityHost
	}
	opts.AuthorityHost = strings.TrimSuffix(opts.AuthorityHost, "/")
	if opts.FlowTTL <= 0 {
		opts.FlowTTL = DefaultFlowTTL
	}
	if opts.ExpirySkew <= 0 {
		opts.ExpirySkew = DefaultExpirySkew
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With().Str("client_id", cfg.ClientID).Str("tenant", cfg.Tenant()).Logger(),
	}, nil
}

// Authority is the issuer URL discovery runs against.
func (c *Client) Authority() string {
	return c.opts.AuthorityHost + "/" + c.cfg.Tenant() + "/v2.0"
}

func (c *Client) multiTenant() bool {
	return slices.Contains(multiTenantAuthorities, strings.ToLower(c.cfg.Tenant()))
}

func (c *Client) httpContext(ctx context.Context) context.Context {
	if c.opts.HTTPClient != nil {
		return oidc.ClientContext(ctx, c.opts.HTTPClient)
	}
	return ctx
}

// Initialize runs OpenID Connect discovery for the authority.
func (c *Client) Initialize(ctx context.Context) error {
	ctx = c.httpContext(ctx)
	authority := c.Authority()
	if c.multiTenant() {
		ctx = oidc.InsecureIssuerURLContext(ctx, authority)
	}

	provider, err := oidc.NewProvider(ctx, authority)
	if err != nil {
		return fmt.Errorf("[entra Initialize] failed to create OIDC provider: %w", err)
	}

	var metadata struct {
		Issuer             string `json:"issuer"`
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&metadata); err != nil {
		return fmt.Errorf("[entra Initialize] failed to read provider metadata: %w", err)
	}

	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = provider
	c.oauth = &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.opts.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  c.cfg.RedirectURI,
	}
	c.verifier = provider.Verifier(&oidc.Config{
		ClientID:        c.cfg.ClientID,
		SkipIssuerCheck: c.multiTenant(),
		Now:             c.opts.Now,
	})
	c.issuerTemplate = metadata.Issuer
	c.endSession = metadata.EndSessionEndpoint

	c.logger.Debug().Str("authority", authority).Msg("identity provider discovered")
	return nil
}

// oauthConfig returns a copy of the OAuth2 config requesting scopes.
func (c *Client) oauthConfig(scopes []string) (*oauth2.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.oauth == nil {
		return nil, errors.ErrProviderMissing
	}
	conf := *c.oauth
	conf.Scopes = requestScopes(scopes)
	return &conf, nil
}

func (c *Client) scopes(requested []string) []string {
	if len(requested) == 0 {
		return c.cfg.ScopesOrDefault()
	}
	return slices.Clone(requested)
}

func requestScopes(scopes []string) []string {
	out := slices.Clone(baseScopes)
	for _, s := range scopes {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func sessionID(ctx context.Context) (string, error) {
	sid, ok := identity.SessionFromContext(ctx)
	if !ok {
		return "", errors.ErrNoSession
	}
	return sid, nil
}

func (c *Client) ActiveAccount(ctx context.Context) (*identity.Account, error) {
	sid, err := sessionID(ctx)
	if err != nil {
		return nil, err
	}
	return c.opts.Cache.ActiveAccount(ctx, sid)
}

func (c *Client) AllAccounts(ctx context.Context) ([]identity.Account, error) {
	sid, err := sessionID(ctx)
	if err != nil {
		return nil, err
	}
	return c.opts.Cache.Accounts(ctx, sid)
}

func (c *Client) SetActiveAccount(ctx context.Context, account *identity.Account) error {
	sid, err := sessionID(ctx)
	if err != nil {
		return err
	}
	var homeAccountID string
	if account != nil {
		homeAccountID = account.HomeAccountID
	}
	return c.opts.Cache.SetActiveAccount(ctx, sid, homeAccountID)
}

// environment is the authority host name, reported on accounts.
func (c *Client) environment() string {
	u, err := url.Parse(c.opts.AuthorityHost)
	if err != nil {
		return c.opts.AuthorityHost
	}
	return u.Host
}
