package fakeclient

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/jrsteele09/go-sso-bridge/identity"
)

// FakeClient is an in-memory identity.Client. Accounts, tokens and the pending
// redirect response are shared across sessions; the session in ctx is recorded
// but not used for partitioning.
type FakeClient struct {
	mu sync.Mutex

	Config identity.Config

	InitializeErr     error
	HandleRedirectErr error
	LoginErr          error
	LogoutErr         error
	SilentErr         error
	TokenRedirectErr  error
	AccountsErr       error

	// PendingRedirect is returned (once) by HandleRedirect.
	PendingRedirect *identity.AuthResult
	Accounts        []identity.Account
	Active          *identity.Account
	// Tokens maps HomeAccountID to the access token AcquireTokenSilent returns.
	Tokens map[string]string

	// LoginURL is handed to the navigator by the redirect operations.
	LoginURL  string
	LogoutURL string

	InitializeCalls int
	LoginRequests   []identity.RedirectRequest
	LogoutRequests  []identity.EndSessionRequest
	SilentRequests  []identity.SilentRequest
	TokenRedirects  []identity.RedirectRequest
	Sessions        []string
}

var _ identity.Client = (*FakeClient)(nil)

func New() *FakeClient {
	return &FakeClient{
		Tokens:    map[string]string{},
		LoginURL:  "https://login.example.com/authorize",
		LogoutURL: "https://login.example.com/logout",
	}
}

// Factory returns an identity.Factory that hands out c and records the config it was built with.
func (c *FakeClient) Factory() identity.Factory {
	return func(_ context.Context, cfg identity.Config) (identity.Client, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.Config = cfg
		return c, nil
	}
}

// FailingFactory is an identity.Factory that always fails, as when the identity library is missing.
func FailingFactory(err error) identity.Factory {
	return func(context.Context, identity.Config) (identity.Client, error) {
		if err == nil {
			err = errors.New("identity library not installed")
		}
		return nil, err
	}
}

// AddAccount caches an account, with an optional access token for silent acquisition.
func (c *FakeClient) AddAccount(account identity.Account, accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Accounts = append(c.Accounts, account)
	if accessToken != "" {
		c.Tokens[account.HomeAccountID] = accessToken
	}
}

func (c *FakeClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordSession(ctx)
	c.InitializeCalls++
	return c.InitializeErr
}

func (c *FakeClient) HandleRedirect(ctx context.Context) (*identity.AuthResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordSession(ctx)
	if c.HandleRedirectErr != nil {
		return nil, c.HandleRedirectErr
	}
	result := c.PendingRedirect
	c.PendingRedirect = nil
	if result != nil && result.Account != nil {
		c.Accounts = append(c.Accounts, *result.Account)
	}
	return result, nil
}

func (c *FakeClient) ActiveAccount(ctx context.Context) (*identity.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordSession(ctx)
	if c.AccountsErr != nil {
		return nil, c.AccountsErr
	}
	if c.Active == nil {
		return nil, nil
	}
	active := *c.Active
	return &active, nil
}

func (c *FakeClient) AllAccounts(ctx context.Context) ([]identity.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordSession(ctx)
	if c.AccountsErr != nil {
		return nil, c.AccountsErr
	}
	return slices.Clone(c.Accounts), nil
}

func (c *FakeClient) SetActiveAccount(ctx context.Context, account *identity.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordSession(ctx)
	if account == nil {
		c.Active = nil
		return nil
	}
	active := *account
	c.Active = &active
	return nil
}

func (c *FakeClient) LoginRedirect(ctx context.Context, req identity.RedirectRequest) error {
	c.mu.Lock()
	c.recordSession(ctx)
	c.LoginRequests = append(c.LoginRequests, req)
	err, target := c.LoginErr, c.LoginURL
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return navigate(ctx, req.Navigator, target)
}

func (c *FakeClient) LogoutRedirect(ctx context.Context, req identity.EndSessionRequest) error {
	c.mu.Lock()
	c.recordSession(ctx)
	c.LogoutRequests = append(c.LogoutRequests, req)
	err, target := c.LogoutErr, c.LogoutURL
	if err == nil {
		c.Accounts = nil
		c.Active = nil
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return navigate(ctx, req.Navigator, target)
}

func (c *FakeClient) AcquireTokenSilent(ctx context.Context, req identity.SilentRequest) (*identity.AuthResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordSession(ctx)
	c.SilentRequests = append(c.SilentRequests, req)
	if c.SilentErr != nil {
		return nil, c.SilentErr
	}
	if req.Account == nil {
		return nil, identity.ErrNoAccount
	}
	token, ok := c.Tokens[req.Account.HomeAccountID]
	if !ok {
		return nil, identity.ErrInteractionRequired
	}
	account := *req.Account
	return &identity.AuthResult{Account: &account, AccessToken: token, Scopes: slices.Clone(req.Scopes)}, nil
}

func (c *FakeClient) AcquireTokenRedirect(ctx context.Context, req identity.RedirectRequest) error {
	c.mu.Lock()
	c.recordSession(ctx)
	c.TokenRedirects = append(c.TokenRedirects, req)
	err, target := c.TokenRedirectErr, c.LoginURL
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return navigate(ctx, req.Navigator, target)
}

func (c *FakeClient) recordSession(ctx context.Context) {
	if sessionID, ok := identity.SessionFromContext(ctx); ok {
		c.Sessions = append(c.Sessions, sessionID)
	}
}

func navigate(ctx context.Context, nav identity.Navigator, target string) error {
	if nav == nil {
		return nil
	}
	return nav.Navigate(ctx, target)
}
