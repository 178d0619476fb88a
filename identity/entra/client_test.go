package entra_test

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/go-sso-bridge/authflow"
	"github.com/jrsteele09/go-sso-bridge/identity"
	"github.com/jrsteele09/go-sso-bridge/identity/entra"
	"github.com/jrsteele09/go-sso-bridge/internal/errors"
	"github.com/jrsteele09/go-sso-bridge/internal/testidp"
	"github.com/jrsteele09/go-sso-bridge/tokencache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "11111111-2222-3333-4444-555555555555"
	testTenantID = "contoso-tenant"
	testRedirect = "http://localhost:8080/callback"
)

var testUser = testidp.User{
	ObjectID: "user-oid",
	TenantID: testTenantID,
	Name:     "Alice Example",
	Username: "alice@contoso.com",
}

type testFixture struct {
	idp    *testidp.Provider
	client *entra.Client
	flows  *authflow.InMemoryRepo
	cache  *tokencache.Cache
	ctx    context.Context
}

// lastURL records where the client navigated.
type lastURL struct {
	target string
}

func (l *lastURL) Navigate(_ context.Context, target string) error {
	l.target = target
	return nil
}

func setupFixture(t *testing.T, tenant string) *testFixture {
	t.Helper()
	idp := testidp.New(t, testClientID, testUser)
	flows := authflow.NewInMemoryRepo()
	cache := tokencache.New(tokencache.NewInMemoryRepo(), time.Hour)
	logger := zerolog.Nop()

	client, err := entra.New(identity.Config{
		ClientID:    testClientID,
		TenantID:    tenant,
		RedirectURI: testRedirect,
		Scopes:      []string{"User.Read"},
	}, entra.Options{
		AuthorityHost:         idp.URL(),
		PostLogoutRedirectURI: "http://localhost:8080/",
		Flows:                 flows,
		Cache:                 cache,
		Logger:                &logger,
	})
	require.NoError(t, err)
	require.NoError(t, client.Initialize(context.Background()))

	return &testFixture{
		idp:    idp,
		client: client,
		flows:  flows,
		cache:  cache,
		ctx:    identity.WithSession(context.Background(), "session-1"),
	}
}

// signIn drives a full redirect login and returns the result.
func (f *testFixture) signIn(t *testing.T, ctx context.Context) *identity.AuthResult {
	t.Helper()
	nav := &lastURL{}
	require.NoError(t, f.client.LoginRedirect(ctx, identity.RedirectRequest{Navigator: nav, ReturnURL: "/home"}))
	sid, _ := identity.SessionFromContext(ctx)
	require.NoError(t, f.cache.SetPendingResponse(ctx, sid, f.idp.Authorize(t, nav.target)))

	result, err := f.client.HandleRedirect(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func TestLoginRedirect_BuildsAuthorizationURL(t *testing.T) {
	f := setupFixture(t, testTenantID)
	nav := &lastURL{}

	err := f.client.LoginRedirect(f.ctx, identity.RedirectRequest{Navigator: nav, LoginHint: "alice@contoso.com", ReturnURL: "/home"})
	require.NoError(t, err)

	u, err := url.Parse(nav.target)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(nav.target, f.idp.URL()+"/"+testTenantID+"/oauth2/v2.0/authorize"))
	q := u.Query()
	require.Equal(t, testClientID, q.Get("client_id"))
	require.Equal(t, testRedirect, q.Get("redirect_uri"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Equal(t, "alice@contoso.com", q.Get("login_hint"))
	require.ElementsMatch(t, []string{"openid", "profile", "offline_access", "User.Read"}, strings.Fields(q.Get("scope")))

	flow, err := f.flows.Get(f.ctx, q.Get("state"))
	require.NoError(t, err)
	require.Equal(t, "session-1", flow.SessionID)
	require.Equal(t, "/home", flow.ReturnURL)
	require.Equal(t, q.Get("nonce"), flow.Nonce)
}

func TestRedirect_RequiresSessionAndNavigator(t *testing.T) {
	f := setupFixture(t, testTenantID)

	err := f.client.LoginRedirect(context.Background(), identity.RedirectRequest{Navigator: &lastURL{}})
	require.ErrorIs(t, err, errors.ErrNoSession)

	err = f.client.LoginRedirect(f.ctx, identity.RedirectRequest{})
	require.ErrorIs(t, err, errors.ErrNoNavigator)
}

func TestHandleRedirect_NothingPending(t *testing.T) {
	f := setupFixture(t, testTenantID)

	result, err := f.client.HandleRedirect(f.ctx)
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestHandleRedirect_CompletesSignIn(t *testing.T) {
	f := setupFixture(t, testTenantID)

	result := f.signIn(t, f.ctx)
	require.Equal(t, "user-oid."+testTenantID, result.Account.HomeAccountID)
	require.Equal(t, "alice@contoso.com", result.Account.Username)
	require.Equal(t, "Alice Example", result.Account.Name)
	require.Equal(t, testTenantID, result.Account.TenantID)
	require.Equal(t, "hint-user-oid", result.Account.LoginHint)
	require.NotEmpty(t, result.AccessToken)
	require.NotEmpty(t, result.IDToken)

	active, err := f.client.ActiveAccount(f.ctx)
	require.NoError(t, err)
	require.Equal(t, result.Account, active)

	accounts, err := f.client.AllAccounts(f.ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	// the response is consumed once
	again, err := f.client.HandleRedirect(f.ctx)
	require.NoError(t, err)
	require.Nil(t, again)

	// other sessions see nothing
	other := identity.WithSession(context.Background(), "session-2")
	active, err = f.client.ActiveAccount(other)
	require.NoError(t, err)
	require.Nil(t, active)
}

func TestHandleRedirect_MultiTenantAuthority(t *testing.T) {
	f := setupFixture(t, "common")

	result := f.signIn(t, f.ctx)
	require.Equal(t, testTenantID, result.Account.TenantID)
}

func TestHandleRedirect_ProviderError(t *testing.T) {
	f := setupFixture(t, testTenantID)
	f.idp.DenyNext("access_denied")

	nav := &lastURL{}
	require.NoError(t, f.client.LoginRedirect(f.ctx, identity.RedirectRequest{Navigator: nav}))
	require.NoError(t, f.cache.SetPendingResponse(f.ctx, "session-1", f.idp.Authorize(t, nav.target)))

	_, err := f.client.HandleRedirect(f.ctx)
	var authErr *entra.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, "access_denied", authErr.Code)
}

func TestHandleRedirect_RejectsForeignSession(t *testing.T) {
	f := setupFixture(t, testTenantID)

	nav := &lastURL{}
	require.NoError(t, f.client.LoginRedirect(f.ctx, identity.RedirectRequest{Navigator: nav}))
	params := f.idp.Authorize(t, nav.target)

	other := identity.WithSession(context.Background(), "session-2")
	require.NoError(t, f.cache.SetPendingResponse(other, "session-2", params))

	_, err := f.client.HandleRedirect(other)
	require.ErrorIs(t, err, errors.ErrInvalidState)
}

func TestHandleRedirect_UnknownState(t *testing.T) {
	f := setupFixture(t, testTenantID)
	require.NoError(t, f.cache.SetPendingResponse(f.ctx, "session-1", url.Values{"state": {"forged"}, "code": {"x"}}))

	_, err := f.client.HandleRedirect(f.ctx)
	require.ErrorIs(t, err, errors.ErrStateNotFound)
}

func TestAcquireTokenSilent(t *testing.T) {
	t.Run("cached token", func(t *testing.T) {
		f := setupFixture(t, testTenantID)
		signedIn := f.signIn(t, f.ctx)

		result, err := f.client.AcquireTokenSilent(f.ctx, identity.SilentRequest{Account: signedIn.Account})
		require.NoError(t, err)
		require.Equal(t, signedIn.AccessToken, result.AccessToken)
		require.Equal(t, 0, f.idp.TokenRequests("refresh_token"))
	})

	t.Run("near expiry refreshes", func(t *testing.T) {
		f := setupFixture(t, testTenantID)
		f.idp.SetAccessTokenTTL(2 * time.Minute)
		signedIn := f.signIn(t, f.ctx)
		f.idp.SetAccessTokenTTL(time.Hour)

		result, err := f.client.AcquireTokenSilent(f.ctx, identity.SilentRequest{Account: signedIn.Account})
		require.NoError(t, err)
		require.NotEqual(t, signedIn.AccessToken, result.AccessToken)
		require.Equal(t, 1, f.idp.TokenRequests("refresh_token"))

		again, err := f.client.AcquireTokenSilent(f.ctx, identity.SilentRequest{Account: signedIn.Account})
		require.NoError(t, err)
		require.Equal(t, result.AccessToken, again.AccessToken)
		require.Equal(t, 1, f.idp.TokenRequests("refresh_token"))
	})

	t.Run("uncovered scope needs interaction", func(t *testing.T) {
		f := setupFixture(t, testTenantID)
		signedIn := f.signIn(t, f.ctx)

		_, err := f.client.AcquireTokenSilent(f.ctx, identity.SilentRequest{Account: signedIn.Account, Scopes: []string{"Mail.Read"}})
		require.ErrorIs(t, err, identity.ErrInteractionRequired)
	})

	t.Run("unknown account needs interaction", func(t *testing.T) {
		f := setupFixture(t, testTenantID)

		_, err := f.client.AcquireTokenSilent(f.ctx, identity.SilentRequest{Account: &identity.Account{HomeAccountID: "nobody"}})
		require.ErrorIs(t, err, identity.ErrInteractionRequired)
	})

	t.Run("no account", func(t *testing.T) {
		f := setupFixture(t, testTenantID)

		_, err := f.client.AcquireTokenSilent(f.ctx, identity.SilentRequest{})
		require.ErrorIs(t, err, identity.ErrNoAccount)
	})
}

func TestAcquireTokenRedirect(t *testing.T) {
	f := setupFixture(t, testTenantID)
	nav := &lastURL{}

	err := f.client.AcquireTokenRedirect(f.ctx, identity.RedirectRequest{Navigator: nav, Scopes: []string{"Mail.Read"}})
	require.NoError(t, err)

	u, err := url.Parse(nav.target)
	require.NoError(t, err)
	require.Contains(t, strings.Fields(u.Query().Get("scope")), "Mail.Read")
}

func TestLogoutRedirect(t *testing.T) {
	f := setupFixture(t, testTenantID)
	signedIn := f.signIn(t, f.ctx)
	nav := &lastURL{}

	err := f.client.LogoutRedirect(f.ctx, identity.EndSessionRequest{Account: signedIn.Account, Navigator: nav})
	require.NoError(t, err)

	u, err := url.Parse(nav.target)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(nav.target, f.idp.URL()+"/"+testTenantID+"/oauth2/v2.0/logout"))
	require.Equal(t, "http://localhost:8080/", u.Query().Get("post_logout_redirect_uri"))
	require.Equal(t, "hint-user-oid", u.Query().Get("logout_hint"))

	accounts, err := f.client.AllAccounts(f.ctx)
	require.NoError(t, err)
	require.Empty(t, accounts)
}

func TestInitialize_UnknownAuthority(t *testing.T) {
	flows := authflow.NewInMemoryRepo()
	cache := tokencache.New(tokencache.NewInMemoryRepo(), time.Hour)
	client, err := entra.New(identity.Config{ClientID: testClientID, RedirectURI: testRedirect}, entra.Options{
		AuthorityHost: "http://127.0.0.1:1",
		Flows:         flows,
		Cache:         cache,
	})
	require.NoError(t, err)
	require.Error(t, client.Initialize(context.Background()))

	err = client.LoginRedirect(identity.WithSession(context.Background(), "s"), identity.RedirectRequest{Navigator: &lastURL{}})
	require.ErrorIs(t, err, errors.ErrProviderMissing)
}

func TestNew_RequiresStores(t *testing.T) {
	_, err := entra.New(identity.Config{ClientID: testClientID, RedirectURI: testRedirect}, entra.Options{})
	require.ErrorIs(t, err, errors.ErrInvalidConfig)
}
