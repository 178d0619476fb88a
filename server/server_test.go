package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-sso-bridge/authflow"
	"github.com/jrsteele09/go-sso-bridge/bridge"
	"github.com/jrsteele09/go-sso-bridge/identity"
	"github.com/jrsteele09/go-sso-bridge/identity/entra"
	"github.com/jrsteele09/go-sso-bridge/identity/fakeclient"
	"github.com/jrsteele09/go-sso-bridge/internal/config"
	"github.com/jrsteele09/go-sso-bridge/internal/testidp"
	"github.com/jrsteele09/go-sso-bridge/server"
	"github.com/jrsteele09/go-sso-bridge/tokencache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "11111111-2222-3333-4444-555555555555"
	testTenantID = "contoso-tenant"
)

var testUser = testidp.User{ObjectID: "user-oid", TenantID: testTenantID, Name: "Alice Example", Username: "alice@contoso.com"}

type testFixture struct {
	ts     *httptest.Server
	client *http.Client
	idp    *testidp.Provider
	fake   *fakeclient.FakeClient
}

type stateBody struct {
	IsAuthenticated bool            `json:"isAuthenticated"`
	IsLoading       bool            `json:"isLoading"`
	Account         *bridge.Account `json:"account"`
	Error           *string         `json:"error"`
}

// setupFixture starts the service in front of the test identity provider.
// With a non-nil factory the provider is replaced by it.
func setupFixture(t *testing.T, factory func(flows authflow.Repo, cache *tokencache.Cache) identity.Factory) *testFixture {
	t.Helper()
	f := &testFixture{}

	var srv *server.Server
	f.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.ServeHTTP(w, r)
	}))
	t.Cleanup(f.ts.Close)
	f.idp = testidp.New(t, testClientID, testUser)

	cfg, err := config.LoadFrom(context.Background(), map[string]string{
		"SSO_ENV":                               "TEST",
		"SSO_BASE_URL":                          f.ts.URL,
		"SSO_CORS_ALLOWED_ORIGINS":              "https://app.example.com",
		"SSO_IDENTITY_CLIENT_ID":                testClientID,
		"SSO_IDENTITY_TENANT_ID":                testTenantID,
		"SSO_IDENTITY_AUTHORITY_HOST":           f.idp.URL(),
		"SSO_IDENTITY_POST_LOGOUT_REDIRECT_URI": f.ts.URL + "/",
	})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	flows := authflow.NewInMemoryRepo()
	cache := tokencache.New(tokencache.NewInMemoryRepo(), time.Hour)
	logger := zerolog.Nop()

	var idFactory identity.Factory
	if factory != nil {
		idFactory = factory(flows, cache)
	} else {
		idFactory = entra.NewFactory(entra.Options{
			AuthorityHost:         cfg.GetAuthorityHost(),
			PostLogoutRedirectURI: cfg.GetPostLogoutRedirectURI(),
			Flows:                 flows,
			Cache:                 cache,
			Logger:                &logger,
		})
	}
	loader := identity.NewLoader(idFactory, identity.WithLoaderLogger(logger))
	registry := bridge.NewRegistry(loader, identity.Config{
		ClientID:    cfg.GetClientID(),
		TenantID:    cfg.GetTenantID(),
		RedirectURI: f.ts.URL + server.RouteCallback,
		Scopes:      cfg.GetScopes(),
	}, bridge.WithBridgeOptions(bridge.WithLogger(logger)))

	srv, err = server.New(cfg, server.Deps{Loader: loader, Registry: registry, Flows: flows, Cache: cache})
	require.NoError(t, err)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	f.client = &http.Client{
		Jar:           jar,
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	return f
}

func withFake(fake *fakeclient.FakeClient) func(authflow.Repo, *tokencache.Cache) identity.Factory {
	return func(authflow.Repo, *tokencache.Cache) identity.Factory {
		return fake.Factory()
	}
}

func (f *testFixture) do(t *testing.T, method, path string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.ts.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *testFixture) state(t *testing.T) stateBody {
	t.Helper()
	resp := f.do(t, http.MethodGet, server.RouteAPISession, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body stateBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func jsonHeader() http.Header {
	return http.Header{"Accept": {"application/json"}}
}

// login runs the whole redirect flow and returns where the callback sent the browser.
func (f *testFixture) login(t *testing.T, returnURL string) string {
	t.Helper()
	resp := f.do(t, http.MethodPost, server.RouteAuthLogin+"?returnUrl="+url.QueryEscape(returnURL), jsonHeader())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	target := decode[map[string]string](t, resp)["redirect"]
	require.True(t, strings.HasPrefix(target, f.idp.URL()), target)

	params := f.idp.Authorize(t, target)
	callback := f.do(t, http.MethodGet, server.RouteCallback+"?"+params.Encode(), nil)
	require.Equal(t, http.StatusSeeOther, callback.StatusCode)
	return callback.Header.Get("Location")
}

func TestSession_InitialState(t *testing.T) {
	f := setupFixture(t, nil)

	state := f.state(t)
	require.False(t, state.IsAuthenticated)
	require.False(t, state.IsLoading)
	require.Nil(t, state.Account)
	require.Nil(t, state.Error)

	u, _ := url.Parse(f.ts.URL)
	require.NotEmpty(t, f.client.Jar.Cookies(u))
}

func TestLoginFlow(t *testing.T) {
	f := setupFixture(t, nil)

	require.Equal(t, "/dashboard", f.login(t, "/dashboard"))

	state := f.state(t)
	require.True(t, state.IsAuthenticated)
	require.False(t, state.IsLoading)
	require.Nil(t, state.Error)
	require.Equal(t, &bridge.Account{
		Name:          "Alice Example",
		Username:      "alice@contoso.com",
		TenantID:      testTenantID,
		HomeAccountID: "user-oid." + testTenantID,
	}, state.Account)

	resp := f.do(t, http.MethodGet, server.RouteAPIToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, decode[map[string]string](t, resp)["accessToken"])
}

func TestLoginFlow_UnsafeReturnURL(t *testing.T) {
	f := setupFixture(t, nil)
	require.Equal(t, "/", f.login(t, "//evil.example.com"))
}

func TestLoginFlow_Denied(t *testing.T) {
	f := setupFixture(t, nil)
	f.idp.DenyNext("access_denied")

	f.login(t, "/")

	state := f.state(t)
	require.False(t, state.IsAuthenticated)
	require.NotNil(t, state.Error)
	require.Contains(t, *state.Error, "access_denied")
}

func TestLogin_BrowserRedirect(t *testing.T) {
	f := setupFixture(t, nil)

	resp := f.do(t, http.MethodGet, server.RouteAuthLogin, nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Location"), f.idp.URL()))

	resp = f.do(t, http.MethodGet, server.RouteAuthLogin, http.Header{"Hx-Request": {"true"}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("HX-Redirect"), f.idp.URL()))
}

func TestLogout(t *testing.T) {
	f := setupFixture(t, nil)
	f.login(t, "/")
	require.True(t, f.state(t).IsAuthenticated)

	resp := f.do(t, http.MethodGet, server.RouteAuthLogout, nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp = f.do(t, http.MethodPost, server.RouteAuthLogout, http.Header{"Origin": {"https://evil.example.com"}})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = f.do(t, http.MethodPost, server.RouteAuthLogout, http.Header{"Sec-Fetch-Site": {"cross-site"}})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.True(t, f.state(t).IsAuthenticated)

	resp = f.do(t, http.MethodPost, server.RouteAuthLogout, http.Header{"Origin": {f.ts.URL}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, f.ts.URL+"/", location.Query().Get("post_logout_redirect_uri"))

	state := f.state(t)
	require.False(t, state.IsAuthenticated)
	require.Nil(t, state.Account)

	resp = f.do(t, http.MethodGet, server.RouteAPIToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestToken_NoSession(t *testing.T) {
	f := setupFixture(t, nil)
	resp := f.do(t, http.MethodGet, server.RouteAPIToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestToken_RedirectWhenInteractionRequired(t *testing.T) {
	fake := fakeclient.New()
	fake.Active = &identity.Account{HomeAccountID: "oid.tid", Username: "alice@contoso.com"}
	f := setupFixture(t, withFake(fake))
	f.state(t)

	resp := f.do(t, http.MethodGet, server.RouteAPIToken, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, fake.LoginURL, decode[map[string]string](t, resp)["redirect"])
	require.Len(t, fake.TokenRedirects, 1)
}

func TestCallback_NoSession(t *testing.T) {
	f := setupFixture(t, nil)
	resp := f.do(t, http.MethodGet, server.RouteCallback+"?state=abc&code=def", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnavailableIdentityClient(t *testing.T) {
	f := setupFixture(t, func(authflow.Repo, *tokencache.Cache) identity.Factory {
		return fakeclient.FailingFactory(nil)
	})

	state := f.state(t)
	require.False(t, state.IsAuthenticated)
	require.False(t, state.IsLoading)
	require.NotNil(t, state.Error)
	require.Equal(t, "identity client is not available", *state.Error)

	resp := f.do(t, http.MethodPost, server.RouteAuthLogin, jsonHeader())
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decode[stateBody](t, resp)
	require.Equal(t, "identity client is not initialized", *body.Error)

	resp = f.do(t, http.MethodGet, server.RouteHealth, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, decode[map[string]any](t, resp)["identityClient"])
}

func TestLogin_FailureReported(t *testing.T) {
	fake := fakeclient.New()
	fake.LoginErr = context.DeadlineExceeded
	f := setupFixture(t, withFake(fake))

	resp := f.do(t, http.MethodPost, server.RouteAuthLogin, jsonHeader())
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decode[stateBody](t, resp)
	require.Equal(t, context.DeadlineExceeded.Error(), *body.Error)
	require.False(t, body.IsLoading)
}

func TestCors(t *testing.T) {
	f := setupFixture(t, nil)

	resp := f.do(t, http.MethodOptions, server.RouteAPIToken, http.Header{"Origin": {"https://app.example.com"}})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
	require.Equal(t, "Origin", resp.Header.Get("Vary"))

	resp = f.do(t, http.MethodOptions, server.RouteAuthLogin, http.Header{"Origin": {"https://other.example.com"}})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodGet, server.RouteAPISession, http.Header{"Origin": {"https://other.example.com"}})
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSessionStream(t *testing.T) {
	f := setupFixture(t, nil)
	f.state(t) // establish the session cookie

	u, _ := url.Parse(f.ts.URL)
	header := http.Header{}
	for _, c := range f.client.Jar.Cookies(u) {
		header.Add("Cookie", c.Name+"="+c.Value)
	}
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + server.RouteAPISessionStream
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	var first stateBody
	require.NoError(t, conn.ReadJSON(&first))
	require.False(t, first.IsAuthenticated)

	f.login(t, "/")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var next stateBody
		require.NoError(t, conn.ReadJSON(&next))
		if next.IsAuthenticated {
			require.Equal(t, "alice@contoso.com", next.Account.Username)
			return
		}
	}
}
