// Package testidp is an in-process OpenID Connect provider shaped like
// Microsoft Entra ID's v2.0 endpoints. It signs users in without a login page.
package testidp

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const contentTypeJSON = "application/json; charset=utf-8"

var multiTenant = []string{"common", "organizations", "consumers"}

// User is the account the provider signs in.
type User struct {
	ObjectID string
	TenantID string
	Name     string
	Username string
}

type grant struct {
	clientID      string
	redirectURI   string
	codeChallenge string
	nonce         string
	scopes        []string
	user          User
}

// Provider is a running test identity provider.
type Provider struct {
	server   *httptest.Server
	keys     *keyPair
	clientID string

	mu             sync.Mutex
	user           User
	codes          map[string]grant
	refreshTokens  map[string]grant
	denyNext       string
	accessTokenTTL time.Duration
	tokenRequests  map[string]int
	logouts        []url.Values
}

// New starts a provider that accepts clientID. It is closed when the test ends.
func New(t testing.TB, clientID string, user User) *Provider {
	t.Helper()
	keys, err := generateKeyPair("test-key-1")
	if err != nil {
		t.Fatalf("testidp: %v", err)
	}
	p := &Provider{
		keys:           keys,
		clientID:       clientID,
		user:           user,
		codes:          map[string]grant{},
		refreshTokens:  map[string]grant{},
		accessTokenTTL: time.Hour,
		tokenRequests:  map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{tenant}/v2.0/.well-known/openid-configuration", p.discovery)
	mux.HandleFunc("GET /{tenant}/discovery/v2.0/keys", p.jwks)
	mux.HandleFunc("GET /{tenant}/oauth2/v2.0/authorize", p.authorize)
	mux.HandleFunc("POST /{tenant}/oauth2/v2.0/token", p.token)
	mux.HandleFunc("GET /{tenant}/oauth2/v2.0/logout", p.logout)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

// URL is the authority host, e.g. http://127.0.0.1:port.
func (p *Provider) URL() string {
	return p.server.URL
}

// Issuer is the issuer of tokens minted for tenantID.
func (p *Provider) Issuer(tenantID string) string {
	return p.server.URL + "/" + tenantID + "/v2.0"
}

// SetUser changes the account signed in by later authorizations.
func (p *Provider) SetUser(user User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = user
}

// DenyNext makes the next authorization answer with the given OAuth error code.
func (p *Provider) DenyNext(errorCode string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denyNext = errorCode
}

// SetAccessTokenTTL sets the lifetime of access tokens issued from now on.
func (p *Provider) SetAccessTokenTTL(ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessTokenTTL = ttl
}

// TokenRequests counts token endpoint calls for a grant type.
func (p *Provider) TokenRequests(grantType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests[grantType]
}

// Logouts returns the query of every end-session request received.
func (p *Provider) Logouts() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.logouts)
}

// Authorize follows an authorization URL the way a browser would and returns
// the query the provider redirected back with.
func (p *Provider) Authorize(t testing.TB, authURL string) url.Values {
	t.Helper()
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Get(authURL)
	if err != nil {
		t.Fatalf("testidp: authorize: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("testidp: authorize answered %d", resp.StatusCode)
	}
	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("testidp: bad redirect: %v", err)
	}
	return location.Query()
}

func (p *Provider) discovery(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	base := p.server.URL + "/" + tenant
	issuer := p.Issuer(tenant)
	if slices.Contains(multiTenant, tenant) {
		issuer = p.server.URL + "/{tenantid}/v2.0"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                base + "/oauth2/v2.0/authorize",
		"token_endpoint":                        base + "/oauth2/v2.0/token",
		"jwks_uri":                              base + "/discovery/v2.0/keys",
		"end_session_endpoint":                  base + "/oauth2/v2.0/logout",
		"response_types_supported":              []string{"code"},
		"response_modes_supported":              []string{"query", "fragment", "form_post"},
		"subject_types_supported":               []string{"pairwise"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"scopes_supported":                      []string{"openid", "profile", "email", "offline_access"},
		"code_challenge_methods_supported":      []string{"S256"},
	})
}

func (p *Provider) jwks(w http.ResponseWriter, _ *http.Request) {
	data, err := p.keys.jwks()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	_, _ = w.Write(data)
}

func (p *Provider) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirectURI, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || !redirectURI.IsAbs() {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}
	if q.Get("client_id") != p.clientID {
		http.Error(w, "unknown client_id", http.StatusBadRequest)
		return
	}

	reply := redirectURI.Query()
	reply.Set("state", q.Get("state"))

	p.mu.Lock()
	deny := p.denyNext
	p.denyNext = ""
	user := p.user
	p.mu.Unlock()

	switch {
	case deny != "":
		reply.Set("error", deny)
		reply.Set("error_description", "The user denied the request")
	case q.Get("response_type") != "code":
		reply.Set("error", "unsupported_response_type")
	case q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256":
		reply.Set("error", "invalid_request")
		reply.Set("error_description", "PKCE S256 is required")
	default:
		code := uuid.NewString()
		p.mu.Lock()
		p.codes[code] = grant{
			clientID:      p.clientID,
			redirectURI:   redirectURI.String(),
			codeChallenge: q.Get("code_challenge"),
			nonce:         q.Get("nonce"),
			scopes:        strings.Fields(q.Get("scope")),
			user:          user,
		}
		p.mu.Unlock()
		reply.Set("code", code)
	}

	redirectURI.RawQuery = reply.Encode()
	http.Redirect(w, r, redirectURI.String(), http.StatusFound)
}

func (p *Provider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, "invalid_request", "failed to parse form data")
		return
	}
	clientID := r.PostFormValue("client_id")
	if user, _, ok := r.BasicAuth(); ok && clientID == "" {
		clientID = user
	}
	if clientID != p.clientID {
		writeTokenError(w, "invalid_client", "unknown client_id")
		return
	}

	grantType := r.PostFormValue("grant_type")
	p.mu.Lock()
	p.tokenRequests[grantType]++
	p.mu.Unlock()

	var (
		g   grant
		err error
	)
	switch grantType {
	case "authorization_code":
		g, err = p.redeemCode(r.PostFormValue("code"), r.PostFormValue("redirect_uri"), r.PostFormValue("code_verifier"))
	case "refresh_token":
		g, err = p.redeemRefreshToken(r.PostFormValue("refresh_token"))
		if scope := r.PostFormValue("scope"); err == nil && scope != "" {
			g.scopes = strings.Fields(scope)
		}
		g.nonce = ""
	default:
		writeTokenError(w, "unsupported_grant_type", grantType)
		return
	}
	if err != nil {
		writeTokenError(w, "invalid_grant", err.Error())
		return
	}

	resp, err := p.issue(g)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *Provider) redeemCode(code, redirectURI, verifier string) (grant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.codes[code]
	if !ok {
		return grant{}, fmt.Errorf("authorization code is invalid or was already used")
	}
	delete(p.codes, code)
	if g.redirectURI != redirectURI {
		return grant{}, fmt.Errorf("redirect_uri does not match")
	}
	sum := sha256.Sum256([]byte(verifier))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != g.codeChallenge {
		return grant{}, fmt.Errorf("code_verifier does not match code_challenge")
	}
	return g, nil
}

func (p *Provider) redeemRefreshToken(token string) (grant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.refreshTokens[token]
	if !ok {
		return grant{}, fmt.Errorf("refresh token is invalid")
	}
	delete(p.refreshTokens, token)
	return g, nil
}

func (p *Provider) issue(g grant) (map[string]any, error) {
	p.mu.Lock()
	ttl := p.accessTokenTTL
	p.mu.Unlock()

	now := time.Now()
	issuer := p.Issuer(g.user.TenantID)
	accessToken, err := p.keys.sign(jwt.MapClaims{
		"iss": issuer,
		"sub": g.user.ObjectID,
		"aud": "00000003-0000-0000-c000-000000000000",
		"oid": g.user.ObjectID,
		"tid": g.user.TenantID,
		"scp": strings.Join(g.scopes, " "),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	idClaims := jwt.MapClaims{
		"iss":                issuer,
		"sub":                g.user.ObjectID,
		"aud":                g.clientID,
		"oid":                g.user.ObjectID,
		"tid":                g.user.TenantID,
		"name":               g.user.Name,
		"preferred_username": g.user.Username,
		"login_hint":         "hint-" + g.user.ObjectID,
		"ver":                "2.0",
		"iat":                now.Unix(),
		"nbf":                now.Unix(),
		"exp":                now.Add(time.Hour).Unix(),
	}
	if g.nonce != "" {
		idClaims["nonce"] = g.nonce
	}
	idToken, err := p.keys.sign(idClaims)
	if err != nil {
		return nil, err
	}

	resp := map[string]any{
		"token_type":   "Bearer",
		"access_token": accessToken,
		"id_token":     idToken,
		"expires_in":   int(ttl.Seconds()),
		"scope":        strings.Join(g.scopes, " "),
	}
	if slices.Contains(g.scopes, "offline_access") {
		refresh := uuid.NewString()
		p.mu.Lock()
		p.refreshTokens[refresh] = g
		p.mu.Unlock()
		resp["refresh_token"] = refresh
	}
	return resp, nil
}

func (p *Provider) logout(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.logouts = append(p.logouts, r.URL.Query())
	p.mu.Unlock()

	if target := r.URL.Query().Get("post_logout_redirect_uri"); target != "" {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeTokenError(w http.ResponseWriter, code, description string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
