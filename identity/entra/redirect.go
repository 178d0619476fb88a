package entra

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-sso-bridge/authflow"
	"github.com/jrsteele09/go-sso-bridge/identity"
	"github.com/jrsteele09/go-sso-bridge/internal/errors"
	"golang.org/x/oauth2"
)

// idTokenClaims are the Entra ID token claims an account is built from.
type idTokenClaims struct {
	Subject           string `json:"sub"`
	ObjectID          string `json:"oid"`
	TenantID          string `json:"tid"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
	LoginHint         string `json:"login_hint"`
}

// LoginRedirect starts an interactive sign-in.
func (c *Client) LoginRedirect(ctx context.Context, req identity.RedirectRequest) error {
	return c.redirect(ctx, req)
}

// AcquireTokenRedirect starts an interactive authorization for req.Scopes.
// The token lands in the cache when the redirect is handled.
func (c *Client) AcquireTokenRedirect(ctx context.Context, req identity.RedirectRequest) error {
	return c.redirect(ctx, req)
}

func (c *Client) redirect(ctx context.Context, req identity.RedirectRequest) error {
	sid, err := sessionID(ctx)
	if err != nil {
		return err
	}
	if req.Navigator == nil {
		return errors.ErrNoNavigator
	}
	scopes := c.scopes(req.Scopes)
	conf, err := c.oauthConfig(scopes)
	if err != nil {
		return err
	}

	state := uuid.NewString()
	nonce := uuid.NewString()
	verifier := oauth2.GenerateVerifier()

	flow := &authflow.Flow{
		SessionID:    sid,
		CodeVerifier: verifier,
		Nonce:        nonce,
		Scopes:       scopes,
		ReturnURL:    req.ReturnURL,
		CreatedAt:    c.opts.Now().UTC(),
	}
	if err := c.opts.Flows.Upsert(ctx, state, flow, c.opts.FlowTTL); err != nil {
		return fmt.Errorf("[entra redirect] failed to store auth flow: %w", err)
	}

	params := []oauth2.AuthCodeOption{
		oidc.Nonce(nonce),
		oauth2.S256ChallengeOption(verifier),
	}
	if req.LoginHint != "" {
		params = append(params, oauth2.SetAuthURLParam("login_hint", req.LoginHint))
	}
	if req.Prompt != "" {
		params = append(params, oauth2.SetAuthURLParam("prompt", req.Prompt))
	}

	target := conf.AuthCodeURL(state, params...)
	c.logger.Debug().Str("session", sid).Strs("scopes", scopes).Msg("redirecting to identity provider")
	return req.Navigator.Navigate(ctx, target)
}

// HandleRedirect completes the redirect response captured for the session.
func (c *Client) HandleRedirect(ctx context.Context) (*identity.AuthResult, error) {
	sid, err := sessionID(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := c.opts.Cache.TakePendingResponse(ctx, sid)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, nil
	}

	state := pending.Get("state")
	if state == "" {
		return nil, errors.ErrInvalidState
	}
	flow, err := c.opts.Flows.Take(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("[entra HandleRedirect] %w", err)
	}
	if flow.SessionID != sid {
		return nil, errors.Wrapf(errors.ErrInvalidState, "[entra HandleRedirect] state was issued to another session")
	}

	if code := pending.Get("error"); code != "" {
		return nil, &AuthError{Code: code, Description: pending.Get("error_description")}
	}
	code := pending.Get("code")
	if code == "" {
		return nil, &AuthError{Code: "invalid_request", Description: "missing code parameter"}
	}

	conf, err := c.oauthConfig(flow.Scopes)
	if err != nil {
		return nil, err
	}
	token, err := conf.Exchange(c.httpContext(ctx), code, oauth2.VerifierOption(flow.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("[entra HandleRedirect] token exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.ErrMissingIDToken
	}
	claims, err := c.verifyIDToken(ctx, rawIDToken, flow.Nonce)
	if err != nil {
		return nil, err
	}

	account := c.account(claims)
	entry := c.tokenEntry(token, rawIDToken, flow.Scopes)
	if err := c.opts.Cache.SaveAccount(ctx, sid, account, entry); err != nil {
		return nil, fmt.Errorf("[entra HandleRedirect] failed to cache account: %w", err)
	}

	c.logger.Info().Str("session", sid).Str("account", account.HomeAccountID).Msg("sign-in completed")
	return &identity.AuthResult{
		Account:     &account,
		AccessToken: entry.AccessToken,
		IDToken:     rawIDToken,
		Scopes:      entry.Scopes,
		ExpiresOn:   entry.ExpiresAt,
	}, nil
}

func (c *Client) verifyIDToken(ctx context.Context, rawIDToken, nonce string) (*idTokenClaims, error) {
	c.mu.RLock()
	verifier, template := c.verifier, c.issuerTemplate
	c.mu.RUnlock()
	if verifier == nil {
		return nil, errors.ErrProviderMissing
	}

	idToken, err := verifier.Verify(c.httpContext(ctx), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("[entra verifyIDToken] ID token verification failed: %w", err)
	}
	if idToken.Nonce != nonce {
		return nil, errors.ErrInvalidNonce
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("[entra verifyIDToken] failed to extract claims: %w", err)
	}
	if c.multiTenant() && strings.Contains(template, tenantIDPlaceholder) {
		if want := strings.Replace(template, tenantIDPlaceholder, claims.TenantID, 1); idToken.Issuer != want {
			return nil, fmt.Errorf("[entra verifyIDToken] issuer %q does not match tenant %q", idToken.Issuer, claims.TenantID)
		}
	}
	return &claims, nil
}

func (c *Client) account(claims *idTokenClaims) identity.Account {
	objectID := claims.ObjectID
	if objectID == "" {
		objectID = claims.Subject
	}
	username := claims.PreferredUsername
	if username == "" {
		username = claims.Email
	}
	return identity.Account{
		HomeAccountID:  objectID + "." + claims.TenantID,
		Environment:    c.environment(),
		TenantID:       claims.TenantID,
		Username:       username,
		LocalAccountID: objectID,
		Name:           claims.Name,
		LoginHint:      claims.LoginHint,
	}
}

// LogoutRedirect clears the session's cache and navigates to the provider's
// end-session endpoint.
func (c *Client) LogoutRedirect(ctx context.Context, req identity.EndSessionRequest) error {
	sid, err := sessionID(ctx)
	if err != nil {
		return err
	}
	if req.Navigator == nil {
		return errors.ErrNoNavigator
	}
	if err := c.opts.Cache.Clear(ctx, sid); err != nil {
		return fmt.Errorf("[entra LogoutRedirect] failed to clear token cache: %w", err)
	}

	c.mu.RLock()
	endSession := c.endSession
	c.mu.RUnlock()

	postLogout := req.PostLogoutRedirectURI
	if postLogout == "" {
		postLogout = c.opts.PostLogoutRedirectURI
	}
	if endSession == "" {
		c.logger.Warn().Msg("identity provider has no end_session_endpoint; signing out locally")
		if postLogout == "" {
			return nil
		}
		return req.Navigator.Navigate(ctx, postLogout)
	}

	target, err := url.Parse(endSession)
	if err != nil {
		return fmt.Errorf("[entra LogoutRedirect] bad end_session_endpoint: %w", err)
	}
	q := target.Query()
	q.Set("client_id", c.cfg.ClientID)
	if postLogout != "" {
		q.Set("post_logout_redirect_uri", postLogout)
	}
	if req.Account != nil && req.Account.LoginHint != "" {
		q.Set("logout_hint", req.Account.LoginHint)
	}
	target.RawQuery = q.Encode()

	c.logger.Debug().Str("session", sid).Msg("redirecting to identity provider for sign-out")
	return req.Navigator.Navigate(ctx, target.String())
}
