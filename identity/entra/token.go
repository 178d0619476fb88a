package entra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-sso-bridge/identity"
	"github.com/jrsteele09/go-sso-bridge/internal/errors"
	"github.com/jrsteele09/go-sso-bridge/tokencache"
	"golang.org/x/oauth2"
)

// OAuth error codes that mean the refresh token can no longer be used.
var interactionErrorCodes = []string{"invalid_grant", "interaction_required", "login_required", "consent_required"}

// AcquireTokenSilent serves a cached access token that is fresh and covers the
// requested scopes, refreshing it when it is not. When neither works the error
// wraps identity.ErrInteractionRequired.
func (c *Client) AcquireTokenSilent(ctx context.Context, req identity.SilentRequest) (*identity.AuthResult, error) {
	if req.Account == nil {
		return nil, identity.ErrNoAccount
	}
	sid, err := sessionID(ctx)
	if err != nil {
		return nil, err
	}
	scopes := c.scopes(req.Scopes)

	entry, ok, err := c.opts.Cache.Token(ctx, sid, req.Account.HomeAccountID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("[entra AcquireTokenSilent] no cached tokens: %w", identity.ErrInteractionRequired)
	}
	if !req.ForceRefresh && entry.Covers(scopes) && entry.Fresh(c.opts.Now(), c.opts.ExpirySkew) {
		return result(req.Account, entry), nil
	}
	if entry.RefreshToken == "" {
		return nil, fmt.Errorf("[entra AcquireTokenSilent] no refresh token: %w", identity.ErrInteractionRequired)
	}

	refreshed, err := c.refresh(ctx, entry, scopes)
	if err != nil {
		return nil, err
	}
	if !refreshed.Covers(scopes) {
		return nil, fmt.Errorf("[entra AcquireTokenSilent] scopes not granted: %w", identity.ErrInteractionRequired)
	}
	if err := c.opts.Cache.PutToken(ctx, sid, refreshed); err != nil {
		return nil, fmt.Errorf("[entra AcquireTokenSilent] failed to cache token: %w", err)
	}
	return result(req.Account, refreshed), nil
}

func (c *Client) refresh(ctx context.Context, entry tokencache.Entry, scopes []string) (tokencache.Entry, error) {
	conf, err := c.oauthConfig(scopes)
	if err != nil {
		return tokencache.Entry{}, err
	}
	token, err := conf.TokenSource(c.httpContext(ctx), &oauth2.Token{RefreshToken: entry.RefreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && isInteractionError(retrieveErr.ErrorCode) {
			return tokencache.Entry{}, fmt.Errorf("[entra refresh] %s: %w", retrieveErr.ErrorCode, identity.ErrInteractionRequired)
		}
		return tokencache.Entry{}, fmt.Errorf("[entra refresh] token refresh failed: %w", err)
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		idToken = entry.IDToken
	}
	refreshed := c.tokenEntry(token, idToken, entry.Scopes)
	refreshed.HomeAccountID = entry.HomeAccountID
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = entry.RefreshToken
	}
	c.logger.Debug().Str("account", entry.HomeAccountID).Msg("access token refreshed")
	return refreshed, nil
}

func isInteractionError(code string) bool {
	for _, c := range interactionErrorCodes {
		if code == c {
			return true
		}
	}
	return false
}

// tokenEntry converts a token response. Granted scopes come from the response
// when present, else the requested scopes are assumed.
func (c *Client) tokenEntry(token *oauth2.Token, rawIDToken string, requested []string) tokencache.Entry {
	scopes := requested
	if granted, _ := token.Extra("scope").(string); granted != "" {
		scopes = strings.Fields(granted)
	}
	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = accessTokenExpiry(token.AccessToken)
	}
	return tokencache.Entry{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      rawIDToken,
		Scopes:       scopes,
		ExpiresAt:    expiresAt,
	}
}

// accessTokenExpiry reads exp from a JWT access token without verifying it.
// Access tokens are opaque to this client; the value only drives cache freshness.
func accessTokenExpiry(accessToken string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func result(account *identity.Account, entry tokencache.Entry) *identity.AuthResult {
	a := *account
	return &identity.AuthResult{
		Account:     &a,
		AccessToken: entry.AccessToken,
		IDToken:     entry.IDToken,
		Scopes:      entry.Scopes,
		ExpiresOn:   entry.ExpiresAt,
	}
}
