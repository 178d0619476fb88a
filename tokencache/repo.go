package tokencache

import (
	"context"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/jrsteele09/go-sso-bridge/identity"
)

// Entry is the token set issued to one account.
type Entry struct {
	HomeAccountID string    `json:"homeAccountId"`
	AccessToken   string    `json:"accessToken"`
	RefreshToken  string    `json:"refreshToken,omitempty"`
	IDToken       string    `json:"idToken,omitempty"`
	Scopes        []string  `json:"scopes"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// Covers reports whether the entry was granted every scope in scopes.
// Scope comparison is case-insensitive.
func (e Entry) Covers(scopes []string) bool {
	for _, want := range scopes {
		if !slices.ContainsFunc(e.Scopes, func(got string) bool { return strings.EqualFold(got, want) }) {
			return false
		}
	}
	return true
}

// Fresh reports whether the access token is still valid skew from now.
func (e Entry) Fresh(now time.Time, skew time.Duration) bool {
	return e.AccessToken != "" && now.Add(skew).Before(e.ExpiresAt)
}

// Session is everything the identity client caches for one browser session.
type Session struct {
	Accounts        []identity.Account `json:"accounts"`
	ActiveAccountID string             `json:"activeAccountId,omitempty"`
	Tokens          map[string]Entry   `json:"tokens"`
	// Pending is the redirect response captured at the callback and not yet handled.
	Pending   url.Values `json:"pending,omitempty"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Repo persists sessions. Get returns errors.ErrSessionNotFound for unknown ids.
type Repo interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	Upsert(ctx context.Context, sessionID string, session *Session, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
}

func (s *Session) clone() *Session {
	c := &Session{
		Accounts:        slices.Clone(s.Accounts),
		ActiveAccountID: s.ActiveAccountID,
		Tokens:          make(map[string]Entry, len(s.Tokens)),
		UpdatedAt:       s.UpdatedAt,
	}
	for id, e := range s.Tokens {
		e.Scopes = slices.Clone(e.Scopes)
		c.Tokens[id] = e
	}
	if s.Pending != nil {
		c.Pending = make(url.Values, len(s.Pending))
		for k, v := range s.Pending {
			c.Pending[k] = slices.Clone(v)
		}
	}
	return c
}
