package tokencache

import (
	"context"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/jrsteele09/go-sso-bridge/identity"
	"github.com/jrsteele09/go-sso-bridge/internal/errors"
)

// errUnchanged lets an update callback skip the write.
var errUnchanged = errors.New("session unchanged")

// Cache is the identity client's per-session account and token cache.
// Read-modify-write cycles are serialised within the process.
type Cache struct {
	repo Repo
	ttl  time.Duration
	now  func() time.Time

	mu sync.Mutex
}

// New returns a Cache whose sessions expire ttl after their last write.
func New(repo Repo, ttl time.Duration) *Cache {
	return &Cache{repo: repo, ttl: ttl, now: time.Now}
}

func (c *Cache) Accounts(ctx context.Context, sessionID string) ([]identity.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.Accounts, nil
}

// ActiveAccount returns the session's active account, or nil when none is set.
func (c *Cache) ActiveAccount(ctx context.Context, sessionID string) (*identity.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return findAccount(s, s.ActiveAccountID), nil
}

// SetActiveAccount marks a cached account as active. An empty id clears it.
func (c *Cache) SetActiveAccount(ctx context.Context, sessionID, homeAccountID string) error {
	return c.update(ctx, sessionID, func(s *Session) error {
		if homeAccountID != "" && findAccount(s, homeAccountID) == nil {
			return errors.Wrapf(errors.ErrNotFound, "account %s", homeAccountID)
		}
		s.ActiveAccountID = homeAccountID
		return nil
	})
}

// SaveAccount caches account with its tokens and makes it the active account.
func (c *Cache) SaveAccount(ctx context.Context, sessionID string, account identity.Account, tokens Entry) error {
	return c.update(ctx, sessionID, func(s *Session) error {
		i := slices.IndexFunc(s.Accounts, func(a identity.Account) bool { return a.HomeAccountID == account.HomeAccountID })
		if i >= 0 {
			s.Accounts[i] = account
		} else {
			s.Accounts = append(s.Accounts, account)
		}
		tokens.HomeAccountID = account.HomeAccountID
		s.Tokens[account.HomeAccountID] = tokens
		s.ActiveAccountID = account.HomeAccountID
		return nil
	})
}

// Token returns the cached tokens for an account.
func (c *Cache) Token(ctx context.Context, sessionID, homeAccountID string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.load(ctx, sessionID)
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := s.Tokens[homeAccountID]
	return e, ok, nil
}

func (c *Cache) PutToken(ctx context.Context, sessionID string, tokens Entry) error {
	return c.update(ctx, sessionID, func(s *Session) error {
		if findAccount(s, tokens.HomeAccountID) == nil {
			return errors.Wrapf(errors.ErrNotFound, "account %s", tokens.HomeAccountID)
		}
		s.Tokens[tokens.HomeAccountID] = tokens
		return nil
	})
}

// SetPendingResponse records the provider's redirect response for the next HandleRedirect.
func (c *Cache) SetPendingResponse(ctx context.Context, sessionID string, params url.Values) error {
	return c.update(ctx, sessionID, func(s *Session) error {
		s.Pending = params
		return nil
	})
}

// TakePendingResponse returns and clears the pending redirect response. It
// returns nil when there is none.
func (c *Cache) TakePendingResponse(ctx context.Context, sessionID string) (url.Values, error) {
	var pending url.Values
	err := c.update(ctx, sessionID, func(s *Session) error {
		if s.Pending == nil {
			return errUnchanged
		}
		pending = s.Pending
		s.Pending = nil
		return nil
	})
	return pending, err
}

// Clear drops every account and token cached for the session.
func (c *Cache) Clear(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repo.Delete(ctx, sessionID)
}

func (c *Cache) load(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, errors.ErrNoSession
	}
	s, err := c.repo.Get(ctx, sessionID)
	if errors.Is(err, errors.ErrSessionNotFound) {
		return &Session{Tokens: map[string]Entry{}}, nil
	}
	if err != nil {
		return nil, err
	}
	if s.Tokens == nil {
		s.Tokens = map[string]Entry{}
	}
	return s, nil
}

func (c *Cache) update(ctx context.Context, sessionID string, fn func(*Session) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		if errors.Is(err, errUnchanged) {
			return nil
		}
		return err
	}
	s.UpdatedAt = c.now().UTC()
	return c.repo.Upsert(ctx, sessionID, s, c.ttl)
}

func findAccount(s *Session, homeAccountID string) *identity.Account {
	if homeAccountID == "" {
		return nil
	}
	for i := range s.Accounts {
		if s.Accounts[i].HomeAccountID == homeAccountID {
			a := s.Accounts[i]
			return &a
		}
	}
	return nil
}
