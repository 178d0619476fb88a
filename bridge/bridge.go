// Package bridge tracks the sign-in state of one browser session on top of
// the process-wide identity client and drives its redirect flows.
package bridge

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-sso-bridge/identity"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Bridge is the auth state of one session. Identity client errors never
// escape it; they are recorded in State().Error.
//
// Login, Logout and AccessToken are not serialised against each other. The
// last state write wins.
type Bridge struct {
	loader    *identity.Loader
	sessionID string
	logger    zerolog.Logger
	navigator identity.Navigator

	once  sync.Once
	ready chan struct{}

	mu         sync.RWMutex
	cfg        identity.Config
	phase      Phase
	state      State
	client     identity.Client
	account    *identity.Account
	navigation string
	subs       map[int]chan State
	nextSub    int
	closed     bool
}

// Option configures a Bridge.
type Option func(*Bridge)

func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithNavigator forwards every navigation to nav in addition to recording it
// for TakeNavigation.
func WithNavigator(nav identity.Navigator) Option {
	return func(b *Bridge) {
		b.navigator = nav
	}
}

// New creates an uninitialised bridge for sessionID.
func New(loader *identity.Loader, sessionID string, options ...Option) *Bridge {
	b := &Bridge{
		loader:    loader,
		sessionID: sessionID,
		logger:    log.Logger,
		ready:     make(chan struct{}),
		phase:     PhaseUninitialized,
		state:     State{IsLoading: true},
		subs:      map[int]chan State{},
	}
	for _, opt := range options {
		opt(b)
	}
	b.logger = b.logger.With().Str("session", sessionID).Logger()
	return b
}

func (b *Bridge) SessionID() string {
	return b.sessionID
}

// Ready is closed once Initialize has finished.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// State returns a snapshot of the current state.
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.clone()
}

func (b *Bridge) Phase() Phase {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.phase
}

// Initialize loads the identity client and restores the session's account.
// Only the first call does anything; later calls wait for it to finish.
func (b *Bridge) Initialize(ctx context.Context, cfg identity.Config) {
	b.once.Do(func() {
		defer close(b.ready)
		b.initialize(identity.WithSession(ctx, b.sessionID), cfg)
	})
	<-b.ready
}

func (b *Bridge) initialize(ctx context.Context, cfg identity.Config) {
	b.update(func(s *State) {
		b.cfg = cfg
		b.phase = PhaseInitializing
		s.IsLoading = true
	})

	client, err := b.loader.Load(ctx, cfg)
	if err != nil {
		b.logger.Err(err).Msg("identity client unavailable")
		b.update(func(s *State) {
			b.phase = PhaseUnavailable
			*s = State{Error: (&Error{Kind: KindLibraryUnavailable, Err: err}).Error()}
		})
		return
	}
	b.mu.Lock()
	b.client = client
	b.mu.Unlock()

	account, err := b.restoreAccount(ctx, client)
	b.update(func(s *State) {
		if account != nil {
			b.adopt(s, account)
		} else {
			b.phase = PhaseUnauthenticated
		}
		if err != nil {
			b.record(s, KindAuthenticationFailed, err)
		}
		s.IsLoading = false
	})
}

// restoreAccount prefers the account from a pending redirect response, then
// the active account, then the first cached one. The chosen account is made active.
func (b *Bridge) restoreAccount(ctx context.Context, client identity.Client) (*identity.Account, error) {
	result, err := client.HandleRedirect(ctx)
	if err != nil {
		return nil, err
	}
	if result != nil && result.Account != nil {
		return result.Account, client.SetActiveAccount(ctx, result.Account)
	}

	account, err := client.ActiveAccount(ctx)
	if err != nil {
		return nil, err
	}
	if account == nil {
		accounts, err := client.AllAccounts(ctx)
		if err != nil {
			return nil, err
		}
		if len(accounts) == 0 {
			return nil, nil
		}
		account = &accounts[0]
	}
	return account, client.SetActiveAccount(ctx, account)
}

// LoginOption customises a Login call.
type LoginOption func(*identity.RedirectRequest)

// WithReturnURL is where the user lands after the redirect completes.
func WithReturnURL(returnURL string) LoginOption {
	return func(r *identity.RedirectRequest) {
		r.ReturnURL = returnURL
	}
}

// WithLoginHint pre-fills the username at the provider.
func WithLoginHint(hint string) LoginOption {
	return func(r *identity.RedirectRequest) {
		r.LoginHint = hint
	}
}

// WithPrompt sets the OIDC prompt parameter, e.g. "select_account".
func WithPrompt(prompt string) LoginOption {
	return func(r *identity.RedirectRequest) {
		r.Prompt = prompt
	}
}

// Login starts a redirect sign-in. On success the user agent is navigated
// away and the bridge stays loading.
func (b *Bridge) Login(ctx context.Context, options ...LoginOption) {
	client, cfg := b.current()
	if client == nil {
		b.update(func(s *State) {
			b.record(s, KindNotInitialized, nil)
		})
		return
	}
	b.update(func(s *State) {
		s.Error = ""
		s.IsLoading = true
	})

	req := identity.RedirectRequest{Scopes: cfg.ScopesOrDefault(), Navigator: b.navigate()}
	for _, opt := range options {
		opt(&req)
	}
	if err := client.LoginRedirect(identity.WithSession(ctx, b.sessionID), req); err != nil {
		b.update(func(s *State) {
			b.record(s, KindLoginFailed, err)
			s.IsLoading = false
		})
	}
}

// Logout starts a redirect sign-out. It does nothing when no client is loaded.
func (b *Bridge) Logout(ctx context.Context) {
	client, _ := b.current()
	if client == nil {
		return
	}
	b.mu.Lock()
	account := b.account
	b.mu.Unlock()
	b.update(func(s *State) {
		s.Error = ""
	})

	req := identity.EndSessionRequest{Account: account, Navigator: b.navigate()}
	if err := client.LogoutRedirect(identity.WithSession(ctx, b.sessionID), req); err != nil {
		b.update(func(s *State) {
			b.record(s, KindLogoutFailed, err)
		})
	}
}

// AccessToken returns an access token for the configured scopes. When no
// token can be obtained silently it starts a redirect acquisition and returns
// false; the token is available after the redirect completes.
func (b *Bridge) AccessToken(ctx context.Context) (string, bool) {
	client, cfg := b.current()
	if client == nil {
		return "", false
	}
	ctx = identity.WithSession(ctx, b.sessionID)
	account, err := client.ActiveAccount(ctx)
	if err != nil || account == nil {
		return "", false
	}

	scopes := cfg.ScopesOrDefault()
	result, err := client.AcquireTokenSilent(ctx, identity.SilentRequest{Scopes: scopes, Account: account})
	if err == nil && result != nil && result.AccessToken != "" {
		return result.AccessToken, true
	}
	b.logger.Debug().Err(err).Msg("silent token acquisition failed; redirecting")

	req := identity.RedirectRequest{Scopes: scopes, LoginHint: account.LoginHint, Navigator: b.navigate()}
	if err := client.AcquireTokenRedirect(ctx, req); err != nil {
		b.update(func(s *State) {
			b.record(s, KindTokenAcquisitionFailed, err)
		})
	}
	return "", false
}

// TakeNavigation returns and clears the last URL the bridge navigated to.
func (b *Bridge) TakeNavigation() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	target := b.navigation
	b.navigation = ""
	return target, target != ""
}

func (b *Bridge) navigate() identity.Navigator {
	return identity.NavigatorFunc(func(ctx context.Context, target string) error {
		b.mu.Lock()
		b.navigation = target
		b.mu.Unlock()
		if b.navigator != nil {
			return b.navigator.Navigate(ctx, target)
		}
		return nil
	})
}

// Subscribe delivers the current state and every later change. Slow readers
// only see the latest state. The channel is closed by cancel or Close.
func (b *Bridge) Subscribe() (<-chan State, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan State, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	ch <- b.state.clone()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Close ends every subscription. The bridge is still usable afterwards.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *Bridge) current() (identity.Client, identity.Config) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client, b.cfg
}

// update applies fn under the lock and publishes the result.
func (b *Bridge) update(fn func(*State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.state)
	snapshot := b.state.clone()
	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

// adopt and record must be called from within update.
func (b *Bridge) adopt(s *State, account *identity.Account) {
	a := *account
	b.account = &a
	b.phase = PhaseAuthenticated
	s.Account = ToAccount(account)
	s.IsAuthenticated = true
}

func (b *Bridge) record(s *State, kind Kind, err error) {
	recorded := &Error{Kind: kind, Err: err}
	s.Error = recorded.Error()
	b.logger.Warn().Err(err).Str("kind", kind.String()).Msg(s.Error)
}
