package bridge

import (
	"encoding/json"

	"github.com/jrsteele09/go-sso-bridge/identity"
)

// Phase is where a bridge is in its lifecycle.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseAuthenticated
	PhaseUnauthenticated
	// PhaseUnavailable is terminal: the identity client could not be loaded.
	PhaseUnavailable
)

var phaseNames = map[Phase]string{
	PhaseUninitialized:   "uninitialized",
	PhaseInitializing:    "initializing",
	PhaseAuthenticated:   "authenticated",
	PhaseUnauthenticated: "unauthenticated",
	PhaseUnavailable:     "unavailable",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// Account is the signed-in user as the UI sees it.
type Account struct {
	Name          string `json:"name"`
	Username      string `json:"username"`
	TenantID      string `json:"tenantId"`
	HomeAccountID string `json:"homeAccountId"`
}

// ToAccount projects an identity client account. It returns nil for nil.
func ToAccount(a *identity.Account) *Account {
	if a == nil {
		return nil
	}
	return &Account{
		Name:          a.Name,
		Username:      a.Username,
		TenantID:      a.TenantID,
		HomeAccountID: a.HomeAccountID,
	}
}

// State is a snapshot of a bridge. Error is empty when there is none.
type State struct {
	IsAuthenticated bool
	IsLoading       bool
	Account         *Account
	Error           string
}

func (s State) MarshalJSON() ([]byte, error) {
	var errMsg *string
	if s.Error != "" {
		errMsg = &s.Error
	}
	return json.Marshal(struct {
		IsAuthenticated bool     `json:"isAuthenticated"`
		IsLoading       bool     `json:"isLoading"`
		Account         *Account `json:"account"`
		Error           *string  `json:"error"`
	}{s.IsAuthenticated, s.IsLoading, s.Account, errMsg})
}

func (s State) clone() State {
	if s.Account != nil {
		a := *s.Account
		s.Account = &a
	}
	return s
}
