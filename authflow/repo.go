package authflow

import (
	"context"
	"time"
)

// Flow is an authorization request that has been sent to the provider and is
// waiting for its redirect response. It is keyed by the OAuth state parameter.
type Flow struct {
	SessionID    string    `json:"sessionId"`
	CodeVerifier string    `json:"codeVerifier"`
	Nonce        string    `json:"nonce"`
	Scopes       []string  `json:"scopes"`
	ReturnURL    string    `json:"returnUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Repo stores pending flows. Flows expire after the ttl given to Upsert.
type Repo interface {
	Upsert(ctx context.Context, state string, flow *Flow, ttl time.Duration) error
	Get(ctx context.Context, state string) (*Flow, error)
	// Take returns the flow and removes it so a state can only be redeemed once.
	Take(ctx context.Context, state string) (*Flow, error)
	Delete(ctx context.Context, state string) error
}

func (f *Flow) clone() *Flow {
	c := *f
	if f.Scopes != nil {
		c.Scopes = append([]string(nil), f.Scopes...)
	}
	return &c
}
