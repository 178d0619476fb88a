package config

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

type SecurityConfig interface {
	GetCookieSecret() string
	HasCookieSecret() bool
	GetSessionMaxAge() time.Duration
	GetFlowTimeout() time.Duration
	GetTokenExpirySkew() time.Duration
}

type Security struct {
	CookieSecret    string        `env:"COOKIE_SECRET"`
	SessionMaxAge   time.Duration `env:"SESSION_MAX_AGE, default=8h"`
	FlowTimeout     time.Duration `env:"FLOW_TIMEOUT, default=15m"`
	TokenExpirySkew time.Duration `env:"TOKEN_EXPIRY_SKEW, default=5m"`
}

var _ SecurityConfig = Security{}

// devCookieSecret is only used when ENV=DEV and no secret was supplied.
const devCookieSecret = "00000000000000000000000000000000"

func (s Security) GetCookieSecret() string {
	if s.CookieSecret == "" {
		return devCookieSecret
	}
	return s.CookieSecret
}

// HasCookieSecret reports whether a secret was configured rather than the DEV fallback.
func (s Security) HasCookieSecret() bool {
	return s.CookieSecret != ""
}

func (s Security) GetSessionMaxAge() time.Duration {
	return s.SessionMaxAge
}

func (s Security) GetFlowTimeout() time.Duration {
	return s.FlowTimeout
}

func (s Security) GetTokenExpirySkew() time.Duration {
	return s.TokenExpirySkew
}

func (s Security) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.CookieSecret, validation.Length(32, 0)),
		validation.Field(&s.SessionMaxAge, validation.Required),
		validation.Field(&s.FlowTimeout, validation.Required),
	)
}
