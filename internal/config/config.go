package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Config interface {
	EnvConfig
	CorsConfig
	IdentityConfig
	SecurityConfig
	StoreConfig
	Validate() error
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetBaseURL() string
	GetEnv() string
	IsDev() bool
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars  `env:",prefix=SSO_"`
	Cors     `env:",prefix=SSO_CORS_"`
	Identity `env:",prefix=SSO_IDENTITY_"`
	Security `env:",prefix=SSO_SECURITY_"`
	Store    `env:",prefix=SSO_STORE_"`
}

// Load reads the configuration from SSO_* environment variables.
func Load(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

// LoadFrom reads the configuration from the given key/value pairs instead of the process environment.
func LoadFrom(ctx context.Context, env map[string]string) (Config, error) {
	return load(ctx, envconfig.MapLookuper(env))
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (Config, error) {
	var c mainConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &c,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("[config Load] failed to process environment: %w", err)
	}
	return &c, nil
}

// Validate checks the settings the service cannot start without.
func (c *mainConfig) Validate() error {
	if err := c.Identity.Validate(); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("security: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
