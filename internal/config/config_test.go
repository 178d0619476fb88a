package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-sso-bridge/internal/config"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	c, err := config.LoadFrom(context.Background(), map[string]string{
		"SSO_IDENTITY_CLIENT_ID": "client-1",
	})
	require.NoError(t, err)

	require.Equal(t, ":8080", c.GetPort())
	require.Equal(t, "DEV", c.GetEnv())
	require.True(t, c.IsDev())
	require.Equal(t, "http://localhost:8080", c.GetBaseURL())

	require.Equal(t, "client-1", c.GetClientID())
	require.Equal(t, "common", c.GetTenantID())
	require.Equal(t, "https://login.microsoftonline.com", c.GetAuthorityHost())
	require.Equal(t, []string{"User.Read"}, c.GetScopes())
	require.Equal(t, uint(3), c.GetDiscoveryAttempts())

	require.Equal(t, 8*time.Hour, c.GetSessionMaxAge())
	require.Equal(t, 15*time.Minute, c.GetFlowTimeout())
	require.Equal(t, 5*time.Minute, c.GetTokenExpirySkew())
	require.Len(t, c.GetCookieSecret(), 32)
	require.False(t, c.HasCookieSecret())

	require.Equal(t, config.StoreDriverMemory, c.GetStoreDriver())
	require.Empty(t, c.GetAllowedOrigins())

	require.NoError(t, c.Validate())
}

func TestLoadFrom_Overrides(t *testing.T) {
	c, err := config.LoadFrom(context.Background(), map[string]string{
		"SSO_PORT":                        ":9000",
		"SSO_ENV":                         "prod",
		"SSO_BASE_URL":                    "https://app.example.com/",
		"SSO_CORS_ALLOWED_ORIGINS":        "https://a.example.com, https://b.example.com",
		"SSO_IDENTITY_CLIENT_ID":          "client-2",
		"SSO_IDENTITY_TENANT_ID":          "contoso.onmicrosoft.com",
		"SSO_IDENTITY_SCOPES":             "User.Read,Mail.Read",
		"SSO_SECURITY_COOKIE_SECRET":      "0123456789abcdef0123456789abcdef",
		"SSO_SECURITY_SESSION_MAX_AGE":    "1h",
		"SSO_STORE_DRIVER":                "redis",
		"SSO_STORE_REDIS_ADDR":            "redis:6379",
		"SSO_STORE_REDIS_DB":              "2",
		"SSO_IDENTITY_DISCOVERY_ATTEMPTS": "5",
	})
	require.NoError(t, err)

	require.Equal(t, ":9000", c.GetPort())
	require.Equal(t, "PROD", c.GetEnv())
	require.False(t, c.IsDev())
	require.Equal(t, "https://app.example.com", c.GetBaseURL())
	require.True(t, c.GetAllowedOrigins().IsAllowedOrigin("https://b.example.com"))
	require.Equal(t, "contoso.onmicrosoft.com", c.GetTenantID())
	require.Equal(t, []string{"User.Read", "Mail.Read"}, c.GetScopes())
	require.Equal(t, time.Hour, c.GetSessionMaxAge())
	require.Equal(t, config.StoreDriverRedis, c.GetStoreDriver())
	require.Equal(t, "redis:6379", c.GetRedisAddr())
	require.Equal(t, 2, c.GetRedisDB())
	require.True(t, c.HasCookieSecret())
	require.Equal(t, uint(5), c.GetDiscoveryAttempts())

	require.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	t.Run("missing client id", func(t *testing.T) {
		c, err := config.LoadFrom(context.Background(), map[string]string{})
		require.NoError(t, err)
		err = c.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "identity")
	})

	t.Run("invalid redirect uri", func(t *testing.T) {
		c, err := config.LoadFrom(context.Background(), map[string]string{
			"SSO_IDENTITY_CLIENT_ID":    "client-1",
			"SSO_IDENTITY_REDIRECT_URI": "not a url",
		})
		require.NoError(t, err)
		require.Error(t, c.Validate())
	})

	t.Run("short cookie secret", func(t *testing.T) {
		c, err := config.LoadFrom(context.Background(), map[string]string{
			"SSO_IDENTITY_CLIENT_ID":     "client-1",
			"SSO_SECURITY_COOKIE_SECRET": "short",
		})
		require.NoError(t, err)
		err = c.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "security")
	})

	t.Run("unknown store driver", func(t *testing.T) {
		c, err := config.LoadFrom(context.Background(), map[string]string{
			"SSO_IDENTITY_CLIENT_ID": "client-1",
			"SSO_STORE_DRIVER":       "etcd",
		})
		require.NoError(t, err)
		err = c.Validate()
		require.Error(t, err)
		require.Contains(t, err.Error(), "store")
	})
}
