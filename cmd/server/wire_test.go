package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/go-sso-bridge/internal/config"
	"github.com/stretchr/testify/require"
)

func loadTestConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	c, err := config.LoadFrom(context.Background(), env)
	require.NoError(t, err)
	return c
}

func TestIdentityConfig_Defaults(t *testing.T) {
	c := loadTestConfig(t, map[string]string{
		"SSO_BASE_URL":           "https://app.example.com/",
		"SSO_IDENTITY_CLIENT_ID": "client-a",
	})

	cfg := identityConfig(c)
	require.Equal(t, "client-a", cfg.ClientID)
	require.Equal(t, "common", cfg.TenantID)
	require.Equal(t, "https://app.example.com/callback", cfg.RedirectURI)
	require.Equal(t, []string{"User.Read"}, cfg.Scopes)
}

func TestBuild_MemoryStores(t *testing.T) {
	c := loadTestConfig(t, map[string]string{
		"SSO_ENV":                "TEST",
		"SSO_IDENTITY_CLIENT_ID": "client-a",
	})

	a, err := build(context.Background(), c)
	require.NoError(t, err)
	defer a.Close()

	_, loaded := a.loader.Client()
	require.False(t, loaded)

	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuild_RedisUnreachable(t *testing.T) {
	c := loadTestConfig(t, map[string]string{
		"SSO_ENV":                "TEST",
		"SSO_IDENTITY_CLIENT_ID": "client-a",
		"SSO_STORE_DRIVER":       "redis",
		"SSO_STORE_REDIS_ADDR":   "127.0.0.1:1",
	})

	_, err := build(context.Background(), c)
	require.Error(t, err)
}
