package main

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-sso-bridge/authflow"
	"github.com/jrsteele09/go-sso-bridge/bridge"
	"github.com/jrsteele09/go-sso-bridge/identity"
	"github.com/jrsteele09/go-sso-bridge/identity/entra"
	"github.com/jrsteele09/go-sso-bridge/internal/config"
	"github.com/jrsteele09/go-sso-bridge/server"
	"github.com/jrsteele09/go-sso-bridge/tokencache"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type app struct {
	server   *server.Server
	loader   *identity.Loader
	identity identity.Config
	closers  []func() error
}

func (a *app) Close() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			log.Err(err).Msg("failed to close resource")
		}
	}
}

// identityConfig is the registration every bridge is initialised with.
func identityConfig(c config.Config) identity.Config {
	redirectURI := c.GetRedirectURI()
	if redirectURI == "" {
		redirectURI = c.GetBaseURL() + server.RouteCallback
	}
	return identity.Config{
		ClientID:    c.GetClientID(),
		TenantID:    c.GetTenantID(),
		RedirectURI: redirectURI,
		Scopes:      c.GetScopes(),
	}
}

func build(ctx context.Context, c config.Config) (*app, error) {
	a := &app{identity: identityConfig(c)}

	flows, cache, err := a.buildStores(ctx, c)
	if err != nil {
		a.Close()
		return nil, err
	}

	postLogout := c.GetPostLogoutRedirectURI()
	if postLogout == "" {
		postLogout = c.GetBaseURL() + "/"
	}
	factory := entra.NewFactory(entra.Options{
		AuthorityHost:         c.GetAuthorityHost(),
		ClientSecret:          c.GetClientSecret(),
		PostLogoutRedirectURI: postLogout,
		FlowTTL:               c.GetFlowTimeout(),
		ExpirySkew:            c.GetTokenExpirySkew(),
		Flows:                 flows,
		Cache:                 cache,
	})
	a.loader = identity.NewLoader(factory, identity.WithRetry(c.GetDiscoveryAttempts(), c.GetDiscoveryDelay()))
	registry := bridge.NewRegistry(a.loader, a.identity, bridge.WithIdleTimeout(c.GetSessionMaxAge()))

	a.server, err = server.New(c, server.Deps{
		Loader:   a.loader,
		Registry: registry,
		Flows:    flows,
		Cache:    cache,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) buildStores(ctx context.Context, c config.Config) (authflow.Repo, *tokencache.Cache, error) {
	switch c.GetStoreDriver() {
	case config.StoreDriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
			DB:       c.GetRedisDB(),
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", c.GetRedisAddr(), err)
		}
		log.Info().Str("addr", c.GetRedisAddr()).Msg("using redis session store")
		return authflow.NewRedisRepo(rdb), tokencache.New(tokencache.NewRedisRepo(rdb), c.GetSessionMaxAge()), nil
	case config.StoreDriverMemory, "":
		return authflow.NewInMemoryRepo(), tokencache.New(tokencache.NewInMemoryRepo(), c.GetSessionMaxAge()), nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", c.GetStoreDriver())
	}
}
