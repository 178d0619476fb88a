package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-sso-bridge/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:   "sso-bridge",
		Usage:  "backend-for-frontend that keeps browser sessions signed in with Microsoft Entra ID",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP server",
				Action: serve,
				Description: `
Environment variables:
	SSO_PORT                              (default: 8080)
	SSO_BASE_URL                          (default: http://localhost:8080)
	SSO_ENV                               (default: DEV)
	SSO_IDENTITY_CLIENT_ID                (required)
	SSO_IDENTITY_CLIENT_SECRET
	SSO_IDENTITY_TENANT_ID                (default: common)
	SSO_IDENTITY_AUTHORITY_HOST           (default: https://login.microsoftonline.com)
	SSO_IDENTITY_REDIRECT_URI             (default: $SSO_BASE_URL/callback)
	SSO_IDENTITY_POST_LOGOUT_REDIRECT_URI (default: $SSO_BASE_URL/)
	SSO_IDENTITY_SCOPES                   (default: User.Read)
	SSO_SECURITY_COOKIE_SECRET            (required outside DEV, 32+ chars)
	SSO_STORE_DRIVER                      (memory|redis, default: memory)
	SSO_STORE_REDIS_ADDR                  (default: localhost:6379)
	SSO_CORS_ALLOWED_ORIGINS              (comma-separated list)
`,
			},
			{
				Name:   "check",
				Usage:  "validate the configuration and run identity provider discovery",
				Action: check,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func loadConfig(ctx context.Context) (config.Config, error) {
	c, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	if c.IsDev() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if !c.IsDev() && !c.HasCookieSecret() {
		return nil, errors.New("invalid configuration: SSO_SECURITY_COOKIE_SECRET is required outside DEV")
	}
	return c, nil
}

func serve(ctx context.Context, _ *cli.Command) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	displayAppname(c.GetAppName())

	a, err := build(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	server := &http.Server{Addr: c.GetPort(), Handler: a.server, ReadHeaderTimeout: 10 * time.Second}
	errs := make(chan error, 1)
	go func() {
		errs <- listenAndServe(server)
	}()

	ctx, stop := waitForStopSignal(ctx)
	defer stop()
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("Shutting down server")
	return shutdown(server)
}

func check(ctx context.Context, _ *cli.Command) error {
	c, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	a, err := build(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.loader.Load(ctx, a.identity); err != nil {
		return fmt.Errorf("identity provider check failed: %w", err)
	}
	log.Info().
		Str("client_id", a.identity.ClientID).
		Str("tenant", a.identity.Tenant()).
		Str("redirect_uri", a.identity.RedirectURI).
		Msg("configuration OK")
	return nil
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Server listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
