package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-sso-bridge/authflow"
	"github.com/jrsteele09/go-sso-bridge/bridge"
	"github.com/jrsteele09/go-sso-bridge/identity"
	"github.com/jrsteele09/go-sso-bridge/internal/config"
	"github.com/jrsteele09/go-sso-bridge/tokencache"
	"github.com/rs/zerolog/log"
)

// Deps are the long-lived components the HTTP surface drives.
type Deps struct {
	Loader   *identity.Loader
	Registry *bridge.Registry
	Flows    authflow.Repo
	Cache    *tokencache.Cache
}

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	loader   *identity.Loader
	registry *bridge.Registry
	flows    authflow.Repo
	cache    *tokencache.Cache
	cookies  *sessions.CookieStore
	upgrader websocket.Upgrader
}

func New(config config.Config, deps Deps) (*Server, error) {
	if deps.Loader == nil || deps.Registry == nil || deps.Flows == nil || deps.Cache == nil {
		return nil, fmt.Errorf("[Server New] loader, registry, flow store and token cache are required")
	}
	cookies, err := newCookieStore(config.GetCookieSecret(), config.GetSessionMaxAge(), strings.HasPrefix(config.GetBaseURL(), "https://"))
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to create cookie store: %w", err)
	}

	s := &Server{
		env:      config.GetEnv(),
		mux:      http.NewServeMux(),
		config:   config,
		loader:   deps.Loader,
		registry: deps.Registry,
		flows:    deps.Flows,
		cache:    deps.Cache,
		cookies:  cookies,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	log.Info().Msgf("[%-19s] %s", colourMethod(method), path)
}

// checkOrigin accepts requests without an Origin, same-host origins and configured CORS origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.config.GetAllowedOrigins().IsAllowedOrigin(origin) {
		return true
	}
	return strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://") == r.Host
}
