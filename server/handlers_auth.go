package server

import (
	"net/http"

	"github.com/jrsteele09/go-sso-bridge/bridge"
	"github.com/rs/zerolog/log"
)

// LoginHandler starts a redirect sign-in for the session.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, err := s.sessionID(w, r, true)
		if err != nil {
			log.Err(err).Msg("login: no session")
			writeJSONError(w, "server_error", err.Error(), http.StatusInternalServerError)
			return
		}

		b := s.registry.Attach(r.Context(), sid)
		b.Login(r.Context(),
			bridge.WithReturnURL(safeReturnURL(r.FormValue("returnUrl"))),
			bridge.WithLoginHint(r.FormValue("loginHint")),
			bridge.WithPrompt(r.FormValue("prompt")),
		)
		s.completeNavigation(w, r, b)
	}
}

// LogoutHandler starts a redirect sign-out for the session.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, err := s.sessionID(w, r, false)
		if err != nil {
			navigate(w, r, "/")
			return
		}

		b := s.registry.Attach(r.Context(), sid)
		b.Logout(r.Context())
		s.completeNavigation(w, r, b)
	}
}

// completeNavigation follows the navigation an operation started, or reports
// the bridge state when it did not start one.
func (s *Server) completeNavigation(w http.ResponseWriter, r *http.Request, b *bridge.Bridge) {
	if target, ok := b.TakeNavigation(); ok {
		// The user agent leaves the page; the next request starts a new bridge.
		s.registry.Forget(b.SessionID())
		navigate(w, r, target)
		return
	}

	state := b.State()
	switch {
	case b.Phase() == bridge.PhaseUnavailable:
		writeJSON(w, http.StatusServiceUnavailable, state)
	case state.Error != "":
		writeJSON(w, http.StatusBadGateway, state)
	default:
		writeJSON(w, http.StatusOK, state)
	}
}

// TokenHandler returns an access token for the session's active account.
// When one needs user interaction it answers 401 with the redirect to follow.
func (s *Server) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, err := s.sessionID(w, r, false)
		if err != nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		b := s.registry.Attach(r.Context(), sid)
		if token, ok := b.AccessToken(r.Context()); ok {
			writeJSON(w, http.StatusOK, map[string]string{"accessToken": token})
			return
		}
		if target, ok := b.TakeNavigation(); ok {
			s.registry.Forget(sid)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"redirect": target})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HealthHandler reports liveness and whether the identity client is loaded.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, loaded := s.loader.Client()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"identityClient": loaded,
			"sessions":       s.registry.Len(),
		})
	}
}

// PreflightHandler answers CORS preflight requests; the headers are set by CorsMiddleware.
func (s *Server) PreflightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}
