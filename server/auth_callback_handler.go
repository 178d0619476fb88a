package server

import (
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"
)

// Parameters of the provider's redirect response that are kept for HandleRedirect.
var callbackParams = []string{"code", "state", "error", "error_description", "error_uri", "session_state"}

// CallbackHandler captures the provider's redirect response for the session,
// starts a fresh bridge (which consumes it) and sends the user back to where
// the flow began.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, err := s.sessionID(w, r, false)
		if err != nil {
			writeJSONError(w, "invalid_request", "no session for this callback", http.StatusBadRequest)
			return
		}

		// r.FormValue works for both query params and POST form data
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, "invalid_request", "failed to parse callback parameters", http.StatusBadRequest)
			return
		}
		params := url.Values{}
		for _, key := range callbackParams {
			if v := r.FormValue(key); v != "" {
				params.Set(key, v)
			}
		}
		if params.Get("state") == "" {
			writeJSONError(w, "invalid_request", "missing state parameter", http.StatusBadRequest)
			return
		}

		returnURL := "/"
		if flow, err := s.flows.Get(r.Context(), params.Get("state")); err == nil && flow.SessionID == sid {
			returnURL = safeReturnURL(flow.ReturnURL)
		}

		if err := s.cache.SetPendingResponse(r.Context(), sid, params); err != nil {
			log.Err(err).Str("session", sid).Msg("failed to store redirect response")
			writeJSONError(w, "server_error", "failed to store redirect response", http.StatusInternalServerError)
			return
		}

		b := s.registry.Reload(r.Context(), sid)
		if state := b.State(); state.Error != "" {
			log.Warn().Str("session", sid).Str("error", state.Error).Msg("sign-in did not complete")
		}

		http.Redirect(w, r, returnURL, http.StatusSeeOther)
	}
}
