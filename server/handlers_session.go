package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	streamPingInterval = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// SessionStateHandler returns the session's bridge state.
func (s *Server) SessionStateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, err := s.sessionID(w, r, true)
		if err != nil {
			writeJSONError(w, "server_error", err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, s.registry.Attach(r.Context(), sid).State())
	}
}

// SessionStreamHandler pushes the session's bridge state over a websocket on
// every change, following the session onto a new bridge when it is replaced.
func (s *Server) SessionStreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, err := s.sessionID(w, r, true)
		if err != nil {
			writeJSONError(w, "server_error", err.Error(), http.StatusInternalServerError)
			return
		}

		l := log.With().Str("handler", "SessionStream").Str("session", sid).Logger()
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			l.Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			for {
				if _, _, err := conn.NextReader(); err != nil {
					cancel()
					return
				}
			}
		}()

		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()

		for {
			b := s.registry.Attach(ctx, sid)
			states, unsubscribe := b.Subscribe()
			replaced := false
			for !replaced {
				select {
				case <-ctx.Done():
					unsubscribe()
					l.Debug().Msg("stopping stream: client closed connection")
					return
				case state, ok := <-states:
					if !ok {
						replaced = true
						break
					}
					_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
					if err := conn.WriteJSON(state); err != nil {
						unsubscribe()
						l.Debug().Err(err).Msg("failed to write state")
						return
					}
				case <-ticker.C:
					if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second)); err != nil {
						unsubscribe()
						l.Debug().Err(err).Msg("failed to write keepalive")
						return
					}
				}
			}
			unsubscribe()
		}
	}
}
