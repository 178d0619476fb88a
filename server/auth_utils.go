package server

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/jrsteele09/go-sso-bridge/internal/errors"
	"golang.org/x/crypto/hkdf"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"

	// sessionCookieName is the signed, encrypted cookie carrying the browser session id
	sessionCookieName = "sso_session"
	sessionIDKey      = "sid"
)

// newCookieStore derives separate signing and encryption keys from secret.
func newCookieStore(secret string, maxAge time.Duration, secure bool) (*sessions.CookieStore, error) {
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("go-sso-bridge session cookie"))
	hashKey := make([]byte, 64)
	blockKey := make([]byte, 32)
	if _, err := io.ReadFull(kdf, hashKey); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(kdf, blockKey); err != nil {
		return nil, err
	}

	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store, nil
}

// sessionID returns the browser session id from the cookie. With create set
// a new session is started (and the cookie written) when there is none.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request, create bool) (string, error) {
	// A cookie that fails to decode (rotated secret, tampering) yields a fresh session.
	sess, _ := s.cookies.Get(r, sessionCookieName)
	if sid, ok := sess.Values[sessionIDKey].(string); ok && sid != "" {
		return sid, nil
	}
	if !create {
		return "", errors.ErrNoSession
	}

	sid := uuid.NewString()
	sess.Values[sessionIDKey] = sid
	if err := sess.Save(r, w); err != nil {
		return "", fmt.Errorf("[Server sessionID] failed to save session cookie: %w", err)
	}
	return sid, nil
}

// navigate sends the user agent to target. Script clients asking for JSON get
// the URL in the body, HTMX gets HX-Redirect, everything else a 303.
func navigate(w http.ResponseWriter, r *http.Request, target string) {
	switch {
	case isHTMXRequest(r):
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
	case wantsJSON(r):
		writeJSON(w, http.StatusOK, map[string]string{"redirect": target})
	default:
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

// isHTMXRequest checks if the request was initiated by HTMX
func isHTMXRequest(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

// safeReturnURL only accepts same-site absolute paths.
func safeReturnURL(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	return raw
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code, description string, status int) {
	writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}
