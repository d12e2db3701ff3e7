package apiserver

import (
	"errors"
	"net/http"
	"strings"
)

var (
	errMissingKey = errors.New("missing API key")
	errInvalidKey = errors.New("invalid API key")
	errExpiredKey = errors.New("API key expired")
)

// extractToken pulls a bearer token from X-API-Key or a
// "Authorization: Bearer <token>" header, in that order, matching the
// original's verify_api_key precedence.
func extractToken(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("bearer "):])
	}
	return ""
}

// requireAPIKey wraps next with API-key authentication backed by store.
func requireAPIKey(store *KeyStore, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, errMissingKey.Error())
			return
		}
		if _, err := store.Verify(token); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, r)
	}
}
