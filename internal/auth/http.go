// ABOUTME: HTTP middleware for static shared-secret bearer authentication
// ABOUTME: Compares the Authorization header against the current API key in constant time

package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// KeyFunc returns the key requests must present. It is called per request so
// a config reload takes effect without rebuilding the handler chain.
type KeyFunc func() string

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// CheckBearer reports whether authHeader is exactly "Bearer <key>".
// An empty key never matches.
func CheckBearer(authHeader, key string) bool {
	if key == "" {
		return false
	}
	token, errMsg := extractBearerToken(authHeader)
	if errMsg != "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1
}

// RequireBearer creates an HTTP middleware that rejects requests whose bearer
// token does not match key(). Rejections get 403 with an empty body and no
// hint about what was wrong; the reason is only logged.
func RequireBearer(key KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !CheckBearer(header, key()) {
				reason := "key mismatch"
				if _, errMsg := extractBearerToken(header); errMsg != "" {
					reason = errMsg
				}
				logger.Warn("bearer authentication failed", "remote", r.RemoteAddr, "reason", reason)
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
