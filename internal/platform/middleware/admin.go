package middleware

import (
	"crypto/subtle"
	"net/http"
)

// AdminTokenHeader guards the audit query API.
const AdminTokenHeader = "X-Admin-Token"

// AdminOnly rejects requests that do not carry the configured admin token.
// An empty configured token disables the API entirely rather than opening it.
func AdminOnly(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied := r.Header.Get(AdminTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
