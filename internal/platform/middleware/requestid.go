package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"retrace/pkg/requestcontext"
)

// RequestIDHeader is the inbound correlation header. When a caller supplies it,
// every change log entry produced by the request shares its value.
const RequestIDHeader = "X-Request-ID"

// RequestID ensures every request carries a correlation token. Externally
// supplied tokens are kept as-is; generated ones carry a "gen-" prefix so
// synthetic IDs are distinguishable from caller-supplied ones downstream.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = "gen-" + uuid.NewString()
		}

		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
