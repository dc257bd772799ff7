package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"retrace/pkg/requestcontext"
)

// Actor resolves the authenticated actor from a JWT bearer token and stores its
// subject in the request context. Resolution is best-effort: requests without a
// token, or with an invalid one, proceed anonymously. The audit trail records a
// null userId in that case rather than rejecting the business operation.
func Actor(signingKey []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok || token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return signingKey, nil
			})
			if err != nil || !parsed.Valid {
				logger.WarnContext(ctx, "invalid bearer token, proceeding anonymously",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}

			subject, err := parsed.Claims.GetSubject()
			if err != nil || subject == "" {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithUserID(ctx, subject)))
		})
	}
}
