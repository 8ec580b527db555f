package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

type contextKey string

const identityKey contextKey = "identity"

// Middleware verifies the Authorization header and injects the caller's
// identity into the request context. Failures map to HTTP 401.
func Middleware(manager *TokenManager, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, "authorization header is missing")
				return
			}

			token := strings.TrimPrefix(header, "Bearer ")
			if token == header {
				unauthorized(w, "invalid authorization header format")
				return
			}

			identity, err := manager.Verify(token)
			if err != nil {
				logger.WithError(err).Warn("Token verification failed")
				unauthorized(w, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the verified identity, if any
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*Identity)
	return identity, ok
}

// WithIdentity returns a context carrying the given identity. Test helper
// and building block for internal callers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
