package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/tjfontaine/polyglot-keyconf/internal/core/ports"
)

// authContextKey is the context key for the authenticated admin.
type authContextKey struct{}

// AuthMiddleware validates the bearer token and injects the auth context.
func AuthMiddleware(provider ports.AuthProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("Authorization")
			if apiKey == "" {
				writeError(w, http.StatusUnauthorized, "authentication_error", "missing Authorization header")
				return
			}
			apiKey = strings.TrimPrefix(apiKey, "Bearer ")

			ac, err := provider.Authenticate(r.Context(), apiKey)
			if err != nil {
				AddError(r.Context(), err)
				writeError(w, http.StatusUnauthorized, "authentication_error", "invalid API key")
				return
			}

			AddLogField(r.Context(), "principal", ac.Principal)
			ctx := context.WithValue(r.Context(), authContextKey{}, ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAuth retrieves the auth context. Returns nil if no admin is set.
func GetAuth(ctx context.Context) *ports.AuthContext {
	if ac, ok := ctx.Value(authContextKey{}).(*ports.AuthContext); ok {
		return ac
	}
	return nil
}
