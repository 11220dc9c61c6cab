package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

type identityContextKey struct{}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// GetIdentity retrieves the resolved identity from the request context.
// It never returns nil: a request that was not resolved is anonymous.
func GetIdentity(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(identityContextKey{}).(*Identity); ok && identity != nil {
		return identity
	}
	return Anonymous()
}

// Middleware resolves the request identity once and stores it in the
// context. Invalid credentials pass through as anonymous; a backend outage
// is answered with 503.
func Middleware(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolver.Resolve(r.Context(), r.Header)
			if err != nil {
				if errors.Is(err, ErrUnavailable) {
					slog.ErrorContext(r.Context(), "identity resolution failed", "error", err)
					writeAuthError(w, http.StatusServiceUnavailable, "identity service unavailable")
					return
				}
				writeAuthError(w, http.StatusInternalServerError, "identity resolution failed")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireAuthenticated rejects anonymous requests with 401.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetIdentity(r.Context()).IsAnonymous() {
			writeAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSuperuser rejects anonymous requests with 401 and every other
// role with 403.
func RequireSuperuser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := GetIdentity(r.Context())
		if identity.IsAnonymous() {
			writeAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !identity.IsSuperuser() {
			writeAuthError(w, http.StatusForbidden, "superuser required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
