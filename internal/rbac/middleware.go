package rbac

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tourline/tourline/internal/audit"
	"github.com/tourline/tourline/internal/auth"
)

// MiddlewareOption configures RBAC middleware behavior.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	audit audit.Logger
}

// WithAuditLogger records denials as access.denied audit events.
func WithAuditLogger(logger audit.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.audit = logger
	}
}

// RequirePermission rejects requests whose identity lacks permission.
func RequirePermission(evaluator *Evaluator, permission Permission, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return Require(evaluator, permission, func(p Permissions) bool { return p.Has(permission) }, opts...)
}

// Require rejects requests whose effective permissions fail allow. permission
// names the check in responses and audit events. Anonymous callers get 401,
// denials 403, and a failed grant lookup 503. The computed permission set is
// cached on the request context.
func Require(evaluator *Evaluator, permission Permission, allow func(Permissions) bool, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	mc := middlewareConfig{audit: audit.NopLogger{}}
	for _, opt := range opts {
		opt(&mc)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity := auth.GetIdentity(ctx)
			if identity.IsAnonymous() {
				writeRBACError(w, http.StatusUnauthorized, "authentication required", "")
				return
			}

			perms, err := evaluator.ForRequest(ctx, identity)
			if err != nil {
				slog.ErrorContext(ctx, "loading permissions", "user_id", identity.UserID, "error", err)
				writeRBACError(w, http.StatusServiceUnavailable, "authorization temporarily unavailable", "")
				return
			}

			if !allow(perms) {
				mc.audit.Log(ctx, audit.Event{
					UserID:       audit.ActorIDFromContext(ctx),
					Action:       audit.ActionAccessDenied,
					ResourceType: "permission",
					ResourceID:   string(permission),
					Metadata: map[string]any{
						"role":   string(identity.Role),
						"method": r.Method,
						"path":   r.URL.Path,
					},
					Source: audit.SourceAPI,
				})
				writeRBACError(w, http.StatusForbidden, "forbidden", "missing permission "+string(permission))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPermissions(ctx, perms)))
		})
	}
}

func writeRBACError(w http.ResponseWriter, status int, message, reason string) {
	body := map[string]string{"error": message}
	if reason != "" {
		body["reason"] = reason
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
