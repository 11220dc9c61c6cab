package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"github.com/tourline/tourline/internal/audit"
	"github.com/tourline/tourline/internal/auth"
)

// GrantManager is the subset of GrantStore the HTTP handler needs.
type GrantManager interface {
	List(ctx context.Context, userID string) ([]Grant, error)
	Grant(ctx context.Context, userID string, perm Permission, grantedBy string) (*Grant, error)
	Revoke(ctx context.Context, userID string, perm Permission) error
}

// Handler serves per-user permission grant endpoints. Callers only reach
// users who share one of their organizations, unless they act across
// organizations.
type Handler struct {
	grants      GrantManager
	memberships auth.MembershipLookup
	evaluator   *Evaluator
	audit       audit.Logger
}

func NewHandler(grants GrantManager, memberships auth.MembershipLookup, evaluator *Evaluator, auditLog audit.Logger) *Handler {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Handler{grants: grants, memberships: memberships, evaluator: evaluator, audit: auditLog}
}

// reachable loads the caller's permissions and checks userID shares an
// organization with the caller. Unreachable users are reported as missing.
func (h *Handler) reachable(w http.ResponseWriter, r *http.Request, userID string) (Permissions, bool) {
	ctx := r.Context()
	identity := auth.GetIdentity(ctx)
	perms, err := h.evaluator.ForRequest(ctx, identity)
	if err != nil {
		slog.ErrorContext(ctx, "loading permissions", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "authorization temporarily unavailable"})
		return Permissions{}, false
	}
	if perms.CanActAcrossOrganizations() {
		return perms, true
	}

	var orgs []string
	if h.memberships != nil {
		orgs, err = h.memberships.ActiveOrganizations(ctx, userID)
		if err != nil {
			slog.ErrorContext(ctx, "loading user memberships", "user_id", userID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load user"})
			return Permissions{}, false
		}
	}
	if !slices.ContainsFunc(orgs, identity.MemberOf) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return Permissions{}, false
	}
	return perms, true
}

// grantable checks the caller may hand out or withdraw perm.
func grantable(w http.ResponseWriter, perms Permissions, perm Permission) bool {
	if !perms.CanGrant(perm) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "cannot grant " + string(perm)})
		return false
	}
	return true
}

// HandleList returns every grant row for the user, active or revoked.
// GET /api/v1/users/{id}/permissions
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	if _, ok := h.reachable(w, r, userID); !ok {
		return
	}

	grants, err := h.grants.List(r.Context(), userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "listing grants", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list grants"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": grants, "count": len(grants)})
}

// HandleGrant activates a permission for the user.
// PUT /api/v1/users/{id}/permissions/{permission}
func (h *Handler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	perm, ok := pathPermission(w, r)
	if !ok {
		return
	}
	perms, ok := h.reachable(w, r, userID)
	if !ok || !grantable(w, perms, perm) {
		return
	}

	grant, err := h.grants.Grant(r.Context(), userID, perm, auth.GetIdentity(r.Context()).UserID)
	if err != nil {
		slog.ErrorContext(r.Context(), "granting permission", "user_id", userID, "permission", perm, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to grant permission"})
		return
	}

	h.audit.Log(r.Context(), audit.Event{
		UserID:       audit.ActorIDFromContext(r.Context()),
		Action:       audit.ActionPermissionGranted,
		ResourceType: "user",
		ResourceID:   userID,
		Metadata:     map[string]any{"permission": string(perm)},
		Source:       audit.SourceAPI,
	})
	writeJSON(w, http.StatusOK, grant)
}

// HandleRevoke deactivates a permission for the user.
// DELETE /api/v1/users/{id}/permissions/{permission}
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	perm, ok := pathPermission(w, r)
	if !ok {
		return
	}
	perms, ok := h.reachable(w, r, userID)
	if !ok || !grantable(w, perms, perm) {
		return
	}

	if err := h.grants.Revoke(r.Context(), userID, perm); err != nil {
		if errors.Is(err, ErrGrantNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "grant not found"})
			return
		}
		slog.ErrorContext(r.Context(), "revoking permission", "user_id", userID, "permission", perm, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to revoke permission"})
		return
	}

	h.audit.Log(r.Context(), audit.Event{
		UserID:       audit.ActorIDFromContext(r.Context()),
		Action:       audit.ActionPermissionRevoked,
		ResourceType: "user",
		ResourceID:   userID,
		Metadata:     map[string]any{"permission": string(perm)},
		Source:       audit.SourceAPI,
	})
	w.WriteHeader(http.StatusNoContent)
}

func pathUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user id"})
		return "", false
	}
	return id.String(), true
}

func pathPermission(w http.ResponseWriter, r *http.Request) (Permission, bool) {
	perm := Permission(r.PathValue("permission"))
	if !perm.Known() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown permission"})
		return "", false
	}
	return perm, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
