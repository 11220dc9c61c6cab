package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tourline/tourline/internal/auth"
	"github.com/tourline/tourline/internal/rbac"
	"github.com/tourline/tourline/internal/tenant"
	"golang.org/x/sync/errgroup"
)

// OrganizationLister returns the organizations inside a scope.
type OrganizationLister interface {
	List(ctx context.Context, scope tenant.Scope) ([]tenant.Organization, error)
}

type meResponse struct {
	UserID          string                `json:"user_id"`
	Role            auth.Role             `json:"role"`
	OrganizationIDs []string              `json:"organization_ids"`
	Organizations   []tenant.Organization `json:"organizations,omitempty"`
	Permissions     []rbac.Permission     `json:"permissions"`
}

type meHandler struct {
	organizations OrganizationLister
	evaluator     *rbac.Evaluator
}

// handle reports the caller's identity. Memberships come from the identity
// the resolver built for this request; permissions and organization details
// load concurrently.
func (h *meHandler) handle(w http.ResponseWriter, r *http.Request) {
	identity := auth.GetIdentity(r.Context())

	orgIDs := identity.OrganizationIDs
	if orgIDs == nil {
		orgIDs = []string{}
	}

	var (
		perms rbac.Permissions
		orgs  []tenant.Organization
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		p, err := h.evaluator.ForRequest(ctx, identity)
		if err != nil {
			return err
		}
		perms = p
		return nil
	})
	if h.organizations != nil && len(orgIDs) > 0 {
		g.Go(func() error {
			list, err := h.organizations.List(ctx, tenant.Only(orgIDs...))
			if err != nil {
				return err
			}
			orgs = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.ErrorContext(r.Context(), "loading caller profile", "user_id", identity.UserID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "authorization data unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		UserID:          identity.UserID,
		Role:            identity.Role,
		OrganizationIDs: orgIDs,
		Organizations:   orgs,
		Permissions:     perms.List(),
	})
}
