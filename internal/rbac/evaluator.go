package rbac

import (
	"context"
	"fmt"
	"slices"

	"github.com/tourline/tourline/internal/auth"
)

// GrantSource loads the active per-user permission overrides.
type GrantSource interface {
	ActiveGrants(ctx context.Context, userID string) ([]Permission, error)
}

// Permissions is an effective permission set: the role baseline plus the
// user's active grants. All predicates are pure.
type Permissions struct {
	role auth.Role
	set  map[Permission]struct{}
}

// NewPermissions builds the effective set from a role and its grants.
// Grants naming permissions outside the vocabulary are ignored.
func NewPermissions(role auth.Role, grants []Permission) Permissions {
	base := Baseline(role)
	set := make(map[Permission]struct{}, len(base)+len(grants))
	for _, p := range base {
		set[p] = struct{}{}
	}
	for _, p := range grants {
		if p.Known() {
			set[p] = struct{}{}
		}
	}
	return Permissions{role: role, set: set}
}

// Role returns the role the set was computed for.
func (p Permissions) Role() auth.Role {
	return p.role
}

// Has reports whether perm is in the set. SUPERUSER has every permission.
func (p Permissions) Has(perm Permission) bool {
	if p.role == auth.RoleSuperuser {
		return true
	}
	_, ok := p.set[perm]
	return ok
}

// HasAny reports whether at least one of perms is in the set.
func (p Permissions) HasAny(perms ...Permission) bool {
	return slices.ContainsFunc(perms, p.Has)
}

// List returns the effective permissions in vocabulary order.
func (p Permissions) List() []Permission {
	out := []Permission{}
	for _, perm := range AllPermissions {
		if p.Has(perm) {
			out = append(out, perm)
		}
	}
	return out
}

// CanViewAllReservations lifts tenant scoping for reads only.
func (p Permissions) CanViewAllReservations() bool {
	return p.role == auth.RoleSuperuser || p.Has(ViewAllReservations)
}

// CanActAcrossOrganizations reports whether writes may target organizations
// the caller is not a member of. No grant confers it.
func (p Permissions) CanActAcrossOrganizations() bool {
	return p.role == auth.RoleSuperuser
}

// CanAssignRole reports whether the caller may create users with role.
func (p Permissions) CanAssignRole(role auth.Role) bool {
	if !p.CanManageUsers() {
		return false
	}
	return role != auth.RoleSuperuser || p.CanActAcrossOrganizations()
}

// CanGrant reports whether the caller may grant perm to someone else. Only
// callers acting across organizations may hand out permissions they lack
// or VIEW_ALL_RESERVATIONS.
func (p Permissions) CanGrant(perm Permission) bool {
	if !p.CanManagePermissions() || !perm.Known() {
		return false
	}
	if p.CanActAcrossOrganizations() {
		return true
	}
	return perm != ViewAllReservations && p.Has(perm)
}

func (p Permissions) CanManageOrganization() bool { return p.Has(ManageOrganization) }
func (p Permissions) CanManageUsers() bool { return p.Has(ManageUsers) }
func (p Permissions) CanManagePermissions() bool { return p.Has(ManagePermissions) }
func (p Permissions) CanManageModules() bool { return p.Has(ManageModules) }

// Evaluator computes effective permissions for resolved identities.
type Evaluator struct {
	grants GrantSource
}

func NewEvaluator(grants GrantSource) *Evaluator {
	return &Evaluator{grants: grants}
}

// EffectivePermissions returns Baseline(role) ∪ active grants for userID.
// A superuser needs no lookup.
func (e *Evaluator) EffectivePermissions(ctx context.Context, userID string, role auth.Role) (Permissions, error) {
	if role == auth.RoleSuperuser || userID == "" || e.grants == nil {
		return NewPermissions(role, nil), nil
	}

	grants, err := e.grants.ActiveGrants(ctx, userID)
	if err != nil {
		return Permissions{}, fmt.Errorf("loading grants: %w", err)
	}
	return NewPermissions(role, grants), nil
}

type permissionsContextKey struct{}

// WithPermissions caches an effective set for the rest of the request.
func WithPermissions(ctx context.Context, p Permissions) context.Context {
	return context.WithValue(ctx, permissionsContextKey{}, p)
}

// ForRequest returns the effective set for identity, reusing the copy cached
// in ctx when present. The cache lives only as long as the request context.
func (e *Evaluator) ForRequest(ctx context.Context, identity *auth.Identity) (Permissions, error) {
	if p, ok := ctx.Value(permissionsContextKey{}).(Permissions); ok {
		return p, nil
	}
	if identity.IsAnonymous() {
		return NewPermissions("", nil), nil
	}
	return e.EffectivePermissions(ctx, identity.UserID, identity.Role)
}
