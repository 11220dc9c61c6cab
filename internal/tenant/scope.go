package tenant

import (
	"fmt"
	"slices"

	"github.com/tourline/tourline/internal/auth"
	"github.com/tourline/tourline/internal/rbac"
)

// Scope is the set of organizations a query may touch. The zero value
// denies everything.
type Scope struct {
	unrestricted bool
	orgs         []string
}

// Unrestricted returns a scope with no organization filter.
func Unrestricted() Scope {
	return Scope{unrestricted: true}
}

// DenyAll returns a scope that matches no rows.
func DenyAll() Scope {
	return Scope{}
}

// Only returns a scope restricted to the given organizations.
func Only(orgIDs ...string) Scope {
	return Scope{orgs: slices.Clone(orgIDs)}
}

// ScopeFor decides which organizations identity may read. explicitOrgID is an
// optional caller-supplied filter ("" for none).
//
// Superusers, and holders of VIEW_ALL_RESERVATIONS, see everything unless
// they narrow to one organization. Everyone else is limited to their active
// memberships; an explicit organization outside that set, or no memberships
// at all, yields a scope that matches nothing.
func ScopeFor(identity *auth.Identity, perms rbac.Permissions, explicitOrgID string) Scope {
	if identity.IsAnonymous() {
		return DenyAll()
	}

	if perms.CanActAcrossOrganizations() || perms.CanViewAllReservations() {
		if explicitOrgID != "" {
			return Only(explicitOrgID)
		}
		return Unrestricted()
	}

	if explicitOrgID != "" {
		if identity.MemberOf(explicitOrgID) {
			return Only(explicitOrgID)
		}
		return DenyAll()
	}
	return Only(identity.OrganizationIDs...)
}

// WriteScopeFor decides which organizations identity may change. Read grants
// such as VIEW_ALL_RESERVATIONS never widen it; only callers acting across
// organizations reach beyond their own memberships.
func WriteScopeFor(identity *auth.Identity, perms rbac.Permissions, explicitOrgID string) Scope {
	if identity.IsAnonymous() {
		return DenyAll()
	}

	if perms.CanActAcrossOrganizations() {
		if explicitOrgID != "" {
			return Only(explicitOrgID)
		}
		return Unrestricted()
	}

	if explicitOrgID != "" {
		if identity.MemberOf(explicitOrgID) {
			return Only(explicitOrgID)
		}
		return DenyAll()
	}
	return Only(identity.OrganizationIDs...)
}

// IsUnrestricted reports whether the scope applies no filter.
func (s Scope) IsUnrestricted() bool {
	return s.unrestricted
}

// DeniesAll reports whether the scope can never match a row.
func (s Scope) DeniesAll() bool {
	return !s.unrestricted && len(s.orgs) == 0
}

// OrganizationIDs returns the allowed organizations, or nil when unrestricted.
func (s Scope) OrganizationIDs() []string {
	if s.unrestricted {
		return nil
	}
	return slices.Clone(s.orgs)
}

// Allows reports whether a row owned by orgID is inside the scope. Rows with
// no owner are only visible through an unrestricted scope.
func (s Scope) Allows(orgID string) bool {
	if s.unrestricted {
		return true
	}
	return orgID != "" && slices.Contains(s.orgs, orgID)
}

// Clause renders the scope as a SQL predicate on column, using $argIndex for
// its single parameter when one is needed.
func (s Scope) Clause(column string, argIndex int) (string, []any) {
	switch {
	case s.unrestricted:
		return "TRUE", nil
	case len(s.orgs) == 0:
		return "FALSE", nil
	default:
		return fmt.Sprintf("%s = ANY($%d::uuid[])", column, argIndex), []any{slices.Clone(s.orgs)}
	}
}
