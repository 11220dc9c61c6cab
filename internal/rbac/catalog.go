package rbac

import (
	"fmt"

	"github.com/tourline/tourline/internal/auth"
)

// catalog maps each role to its baseline permissions. It is never mutated
// after package initialization.
var catalog = map[auth.Role][]Permission{
	auth.RoleSuperuser: AllPermissions,
	auth.RoleAgencyAdmin: {
		ViewReservations, ManageReservations,
		ViewTourBookings, ManageTourBookings,
		ManageUsers, ManageOrganization,
		ViewReports, ManagePrices,
	},
	auth.RoleAgencyUser: {
		ViewReservations, ManageReservations,
		ViewTourBookings, ManageTourBookings,
	},
	auth.RoleSeller: {
		ViewReservations, ManageReservations,
		ViewTourBookings,
	},
	auth.RoleOperations: {
		ViewReservations,
		ViewTourBookings, ManageTourBookings,
		ViewReports,
	},
	auth.RoleCustomer: {},
}

// Baseline returns a copy of the permissions role confers by default.
// Unknown roles get the empty set.
func Baseline(role auth.Role) []Permission {
	perms, ok := catalog[role]
	if !ok {
		return []Permission{}
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// ValidateCatalog checks that every role has a catalog entry and that every
// entry names only known permissions. Run it once at startup.
func ValidateCatalog() error {
	return validateCatalog(catalog)
}

func validateCatalog(c map[auth.Role][]Permission) error {
	for _, role := range auth.AllRoles {
		perms, ok := c[role]
		if !ok {
			return fmt.Errorf("%w: no entry for role %s", ErrCatalogIncomplete, role)
		}
		for _, p := range perms {
			if !p.Known() {
				return fmt.Errorf("%w: role %s names %q", ErrUnknownPermission, role, p)
			}
		}
	}
	for role := range c {
		if !role.Valid() {
			return fmt.Errorf("%w: entry for undeclared role %q", ErrCatalogIncomplete, role)
		}
	}
	return nil
}
