package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrInvalidCredential is the parent of every verification failure.
	// The Resolver absorbs it into an anonymous identity.
	ErrInvalidCredential = errors.New("invalid credential")

	ErrTokenExpired   = fmt.Errorf("%w: token expired", ErrInvalidCredential)
	ErrTokenInvalid   = fmt.Errorf("%w: token invalid", ErrInvalidCredential)
	ErrTokenMalformed = fmt.Errorf("%w: token malformed", ErrInvalidCredential)
	ErrWrongTokenType = fmt.Errorf("%w: wrong token type", ErrInvalidCredential)

	// ErrUnavailable reports a backend failure during resolution. It must
	// never be treated as "not logged in".
	ErrUnavailable = errors.New("identity backend unavailable")

	ErrUserNotFound   = errors.New("user not found")
	ErrUserInactive   = errors.New("user is inactive")
	ErrInvalidLogin   = errors.New("invalid email or password")
	ErrEmailDuplicate = errors.New("email or username already registered")
	ErrUnknownRole    = errors.New("unknown role")
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Role is the single coarse-grained role carried by every user.
type Role string

const (
	RoleSuperuser   Role = "SUPERUSER"
	RoleAgencyAdmin Role = "AGENCY_ADMIN"
	RoleAgencyUser  Role = "AGENCY_USER"
	RoleSeller      Role = "SELLER"
	RoleOperations  Role = "OPERATIONS"
	RoleCustomer    Role = "CUSTOMER"
)

// AllRoles is the closed role enumeration.
var AllRoles = []Role{
	RoleSuperuser,
	RoleAgencyAdmin,
	RoleAgencyUser,
	RoleSeller,
	RoleOperations,
	RoleCustomer,
}

// Valid reports whether r is a member of AllRoles.
func (r Role) Valid() bool {
	return slices.Contains(AllRoles, r)
}

// Identity is the per-request view of who is asking. The zero value is the
// anonymous identity.
type Identity struct {
	UserID          string    `json:"user_id,omitempty"`
	Role            Role      `json:"role,omitempty"`
	OrganizationIDs []string  `json:"organization_ids"`
	TokenType       string    `json:"-"`
	ExpiresAt       time.Time `json:"-"`
}

// Anonymous returns a fresh anonymous identity.
func Anonymous() *Identity {
	return &Identity{OrganizationIDs: []string{}}
}

// IsAnonymous reports whether no user was resolved.
func (i *Identity) IsAnonymous() bool {
	return i == nil || i.UserID == ""
}

// IsSuperuser reports whether the identity bypasses tenant scoping.
func (i *Identity) IsSuperuser() bool {
	return !i.IsAnonymous() && i.Role == RoleSuperuser
}

// MemberOf reports whether orgID is one of the identity's active memberships.
func (i *Identity) MemberOf(orgID string) bool {
	if i.IsAnonymous() || orgID == "" {
		return false
	}
	return slices.Contains(i.OrganizationIDs, orgID)
}
