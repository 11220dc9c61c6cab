package tenant

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrSubdomainTaken       = errors.New("organization subdomain already in use")
	ErrInvalidSubdomain     = errors.New("invalid organization subdomain")
	ErrMembershipExists     = errors.New("user is already an active member")
	ErrMembershipNotFound   = errors.New("membership not found")
	ErrInvalidModule        = errors.New("invalid module id")
	ErrForbidden            = errors.New("forbidden")
)

// Organization is a tenant: a travel agency or operator account.
type Organization struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name"`
	Subdomain             string     `json:"subdomain"`
	Active                bool       `json:"is_active"`
	SubscriptionPlan      string     `json:"subscription_plan"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Member links a user to an organization.
type Member struct {
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	LinkRole       string    `json:"link_role"`
	Active         bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// ModuleActivation records whether a feature module is enabled for an
// organization.
type ModuleActivation struct {
	OrganizationID string     `json:"organization_id"`
	ModuleID       string     `json:"module_id"`
	Enabled        bool       `json:"is_enabled"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

var subdomainPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,61}[a-z0-9]$`)

var reservedSubdomains = map[string]bool{
	"api": true, "app": true, "www": true, "admin": true,
	"auth": true, "static": true, "assets": true, "mail": true,
}

// ValidateSubdomain checks that subdomain is a usable DNS label.
func ValidateSubdomain(subdomain string) error {
	if !subdomainPattern.MatchString(subdomain) {
		return fmt.Errorf("%w: need 3-63 lowercase letters, digits or inner hyphens", ErrInvalidSubdomain)
	}
	if reservedSubdomains[subdomain] {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidSubdomain, subdomain)
	}
	return nil
}

var modulePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,47}$`)

// ValidateModuleID checks a module identifier such as "tours" or "hotel_sync".
func ValidateModuleID(id string) error {
	if !modulePattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidModule, id)
	}
	return nil
}
