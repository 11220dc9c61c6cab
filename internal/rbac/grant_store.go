package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/tourline/tourline/internal/platform/database"
)

// Grant is a per-user permission override. Revoked grants keep their row
// with Active=false.
type Grant struct {
	UserID     string     `json:"user_id"`
	Permission Permission `json:"permission"`
	Active     bool       `json:"is_active"`
	GrantedBy  *string    `json:"granted_by,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// GrantStore persists permission grants.
type GrantStore struct {
	db database.Querier
}

func NewGrantStore(db database.Querier) *GrantStore {
	return &GrantStore{db: db}
}

// ActiveGrants returns the permissions currently granted to userID.
func (s *GrantStore) ActiveGrants(ctx context.Context, userID string) ([]Permission, error) {
	rows, err := s.db.Query(ctx,
		`SELECT permission FROM permission_grants
		 WHERE user_id = $1 AND is_active
		 ORDER BY permission`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying grants: %w", err)
	}
	defer rows.Close()

	perms := []Permission{}
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// Grant activates perm for userID, creating the row when needed. Granting an
// already active permission is a no-op apart from granted_by.
func (s *GrantStore) Grant(ctx context.Context, userID string, perm Permission, grantedBy string) (*Grant, error) {
	if !perm.Known() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPermission, perm)
	}

	var by *string
	if grantedBy != "" {
		by = &grantedBy
	}

	var g Grant
	err := s.db.QueryRow(ctx,
		`INSERT INTO permission_grants (user_id, permission, is_active, granted_by)
		 VALUES ($1, $2, true, $3)
		 ON CONFLICT (user_id, permission)
		 DO UPDATE SET is_active = true, granted_by = EXCLUDED.granted_by, updated_at = now()
		 RETURNING user_id::text, permission, is_active, granted_by::text, updated_at`,
		userID, perm, by,
	).Scan(&g.UserID, &g.Permission, &g.Active, &g.GrantedBy, &g.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("granting %s: %w", perm, err)
	}
	return &g, nil
}

// Revoke deactivates an active grant.
func (s *GrantStore) Revoke(ctx context.Context, userID string, perm Permission) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE permission_grants SET is_active = false, updated_at = now()
		 WHERE user_id = $1 AND permission = $2 AND is_active`,
		userID, perm)
	if err != nil {
		return fmt.Errorf("revoking %s: %w", perm, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// List returns every grant row for userID, active or not.
func (s *GrantStore) List(ctx context.Context, userID string) ([]Grant, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id::text, permission, is_active, granted_by::text, updated_at
		 FROM permission_grants WHERE user_id = $1
		 ORDER BY permission`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	defer rows.Close()

	grants := []Grant{}
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.UserID, &g.Permission, &g.Active, &g.GrantedBy, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
