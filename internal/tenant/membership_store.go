package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/tourline/tourline/internal/platform/database"
)

// MembershipStore manages organization_members. It keeps no cache: every
// call reads the table.
type MembershipStore struct {
	db database.Querier
}

func NewMembershipStore(db database.Querier) *MembershipStore {
	return &MembershipStore{db: db}
}

// ActiveOrganizations returns the organizations userID is an active member
// of. A user with no memberships gets an empty, non-nil slice.
func (s *MembershipStore) ActiveOrganizations(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT organization_id::text FROM organization_members
		 WHERE user_id = $1 AND is_active
		 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying memberships: %w", err)
	}
	defer rows.Close()

	orgIDs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		orgIDs = append(orgIDs, id)
	}
	return orgIDs, rows.Err()
}

// AddMember links userID to orgID. An inactive link is reactivated; an
// active one yields ErrMembershipExists.
func (s *MembershipStore) AddMember(ctx context.Context, orgID, userID, linkRole string) (*Member, error) {
	if linkRole == "" {
		linkRole = "member"
	}

	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM organization_members
		 WHERE organization_id = $1 AND user_id = $2 AND is_active)`,
		orgID, userID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking membership: %w", err)
	}
	if exists {
		return nil, ErrMembershipExists
	}

	const returning = ` RETURNING organization_id::text, user_id::text, link_role, is_active, created_at`

	var m Member
	scan := func(row pgx.Row) error {
		return row.Scan(&m.OrganizationID, &m.UserID, &m.LinkRole, &m.Active, &m.CreatedAt)
	}

	err = scan(s.db.QueryRow(ctx,
		`UPDATE organization_members SET is_active = true, link_role = $3, updated_at = now()
		 WHERE id = (SELECT id FROM organization_members
		             WHERE organization_id = $1 AND user_id = $2 AND NOT is_active
		             ORDER BY updated_at DESC LIMIT 1)`+returning,
		orgID, userID, linkRole,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		err = scan(s.db.QueryRow(ctx,
			`INSERT INTO organization_members (organization_id, user_id, link_role)
			 VALUES ($1, $2, $3)`+returning,
			orgID, userID, linkRole,
		))
	}
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return nil, ErrMembershipExists
		case isForeignKeyViolation(err):
			return nil, fmt.Errorf("%w: unknown organization or user", ErrOrganizationNotFound)
		}
		return nil, fmt.Errorf("adding member: %w", err)
	}
	return &m, nil
}

// RemoveMember deactivates the active link between orgID and userID.
func (s *MembershipStore) RemoveMember(ctx context.Context, orgID, userID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE organization_members SET is_active = false, updated_at = now()
		 WHERE organization_id = $1 AND user_id = $2 AND is_active`,
		orgID, userID)
	if err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMembershipNotFound
	}
	return nil
}

// ListMembers returns the active members of orgID.
func (s *MembershipStore) ListMembers(ctx context.Context, orgID string) ([]Member, error) {
	rows, err := s.db.Query(ctx,
		`SELECT m.organization_id::text, m.user_id::text, u.username, m.link_role, m.is_active, m.created_at
		 FROM organization_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.organization_id = $1 AND m.is_active
		 ORDER BY u.username`, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.OrganizationID, &m.UserID, &m.Username, &m.LinkRole, &m.Active, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}
