package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tourline/tourline/internal/platform/database"
)

const organizationColumns = `id::text, name, subdomain, is_active, subscription_plan,
	subscription_expires_at, created_at, updated_at`

// Store handles organization persistence.
type Store struct {
	db database.Querier
}

// NewStore creates a new organization store.
func NewStore(db database.Querier) *Store {
	return &Store{db: db}
}

func scanOrganization(row pgx.Row) (*Organization, error) {
	var o Organization
	err := row.Scan(&o.ID, &o.Name, &o.Subdomain, &o.Active, &o.SubscriptionPlan,
		&o.SubscriptionExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Create inserts a new organization.
func (s *Store) Create(ctx context.Context, name, subdomain, plan string) (*Organization, error) {
	if err := ValidateSubdomain(subdomain); err != nil {
		return nil, err
	}
	if plan == "" {
		plan = "basic"
	}

	o, err := scanOrganization(s.db.QueryRow(ctx,
		`INSERT INTO organizations (name, subdomain, subscription_plan) VALUES ($1, $2, $3)
		 RETURNING `+organizationColumns,
		name, subdomain, plan,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrSubdomainTaken, subdomain)
		}
		return nil, fmt.Errorf("creating organization: %w", err)
	}
	return o, nil
}

// GetByID retrieves an organization by its UUID.
func (s *Store) GetByID(ctx context.Context, id string) (*Organization, error) {
	o, err := scanOrganization(s.db.QueryRow(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("getting organization: %w", err)
	}
	return o, nil
}

// List returns the organizations inside scope.
func (s *Store) List(ctx context.Context, scope Scope) ([]Organization, error) {
	if scope.DeniesAll() {
		return []Organization{}, nil
	}

	where, args := scope.Clause("id", 1)
	rows, err := s.db.Query(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE `+where+` ORDER BY name`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing organizations: %w", err)
	}
	defer rows.Close()

	orgs := []Organization{}
	for rows.Next() {
		o, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning organization: %w", err)
		}
		orgs = append(orgs, *o)
	}
	return orgs, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
