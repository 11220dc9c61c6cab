package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/tourline/tourline/internal/platform/database"
)

// ModuleStore manages per-organization feature module activations.
type ModuleStore struct {
	db database.Querier
}

func NewModuleStore(db database.Querier) *ModuleStore {
	return &ModuleStore{db: db}
}

// List returns every activation row for orgID.
func (s *ModuleStore) List(ctx context.Context, orgID string) ([]ModuleActivation, error) {
	rows, err := s.db.Query(ctx,
		`SELECT organization_id::text, module_id, is_enabled, expires_at, created_at
		 FROM module_activations WHERE organization_id = $1
		 ORDER BY module_id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing modules: %w", err)
	}
	defer rows.Close()

	modules := []ModuleActivation{}
	for rows.Next() {
		var m ModuleActivation
		if err := rows.Scan(&m.OrganizationID, &m.ModuleID, &m.Enabled, &m.ExpiresAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning module: %w", err)
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// Set enables or disables moduleID for orgID.
func (s *ModuleStore) Set(ctx context.Context, orgID, moduleID string, enabled bool, expiresAt *time.Time) (*ModuleActivation, error) {
	if err := ValidateModuleID(moduleID); err != nil {
		return nil, err
	}

	var m ModuleActivation
	err := s.db.QueryRow(ctx,
		`INSERT INTO module_activations (organization_id, module_id, is_enabled, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (organization_id, module_id)
		 DO UPDATE SET is_enabled = EXCLUDED.is_enabled, expires_at = EXCLUDED.expires_at
		 RETURNING organization_id::text, module_id, is_enabled, expires_at, created_at`,
		orgID, moduleID, enabled, expiresAt,
	).Scan(&m.OrganizationID, &m.ModuleID, &m.Enabled, &m.ExpiresAt, &m.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("setting module %s: %w", moduleID, err)
	}
	return &m, nil
}
