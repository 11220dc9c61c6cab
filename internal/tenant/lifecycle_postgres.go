package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/tourline/tourline/internal/platform/database"
)

// PostgresLifecycleStore implements LifecycleStore on a pgx pool.
type PostgresLifecycleStore struct {
	db database.TxBeginner
}

func NewPostgresLifecycleStore(db database.TxBeginner) *PostgresLifecycleStore {
	return &PostgresLifecycleStore{db: db}
}

func (s *PostgresLifecycleStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx LifecycleTx) error) error {
	return database.WithTx(ctx, s.db, func(ctx context.Context, q database.Querier) error {
		return fn(ctx, pgLifecycleTx{q: q})
	})
}

type pgLifecycleTx struct {
	q database.Querier
}

func (t pgLifecycleTx) LockOrganization(ctx context.Context, orgID string) (bool, error) {
	var id string
	err := t.q.QueryRow(ctx, `SELECT id::text FROM organizations WHERE id = $1 FOR UPDATE`, orgID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t pgLifecycleTx) DeleteMany(ctx context.Context, table, column, value string) (int64, error) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1",
		pgx.Identifier{table}.Sanitize(), pgx.Identifier{column}.Sanitize())
	tag, err := t.q.Exec(ctx, sql, value)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t pgLifecycleTx) BulkUpdate(ctx context.Context, table, orgID string, filter BackfillFilter) (int64, error) {
	sql := fmt.Sprintf("UPDATE %s SET organization_id = $1 WHERE organization_id IS NULL",
		pgx.Identifier{table}.Sanitize())
	args := []any{orgID}
	if filter.CreatedBy != "" {
		sql += " AND created_by = $2"
		args = append(args, filter.CreatedBy)
	}

	tag, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
