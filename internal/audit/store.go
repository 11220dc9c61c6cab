package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tourline/tourline/internal/platform/database"
)

const eventColumns = 7

// Store handles audit event persistence.
type Store struct{}

// NewStore creates an audit Store.
func NewStore() *Store {
	return &Store{}
}

// InsertBatch writes events in a single multi-row INSERT.
func (s *Store) InsertBatch(ctx context.Context, db database.Querier, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	sql, args, err := buildBatchInsert(events)
	if err != nil {
		return fmt.Errorf("building batch insert: %w", err)
	}
	if _, err := db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting audit events: %w", err)
	}
	return nil
}

func buildBatchInsert(events []Event) (string, []any, error) {
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*eventColumns)

	for i, e := range events {
		n := i * eventColumns
		placeholders = append(placeholders, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7,
		))

		var meta []byte
		if e.Metadata != nil {
			var err error
			meta, err = json.Marshal(e.Metadata)
			if err != nil {
				return "", nil, fmt.Errorf("marshaling metadata for %s: %w", e.Action, err)
			}
		}

		var resourceID *string
		if e.ResourceID != "" {
			resourceID = &e.ResourceID
		}

		args = append(args, e.OrganizationID, e.UserID, e.Action, e.ResourceType, resourceID, meta, e.Source)
	}

	sql := "INSERT INTO audit_events (organization_id, user_id, action, resource_type, resource_id, metadata, source) VALUES " +
		strings.Join(placeholders, ", ")
	return sql, args, nil
}

// Record is a persisted audit event.
type Record struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID *uuid.UUID      `json:"organization_id"`
	UserID         *uuid.UUID      `json:"user_id"`
	Action         string          `json:"action"`
	ResourceType   string          `json:"resource_type"`
	ResourceID     *string         `json:"resource_id"`
	Metadata       json.RawMessage `json:"metadata"`
	Source         string          `json:"source"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ListParams filters audit queries. Zero values mean "any".
type ListParams struct {
	OrganizationID *uuid.UUID
	Action         string
	After          *time.Time
	Limit          int
}

// List returns the newest events matching p.
func (s *Store) List(ctx context.Context, db database.Querier, p ListParams) ([]Record, error) {
	sql, args := buildListQuery(p)
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.UserID, &r.Action, &r.ResourceType,
			&r.ResourceID, &r.Metadata, &r.Source, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func buildListQuery(p ListParams) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if p.OrganizationID != nil {
		add("organization_id = $%d", *p.OrganizationID)
	}
	if p.Action != "" {
		add("action = $%d", p.Action)
	}
	if p.After != nil {
		add("created_at > $%d", *p.After)
	}

	where := "TRUE"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}

	limit := p.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)

	sql := fmt.Sprintf(`SELECT id, organization_id, user_id, action, resource_type, resource_id, metadata, source, created_at
		FROM audit_events
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, where, len(args))
	return sql, args
}
