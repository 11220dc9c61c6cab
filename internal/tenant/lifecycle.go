package tenant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tourline/tourline/internal/audit"
	"github.com/tourline/tourline/internal/auth"
)

// OwnedRecordType names a table whose rows belong to an organization through
// a nullable organization_id column and record their author in created_by.
type OwnedRecordType struct {
	Name  string
	Table string
}

// DefaultOwnedRecordTypes lists the organization-owned tables, in the order
// they are cleared on deletion and repaired on backfill.
var DefaultOwnedRecordTypes = []OwnedRecordType{
	{Name: "reservations", Table: "reservations"},
	{Name: "tour_bookings", Table: "tour_bookings"},
}

// LifecycleStore runs work inside a single transaction. When fn returns an
// error nothing it did is kept.
type LifecycleStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx LifecycleTx) error) error
}

// LifecycleTx is the set of persistence primitives available inside a
// lifecycle transaction.
type LifecycleTx interface {
	// LockOrganization locks the organization row for the rest of the
	// transaction and reports whether it exists.
	LockOrganization(ctx context.Context, orgID string) (bool, error)
	// DeleteMany deletes the rows of table whose column equals value.
	DeleteMany(ctx context.Context, table, column, value string) (int64, error)
	// BulkUpdate assigns orgID to the rows of table with no organization,
	// optionally only those created by filter.CreatedBy.
	BulkUpdate(ctx context.Context, table, orgID string, filter BackfillFilter) (int64, error)
}

// BackfillFilter narrows an ownership backfill.
type BackfillFilter struct {
	CreatedBy string `json:"created_by,omitempty"`
}

// DeletionReport counts what an organization deletion removed.
type DeletionReport struct {
	OrganizationID    string           `json:"organization_id"`
	ModuleActivations int64            `json:"module_activations"`
	Memberships       int64            `json:"memberships"`
	Records           map[string]int64 `json:"records"`
}

// BackfillReport counts the rows assigned per record type.
type BackfillReport struct {
	OrganizationID string           `json:"organization_id"`
	Updated        map[string]int64 `json:"updated"`
}

// Total is the number of rows assigned across all record types.
func (r BackfillReport) Total() int64 {
	var n int64
	for _, c := range r.Updated {
		n += c
	}
	return n
}

// Lifecycle performs destructive, platform-level organization operations.
// Both operations are reserved for superusers.
type Lifecycle struct {
	store   LifecycleStore
	records []OwnedRecordType
	audit   audit.Logger
	logger  *slog.Logger
}

// NewLifecycle creates a lifecycle manager. With no record types given,
// DefaultOwnedRecordTypes is used.
func NewLifecycle(store LifecycleStore, auditLog audit.Logger, logger *slog.Logger, records ...OwnedRecordType) *Lifecycle {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if len(records) == 0 {
		records = DefaultOwnedRecordTypes
	}
	return &Lifecycle{store: store, records: records, audit: auditLog, logger: logger}
}

// DeleteOrganization removes orgID with its module activations, membership
// links and owned records, all in one transaction. If any step fails the
// organization is left exactly as it was.
func (l *Lifecycle) DeleteOrganization(ctx context.Context, identity *auth.Identity, orgID string) (*DeletionReport, error) {
	if !identity.IsSuperuser() {
		return nil, ErrForbidden
	}

	var report *DeletionReport
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx LifecycleTx) error {
		report = &DeletionReport{OrganizationID: orgID, Records: make(map[string]int64, len(l.records))}

		found, err := tx.LockOrganization(ctx, orgID)
		if err != nil {
			return fmt.Errorf("locking organization: %w", err)
		}
		if !found {
			return ErrOrganizationNotFound
		}

		if report.ModuleActivations, err = tx.DeleteMany(ctx, "module_activations", "organization_id", orgID); err != nil {
			return fmt.Errorf("deleting module activations: %w", err)
		}
		if report.Memberships, err = tx.DeleteMany(ctx, "organization_members", "organization_id", orgID); err != nil {
			return fmt.Errorf("deleting memberships: %w", err)
		}
		for _, rt := range l.records {
			n, err := tx.DeleteMany(ctx, rt.Table, "organization_id", orgID)
			if err != nil {
				return fmt.Errorf("deleting %s: %w", rt.Name, err)
			}
			report.Records[rt.Name] = n
		}

		n, err := tx.DeleteMany(ctx, "organizations", "id", orgID)
		if err != nil {
			return fmt.Errorf("deleting organization: %w", err)
		}
		if n == 0 {
			return ErrOrganizationNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "organization deleted",
		"organization_id", orgID,
		"module_activations", report.ModuleActivations,
		"memberships", report.Memberships,
		"records", report.Records,
	)
	l.audit.Log(ctx, audit.Event{
		OrganizationID: audit.OrganizationRef(orgID),
		UserID:         audit.ActorID(identity),
		Action:         audit.ActionOrganizationDeleted,
		ResourceType:   "organization",
		ResourceID:     orgID,
		Metadata: map[string]any{
			"module_activations": report.ModuleActivations,
			"memberships":        report.Memberships,
			"records":            report.Records,
		},
		Source: audit.SourceAPI,
	})
	return report, nil
}

// BackfillOwnership assigns orgID to owned records that have none. Each
// record type is repaired in its own transaction, so a failure keeps the
// counts of the types already done. Running it again is a no-op.
func (l *Lifecycle) BackfillOwnership(ctx context.Context, identity *auth.Identity, orgID string, filter BackfillFilter) (BackfillReport, error) {
	report := BackfillReport{OrganizationID: orgID, Updated: make(map[string]int64, len(l.records))}
	if !identity.IsSuperuser() {
		return report, ErrForbidden
	}

	for _, rt := range l.records {
		var updated int64
		err := l.store.RunInTx(ctx, func(ctx context.Context, tx LifecycleTx) error {
			found, err := tx.LockOrganization(ctx, orgID)
			if err != nil {
				return fmt.Errorf("locking organization: %w", err)
			}
			if !found {
				return ErrOrganizationNotFound
			}
			updated, err = tx.BulkUpdate(ctx, rt.Table, orgID, filter)
			if err != nil {
				return fmt.Errorf("backfilling %s: %w", rt.Name, err)
			}
			return nil
		})
		if err != nil {
			return report, err
		}
		report.Updated[rt.Name] = updated
	}

	l.logger.InfoContext(ctx, "ownership backfilled",
		"organization_id", orgID,
		"created_by", filter.CreatedBy,
		"updated", report.Updated,
	)
	if report.Total() > 0 {
		l.audit.Log(ctx, audit.Event{
			OrganizationID: audit.OrganizationRef(orgID),
			UserID:         audit.ActorID(identity),
			Action:         audit.ActionOwnershipBackfilled,
			ResourceType:   "organization",
			ResourceID:     orgID,
			Metadata: map[string]any{
				"updated":    report.Updated,
				"created_by": filter.CreatedBy,
			},
			Source: audit.SourceAPI,
		})
	}
	return report, nil
}
