package tenant_test

import (
	"context"
	"errors"
	"maps"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourline/tourline/internal/audit"
	"github.com/tourline/tourline/internal/auth"
	"github.com/tourline/tourline/internal/tenant"
)

// row is a generic table row for the in-memory lifecycle store.
type row map[string]string

// memoryLifecycle is an in-memory LifecycleStore. Each transaction works on a
// copy of the tables that replaces the originals only on success.
type memoryLifecycle struct {
	mu     sync.Mutex
	tables map[string][]row
	// failOn makes DeleteMany or BulkUpdate on that table fail.
	failOn string
}

func newMemoryLifecycle() *memoryLifecycle {
	return &memoryLifecycle{tables: map[string][]row{}}
}

func (m *memoryLifecycle) insert(table string, r row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = append(m.tables[table], r)
}

func (m *memoryLifecycle) count(table, column, value string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.tables[table] {
		if r[column] == value {
			n++
		}
	}
	return n
}

func (m *memoryLifecycle) RunInTx(ctx context.Context, fn func(ctx context.Context, tx tenant.LifecycleTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := make(map[string][]row, len(m.tables))
	for name, rows := range m.tables {
		copied := make([]row, len(rows))
		for i, r := range rows {
			copied[i] = maps.Clone(r)
		}
		work[name] = copied
	}

	if err := fn(ctx, &memoryTx{tables: work, failOn: m.failOn}); err != nil {
		return err
	}
	m.tables = work
	return nil
}

type memoryTx struct {
	tables map[string][]row
	failOn string
}

func (t *memoryTx) LockOrganization(_ context.Context, orgID string) (bool, error) {
	for _, r := range t.tables["organizations"] {
		if r["id"] == orgID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) DeleteMany(_ context.Context, table, column, value string) (int64, error) {
	if table == t.failOn {
		return 0, errors.New("simulated failure")
	}
	var kept []row
	var n int64
	for _, r := range t.tables[table] {
		if r[column] == value {
			n++
			continue
		}
		kept = append(kept, r)
	}
	t.tables[table] = kept
	return n, nil
}

func (t *memoryTx) BulkUpdate(_ context.Context, table, orgID string, filter tenant.BackfillFilter) (int64, error) {
	if table == t.failOn {
		return 0, errors.New("simulated failure")
	}
	var n int64
	for _, r := range t.tables[table] {
		if r["organization_id"] != "" {
			continue
		}
		if filter.CreatedBy != "" && r["created_by"] != filter.CreatedBy {
			continue
		}
		r["organization_id"] = orgID
		n++
	}
	return n, nil
}

type captureLogger struct {
	mu     sync.Mutex
	events []audit.Event
}

func (l *captureLogger) Log(_ context.Context, e audit.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *captureLogger) Close() error { return nil }

func (l *captureLogger) Events() []audit.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]audit.Event{}, l.events...)
}

var (
	superuser = &auth.Identity{UserID: "7d0f1c3a-5e2b-4a8d-9f6e-1b2c3d4e5f60", Role: auth.RoleSuperuser}
	agencyAdm = &auth.Identity{UserID: "u-admin", Role: auth.RoleAgencyAdmin, OrganizationIDs: []string{"org-1"}}
)

// seedOrganization creates orgID with the given numbers of module
// activations, memberships, reservations and tour bookings.
func seedOrganization(m *memoryLifecycle, orgID string, modules, members, reservations, tours int) {
	m.insert("organizations", row{"id": orgID})
	for range modules {
		m.insert("module_activations", row{"organization_id": orgID})
	}
	for range members {
		m.insert("organization_members", row{"organization_id": orgID})
	}
	for range reservations {
		m.insert("reservations", row{"organization_id": orgID})
	}
	for range tours {
		m.insert("tour_bookings", row{"organization_id": orgID})
	}
}

func TestDeleteOrganization_RemovesEverything(t *testing.T) {
	store := newMemoryLifecycle()
	seedOrganization(store, "org-1", 2, 3, 4, 5)
	seedOrganization(store, "org-2", 1, 1, 1, 1)
	capture := &captureLogger{}
	lc := tenant.NewLifecycle(store, capture, nil)

	report, err := lc.DeleteOrganization(context.Background(), superuser, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.ModuleActivations)
	assert.Equal(t, int64(3), report.Memberships)
	assert.Equal(t, map[string]int64{"reservations": 4, "tour_bookings": 5}, report.Records)

	for _, table := range []string{"module_activations", "organization_members", "reservations", "tour_bookings"} {
		assert.Zero(t, store.count(table, "organization_id", "org-1"), table)
		assert.Equal(t, 1, store.count(table, "organization_id", "org-2"), table)
	}
	assert.Zero(t, store.count("organizations", "id", "org-1"))

	events := capture.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionOrganizationDeleted, events[0].Action)
	assert.Equal(t, "org-1", events[0].ResourceID)
	require.NotNil(t, events[0].UserID)
}

func TestDeleteOrganization_FailureLeavesOrganizationIntact(t *testing.T) {
	store := newMemoryLifecycle()
	seedOrganization(store, "org-1", 2, 3, 4, 5)
	store.failOn = "tour_bookings"
	capture := &captureLogger{}
	lc := tenant.NewLifecycle(store, capture, nil)

	_, err := lc.DeleteOrganization(context.Background(), superuser, "org-1")
	require.Error(t, err)

	assert.Equal(t, 1, store.count("organizations", "id", "org-1"))
	assert.Equal(t, 2, store.count("module_activations", "organization_id", "org-1"))
	assert.Equal(t, 3, store.count("organization_members", "organization_id", "org-1"))
	assert.Equal(t, 4, store.count("reservations", "organization_id", "org-1"))
	assert.Equal(t, 5, store.count("tour_bookings", "organization_id", "org-1"))
	assert.Empty(t, capture.Events())
}

func TestDeleteOrganization_NotFound(t *testing.T) {
	store := newMemoryLifecycle()
	seedOrganization(store, "org-1", 0, 0, 0, 0)
	lc := tenant.NewLifecycle(store, nil, nil)

	_, err := lc.DeleteOrganization(context.Background(), superuser, "org-1")
	require.NoError(t, err)

	_, err = lc.DeleteOrganization(context.Background(), superuser, "org-1")
	require.ErrorIs(t, err, tenant.ErrOrganizationNotFound)
}

func TestDeleteOrganization_RequiresSuperuser(t *testing.T) {
	store := newMemoryLifecycle()
	seedOrganization(store, "org-1", 1, 1, 1, 1)
	lc := tenant.NewLifecycle(store, nil, nil)

	for _, identity := range []*auth.Identity{nil, auth.Anonymous(), agencyAdm} {
		_, err := lc.DeleteOrganization(context.Background(), identity, "org-1")
		require.ErrorIs(t, err, tenant.ErrForbidden)
	}
	assert.Equal(t, 1, store.count("organizations", "id", "org-1"))
}

func TestBackfillOwnership_AssignsOrphansOnce(t *testing.T) {
	store := newMemoryLifecycle()
	seedOrganization(store, "org-1", 0, 0, 0, 0)
	store.insert("reservations", row{"organization_id": "", "created_by": "alice"})
	store.insert("reservations", row{"organization_id": "", "created_by": "bob"})
	store.insert("reservations", row{"organization_id": "org-9", "created_by": "alice"})
	store.insert("tour_bookings", row{"organization_id": "", "created_by": "alice"})
	capture := &captureLogger{}
	lc := tenant.NewLifecycle(store, capture, nil)
	ctx := context.Background()

	report, err := lc.BackfillOwnership(ctx, superuser, "org-1", tenant.BackfillFilter{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"reservations": 2, "tour_bookings": 1}, report.Updated)
	assert.Equal(t, int64(3), report.Total())
	assert.Equal(t, 1, store.count("reservations", "organization_id", "org-9"), "owned rows untouched")

	again, err := lc.BackfillOwnership(ctx, superuser, "org-1", tenant.BackfillFilter{})
	require.NoError(t, err)
	assert.Zero(t, again.Total())

	require.Len(t, capture.Events(), 1, "a no-op backfill is not audited")
	assert.Equal(t, audit.ActionOwnershipBackfilled, capture.Events()[0].Action)
}

func TestBackfillOwnership_CreatedByFilter(t *testing.T) {
	store := newMemoryLifecycle()
	seedOrganization(store, "org-1", 0, 0, 0, 0)
	store.insert("reservations", row{"organization_id": "", "created_by": "alice"})
	store.insert("reservations", row{"organization_id": "", "created_by": "bob"})
	lc := tenant.NewLifecycle(store, nil, nil)

	report, err := lc.BackfillOwnership(context.Background(), superuser, "org-1", tenant.BackfillFilter{CreatedBy: "alice"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Updated["reservations"])
	assert.Equal(t, 1, store.count("reservations", "created_by", "bob"))
	assert.Equal(t, 1, store.count("reservations", "organization_id", ""))
}

func TestBackfillOwnership_Errors(t *testing.T) {
	store := newMemoryLifecycle()
	seedOrganization(store, "org-1", 0, 0, 0, 0)
	store.insert("reservations", row{"organization_id": ""})
	store.insert("tour_bookings", row{"organization_id": ""})
	lc := tenant.NewLifecycle(store, nil, nil)
	ctx := context.Background()

	_, err := lc.BackfillOwnership(ctx, agencyAdm, "org-1", tenant.BackfillFilter{})
	require.ErrorIs(t, err, tenant.ErrForbidden)

	_, err = lc.BackfillOwnership(ctx, superuser, "org-missing", tenant.BackfillFilter{})
	require.ErrorIs(t, err, tenant.ErrOrganizationNotFound)
	assert.Equal(t, 1, store.count("reservations", "organization_id", ""))

	store.failOn = "tour_bookings"
	report, err := lc.BackfillOwnership(ctx, superuser, "org-1", tenant.BackfillFilter{})
	require.Error(t, err)
	assert.Equal(t, int64(1), report.Updated["reservations"], "earlier record types stay committed")
	assert.Equal(t, 1, store.count("tour_bookings", "organization_id", ""))
}
