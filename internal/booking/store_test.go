package booking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tourline/tourline/internal/auth"
	"github.com/tourline/tourline/internal/booking"
	"github.com/tourline/tourline/internal/platform/database"
	"github.com/tourline/tourline/internal/rbac"
	"github.com/tourline/tourline/internal/tenant"
)

var errRecorded = errors.New("recorded")

// recordingQuerier captures the last query and fails it.
type recordingQuerier struct {
	sql  string
	args []any
}

func (q *recordingQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.sql, q.args = sql, args
	return nil, errRecorded
}

func (q *recordingQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("unexpected QueryRow")
}

func (q *recordingQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("unexpected Exec")
}

func TestListReservations_ScopedSQL(t *testing.T) {
	q := &recordingQuerier{}
	store := booking.NewStore()

	_, err := store.ListReservations(context.Background(), q, tenant.Only("org-a", "org-b"), 20)
	require.ErrorIs(t, err, errRecorded)
	assert.Contains(t, q.sql, "WHERE organization_id = ANY($1::uuid[])")
	assert.Contains(t, q.sql, "LIMIT $2")
	assert.Equal(t, []any{[]string{"org-a", "org-b"}, 20}, q.args)

	_, err = store.ListTourBookings(context.Background(), q, tenant.Unrestricted(), 5)
	require.ErrorIs(t, err, errRecorded)
	assert.Contains(t, q.sql, "WHERE TRUE")
	assert.Contains(t, q.sql, "LIMIT $1")
	assert.Equal(t, []any{5}, q.args)
}

func TestList_DenyAllSkipsQuery(t *testing.T) {
	store := booking.NewStore()

	reservations, err := store.ListReservations(context.Background(), nil, tenant.DenyAll(), 10)
	require.NoError(t, err)
	assert.Empty(t, reservations)
	assert.NotNil(t, reservations)

	bookings, err := store.ListTourBookings(context.Background(), nil, tenant.DenyAll(), 10)
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

func TestCreate_RequiresOrganization(t *testing.T) {
	store := booking.NewStore()
	ctx := context.Background()

	_, err := store.CreateReservation(ctx, nil, "", "u1", "Ana", "R-1")
	require.ErrorIs(t, err, booking.ErrOrganizationRequired)

	_, err = store.CreateTourBooking(ctx, nil, "", "u1", "Cusco", 2, time.Now())
	require.ErrorIs(t, err, booking.ErrOrganizationRequired)

	_, err = store.CreateTourBooking(ctx, nil, "org-a", "u1", "Cusco", 0, time.Now())
	require.ErrorIs(t, err, booking.ErrInvalidRecord)
}

func setupBookingDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tourline_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(connStr, "file://../../migrations"))

	pool, err := database.Connect(ctx, connStr, 5)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestScopedReads_Isolation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool := setupBookingDB(t)
	ctx := context.Background()
	orgs := tenant.NewStore(pool)
	store := booking.NewStore()

	orgA, err := orgs.Create(ctx, "Andes Tours", "andes-tours", "")
	require.NoError(t, err)
	orgB, err := orgs.Create(ctx, "Baltic Cruises", "baltic", "")
	require.NoError(t, err)

	_, err = store.CreateReservation(ctx, pool, orgA.ID, "", "Ana", "A-1")
	require.NoError(t, err)
	_, err = store.CreateReservation(ctx, pool, orgB.ID, "", "Bruno", "B-1")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO reservations (customer_name, reference) VALUES ('Legacy', 'L-1')`)
	require.NoError(t, err)

	member := &auth.Identity{UserID: "u1", Role: auth.RoleSeller, OrganizationIDs: []string{orgA.ID}}
	loner := &auth.Identity{UserID: "u2", Role: auth.RoleSeller, OrganizationIDs: []string{}}
	root := &auth.Identity{UserID: "u3", Role: auth.RoleSuperuser}

	list := func(identity *auth.Identity, explicit string) []booking.Reservation {
		scope := tenant.ScopeFor(identity, rbac.NewPermissions(identity.Role, nil), explicit)
		got, err := store.ListReservations(ctx, pool, scope, 100)
		require.NoError(t, err)
		return got
	}

	got := list(member, "")
	require.Len(t, got, 1)
	assert.Equal(t, "A-1", got[0].Reference)

	assert.Empty(t, list(member, orgB.ID), "explicit foreign organization is denied")
	assert.Empty(t, list(loner, ""), "no memberships sees nothing")
	assert.Len(t, list(root, ""), 3, "superuser sees every row including legacy")
	assert.Len(t, list(root, orgB.ID), 1)

	aRow := list(root, orgA.ID)[0]
	_, err = store.GetReservation(ctx, pool, tenant.Only(orgB.ID), aRow.ID)
	require.ErrorIs(t, err, booking.ErrNotFound)

	fetched, err := store.GetReservation(ctx, pool, tenant.Only(orgA.ID), aRow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", fetched.CustomerName)

	tb, err := store.CreateTourBooking(ctx, pool, orgA.ID, "", "Sacred Valley", 3,
		time.Date(2026, 12, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 3, tb.Pax)

	bookings, err := store.ListTourBookings(ctx, pool, tenant.Only(orgB.ID), 10)
	require.NoError(t, err)
	assert.Empty(t, bookings)
}
