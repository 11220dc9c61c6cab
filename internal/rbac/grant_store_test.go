package rbac_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/tourline/tourline/internal/auth"
	"github.com/tourline/tourline/internal/platform/database"
	"github.com/tourline/tourline/internal/rbac"
)

func setupGrantDB(t *testing.T) *pgxpool.Pool {
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

func insertUser(t *testing.T, pool *pgxpool.Pool, username string, role auth.Role) string {
	t.Helper()
	var id string
	err := pool.QueryRow(context.Background(),
		`INSERT INTO users (username, email, password_hash, role)
		 VALUES ($1, $1 || '@example.test', 'x', $2) RETURNING id::text`,
		username, role,
	).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestGrantStore_Lifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	pool := setupGrantDB(t)
	ctx := context.Background()
	store := rbac.NewGrantStore(pool)
	ev := rbac.NewEvaluator(store)

	seller := insertUser(t, pool, "seller", auth.RoleSeller)
	admin := insertUser(t, pool, "admin", auth.RoleSuperuser)

	perms, err := ev.EffectivePermissions(ctx, seller, auth.RoleSeller)
	require.NoError(t, err)
	assert.False(t, perms.CanManageUsers())

	g, err := store.Grant(ctx, seller, rbac.ManageUsers, admin)
	require.NoError(t, err)
	assert.True(t, g.Active)
	require.NotNil(t, g.GrantedBy)
	assert.Equal(t, admin, *g.GrantedBy)

	// Granting twice keeps a single row.
	_, err = store.Grant(ctx, seller, rbac.ManageUsers, "")
	require.NoError(t, err)

	perms, err = ev.EffectivePermissions(ctx, seller, auth.RoleSeller)
	require.NoError(t, err)
	assert.True(t, perms.CanManageUsers())

	require.NoError(t, store.Revoke(ctx, seller, rbac.ManageUsers))
	require.ErrorIs(t, store.Revoke(ctx, seller, rbac.ManageUsers), rbac.ErrGrantNotFound)

	perms, err = ev.EffectivePermissions(ctx, seller, auth.RoleSeller)
	require.NoError(t, err)
	assert.False(t, perms.CanManageUsers())

	all, err := store.List(ctx, seller)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Active, "revoked grants keep their row")

	_, err = store.Grant(ctx, seller, "FLY_PLANES", admin)
	require.ErrorIs(t, err, rbac.ErrUnknownPermission)
}
