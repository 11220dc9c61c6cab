package main

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourline/tourline/internal/platform/config"
	"github.com/tourline/tourline/internal/platform/database"
)

func TestBuildDependencies_NoPool(t *testing.T) {
	cfg := &config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}}}

	deps, closeFn := buildDependencies(nil, cfg, nil)
	require.NotNil(t, closeFn)
	assert.NoError(t, closeFn())

	assert.Nil(t, deps.Resolver)
	assert.Nil(t, deps.RBAC)
	assert.Nil(t, deps.OrganizationHandler)
	assert.Nil(t, deps.BookingHandler)
	assert.Equal(t, []string{"http://localhost:3000"}, deps.CORSAllowedOrigins)
}

func TestBuildDependencies_WithPool(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.JWT.SigningKey = "test-signing-key-must-be-32-chars!!"
	cfg.Auth.JWT.Issuer = "tourline"
	cfg.Auth.JWT.ExpiryHours = 1
	cfg.Auth.JWT.RefreshExpiryHours = 2

	pool := (*database.Pool)(&pgxpool.Pool{})
	deps, closeFn := buildDependencies(pool, cfg, nil)
	t.Cleanup(func() { _ = closeFn() })

	assert.NotNil(t, deps.AuthHandler)
	assert.NotNil(t, deps.Resolver)
	assert.NotNil(t, deps.Organizations)
	assert.NotNil(t, deps.RBAC)
	assert.NotNil(t, deps.AuditLogger)
	assert.NotNil(t, deps.OrganizationHandler)
	assert.NotNil(t, deps.UserHandler)
	assert.NotNil(t, deps.GrantHandler)
	assert.NotNil(t, deps.BookingHandler)
	assert.NotNil(t, deps.AuditHandler)
}

func TestAuditConfig_FlushIntervalIsMilliseconds(t *testing.T) {
	got := auditConfig(config.AuditConfig{BufferSize: 10, BatchSize: 5, FlushInterval: 250})

	assert.Equal(t, 10, got.BufferSize)
	assert.Equal(t, 5, got.BatchSize)
	assert.Equal(t, 250*time.Millisecond, got.FlushInterval)
}
