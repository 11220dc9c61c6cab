package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tourline/tourline/internal/audit"
	"github.com/tourline/tourline/internal/auth"
	"github.com/tourline/tourline/internal/booking"
	"github.com/tourline/tourline/internal/platform/config"
	"github.com/tourline/tourline/internal/platform/database"
	"github.com/tourline/tourline/internal/platform/server"
	"github.com/tourline/tourline/internal/platform/telemetry"
	"github.com/tourline/tourline/internal/rbac"
	"github.com/tourline/tourline/internal/tenant"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	// A broken catalog would silently widen or narrow every role.
	if err := rbac.ValidateCatalog(); err != nil {
		return fmt.Errorf("permission catalog: %w", err)
	}
	if len(cfg.Auth.JWT.SigningKey) < 32 {
		return fmt.Errorf("auth.jwt.signingkey must be at least 32 bytes")
	}

	slog.Info("tourline starting", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pool *database.Pool
	if cfg.Database.URL != "" {
		slog.Info("connecting to database")
		p, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		pool = p
		defer pool.Close()

		migrationsURL := fmt.Sprintf("file://%s", cfg.Database.MigrationsPath)
		if err := database.RunMigrations(cfg.Database.URL, migrationsURL); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("migrations complete")
	} else {
		slog.Warn("no database configured, serving health checks only")
	}

	deps, closeAudit := buildDependencies(pool, cfg, logger)
	defer func() {
		if err := closeAudit(); err != nil {
			slog.Error("closing audit logger", "error", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, deps)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	slog.Info("tourline stopped")
	return nil
}

// buildDependencies wires stores and handlers. Without a pool only the
// public routes are served. The returned func flushes the audit logger.
func buildDependencies(pool *database.Pool, cfg *config.Config, logger *slog.Logger) (server.Dependencies, func() error) {
	deps := server.Dependencies{
		Pool:               pool,
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
	}
	if pool == nil {
		return deps, func() error { return nil }
	}

	tokenSvc := auth.NewTokenService(
		cfg.Auth.JWT.SigningKey,
		cfg.Auth.JWT.Issuer,
		cfg.Auth.JWT.ExpiryHours,
		cfg.Auth.JWT.RefreshExpiryHours,
	)
	users := auth.NewUserStore(pool)
	organizations := tenant.NewStore(pool)
	memberships := tenant.NewMembershipStore(pool)
	grants := rbac.NewGrantStore(pool)
	evaluator := rbac.NewEvaluator(grants)

	auditLogger := audit.NewAsyncLogger(pool, audit.NewStore(), auditConfig(cfg.Audit), logger)

	lifecycle := tenant.NewLifecycle(
		tenant.NewPostgresLifecycleStore(pool),
		auditLogger,
		logger,
		tenant.DefaultOwnedRecordTypes...,
	)

	deps.AuthHandler = auth.NewHandler(tokenSvc, users)
	deps.Resolver = auth.NewResolver(tokenSvc, memberships, logger)
	deps.Organizations = organizations
	deps.RBAC = evaluator
	deps.AuditLogger = auditLogger
	deps.OrganizationHandler = tenant.NewHandler(
		organizations,
		memberships,
		tenant.NewModuleStore(pool),
		lifecycle,
		evaluator,
		auditLogger,
	)
	deps.UserHandler = tenant.NewUserHandler(users, memberships, evaluator, auditLogger)
	deps.GrantHandler = rbac.NewHandler(grants, memberships, evaluator, auditLogger)
	deps.BookingHandler = booking.NewHandler(pool, booking.NewStore(), evaluator)
	deps.AuditHandler = audit.NewHandler(pool, audit.NewStore())

	return deps, auditLogger.Close
}

func auditConfig(c config.AuditConfig) audit.LoggerConfig {
	return audit.LoggerConfig{
		BufferSize:    c.BufferSize,
		BatchSize:     c.BatchSize,
		FlushInterval: time.Duration(c.FlushInterval) * time.Millisecond,
	}
}
