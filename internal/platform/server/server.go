package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tourline/tourline/internal/audit"
	"github.com/tourline/tourline/internal/auth"
	"github.com/tourline/tourline/internal/booking"
	"github.com/tourline/tourline/internal/platform/middleware"
	"github.com/tourline/tourline/internal/rbac"
	"github.com/tourline/tourline/internal/tenant"
)

// Dependencies holds all injected dependencies for the server.
type Dependencies struct {
	Pool                *pgxpool.Pool
	AuthHandler         *auth.Handler
	Resolver            *auth.Resolver
	Organizations       OrganizationLister
	RBAC                *rbac.Evaluator
	AuditLogger         audit.Logger
	OrganizationHandler *tenant.Handler
	UserHandler         *tenant.UserHandler
	GrantHandler        *rbac.Handler
	BookingHandler      *booking.Handler
	AuditHandler        *audit.Handler
	Logger              *slog.Logger
	CORSAllowedOrigins  []string
}

type Server struct {
	httpServer   *http.Server
	protectedMux *http.ServeMux
	pool         *pgxpool.Pool
	handler      http.Handler
}

func New(addr string, deps Dependencies) *Server {
	protectedMux := http.NewServeMux()

	var protectedHandler http.Handler = protectedMux
	if deps.Resolver != nil {
		protectedHandler = auth.Middleware(deps.Resolver)(protectedHandler)
	}

	topMux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		protectedMux: protectedMux,
		pool:         deps.Pool,
	}

	// Public routes
	topMux.HandleFunc("GET /healthz", s.handleHealth)
	topMux.HandleFunc("GET /readyz", s.handleReadiness)
	if deps.AuthHandler != nil {
		deps.AuthHandler.RegisterRoutes(topMux)
	}

	var rbacOpts []rbac.MiddlewareOption
	if deps.AuditLogger != nil {
		rbacOpts = append(rbacOpts, rbac.WithAuditLogger(deps.AuditLogger))
	}
	guard := func(perm rbac.Permission, h http.HandlerFunc) http.Handler {
		return rbac.RequirePermission(deps.RBAC, perm, rbacOpts...)(h)
	}
	manage := func(perm rbac.Permission, allow func(rbac.Permissions) bool, h http.HandlerFunc) http.Handler {
		return rbac.Require(deps.RBAC, perm, allow, rbacOpts...)(h)
	}

	if deps.RBAC != nil {
		me := &meHandler{organizations: deps.Organizations, evaluator: deps.RBAC}
		protectedMux.Handle("GET /api/v1/me", auth.RequireAuthenticated(http.HandlerFunc(me.handle)))
	}

	// Organizations, members and modules
	if deps.OrganizationHandler != nil && deps.RBAC != nil {
		h := deps.OrganizationHandler
		protectedMux.Handle("GET /api/v1/organizations",
			auth.RequireAuthenticated(http.HandlerFunc(h.HandleList)),
		)
		protectedMux.Handle("POST /api/v1/organizations", manage(rbac.ManageOrganization, rbac.Permissions.CanManageOrganization, h.HandleCreate))
		protectedMux.Handle("GET /api/v1/organizations/{id}",
			auth.RequireAuthenticated(http.HandlerFunc(h.HandleGet)),
		)
		protectedMux.Handle("DELETE /api/v1/organizations/{id}",
			auth.RequireSuperuser(http.HandlerFunc(h.HandleDelete)),
		)
		protectedMux.Handle("POST /api/v1/organizations/{id}/backfill",
			auth.RequireSuperuser(http.HandlerFunc(h.HandleBackfill)),
		)

		protectedMux.Handle("GET /api/v1/organizations/{id}/members", manage(rbac.ManageUsers, rbac.Permissions.CanManageUsers, h.HandleListMembers))
		protectedMux.Handle("POST /api/v1/organizations/{id}/members", manage(rbac.ManageUsers, rbac.Permissions.CanManageUsers, h.HandleAddMember))
		protectedMux.Handle("DELETE /api/v1/organizations/{id}/members/{userID}", manage(rbac.ManageUsers, rbac.Permissions.CanManageUsers, h.HandleRemoveMember))

		protectedMux.Handle("GET /api/v1/organizations/{id}/modules", manage(rbac.ManageModules, rbac.Permissions.CanManageModules, h.HandleListModules))
		protectedMux.Handle("PUT /api/v1/organizations/{id}/modules/{moduleID}", manage(rbac.ManageModules, rbac.Permissions.CanManageModules, h.HandleSetModule))
	}

	// Users and their permission grants
	if deps.UserHandler != nil && deps.RBAC != nil {
		protectedMux.Handle("POST /api/v1/users", manage(rbac.ManageUsers, rbac.Permissions.CanManageUsers, deps.UserHandler.HandleCreate))
		protectedMux.Handle("GET /api/v1/users/{id}", manage(rbac.ManageUsers, rbac.Permissions.CanManageUsers, deps.UserHandler.HandleGet))
		protectedMux.Handle("POST /api/v1/users/{id}/deactivate", manage(rbac.ManageUsers, rbac.Permissions.CanManageUsers, deps.UserHandler.HandleDeactivate))
	}
	if deps.GrantHandler != nil && deps.RBAC != nil {
		protectedMux.Handle("GET /api/v1/users/{id}/permissions", manage(rbac.ManagePermissions, rbac.Permissions.CanManagePermissions, deps.GrantHandler.HandleList))
		protectedMux.Handle("PUT /api/v1/users/{id}/permissions/{permission}", manage(rbac.ManagePermissions, rbac.Permissions.CanManagePermissions, deps.GrantHandler.HandleGrant))
		protectedMux.Handle("DELETE /api/v1/users/{id}/permissions/{permission}", manage(rbac.ManagePermissions, rbac.Permissions.CanManagePermissions, deps.GrantHandler.HandleRevoke))
	}

	// Tenant-owned records
	if deps.BookingHandler != nil && deps.RBAC != nil {
		b := deps.BookingHandler
		protectedMux.Handle("GET /api/v1/reservations", guard(rbac.ViewReservations, b.HandleListReservations))
		protectedMux.Handle("GET /api/v1/reservations/{id}", guard(rbac.ViewReservations, b.HandleGetReservation))
		protectedMux.Handle("POST /api/v1/reservations", guard(rbac.ManageReservations, b.HandleCreateReservation))
		protectedMux.Handle("GET /api/v1/tour-bookings", guard(rbac.ViewTourBookings, b.HandleListTourBookings))
		protectedMux.Handle("POST /api/v1/tour-bookings", guard(rbac.ManageTourBookings, b.HandleCreateTourBooking))
	}

	if deps.AuditHandler != nil {
		protectedMux.Handle("GET /api/v1/audit/events",
			auth.RequireSuperuser(http.HandlerFunc(deps.AuditHandler.HandleListEvents)),
		)
	}

	topMux.Handle("/", protectedHandler)

	var handler http.Handler = topMux
	if deps.Logger != nil {
		handler = middleware.Logging(deps.Logger)(handler)
	}
	handler = middleware.RequestID(handler)
	if len(deps.CORSAllowedOrigins) > 0 {
		handler = middleware.CORS(deps.CORSAllowedOrigins)(handler)
	}

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ProtectedMux returns the mux for authenticated routes.
func (s *Server) ProtectedMux() *http.ServeMux {
	return s.protectedMux
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database not connected",
		})
		return
	}

	if err := s.pool.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database ping failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
