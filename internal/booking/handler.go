package booking

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tourline/tourline/internal/auth"
	"github.com/tourline/tourline/internal/platform/database"
	"github.com/tourline/tourline/internal/rbac"
	"github.com/tourline/tourline/internal/tenant"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Handler serves reservation and tour booking endpoints.
type Handler struct {
	db        database.Querier
	store     *Store
	evaluator *rbac.Evaluator
}

func NewHandler(db database.Querier, store *Store, evaluator *rbac.Evaluator) *Handler {
	return &Handler{db: db, store: store, evaluator: evaluator}
}

// scope resolves the caller's tenant scope, optionally narrowed by the
// organization_id query parameter.
func (h *Handler) scope(w http.ResponseWriter, r *http.Request, explicitOrgID string) (tenant.Scope, bool) {
	identity := auth.GetIdentity(r.Context())
	perms, ok := h.permissions(w, r, identity)
	if !ok {
		return tenant.Scope{}, false
	}
	return tenant.ScopeFor(identity, perms, explicitOrgID), true
}

func (h *Handler) permissions(w http.ResponseWriter, r *http.Request, identity *auth.Identity) (rbac.Permissions, bool) {
	perms, err := h.evaluator.ForRequest(r.Context(), identity)
	if err != nil {
		slog.ErrorContext(r.Context(), "loading permissions", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "authorization temporarily unavailable"})
		return rbac.Permissions{}, false
	}
	return perms, true
}

func parseListParams(w http.ResponseWriter, r *http.Request) (orgID string, limit int, ok bool) {
	q := r.URL.Query()
	limit = defaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return "", 0, false
		}
		limit = min(n, maxLimit)
	}
	if raw := q.Get("organization_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid organization_id"})
			return "", 0, false
		}
		orgID = id.String()
	}
	return orgID, limit, true
}

// ownerFor validates the target organization of a new record and checks the
// caller may write into it. It returns the canonical organization ID.
func (h *Handler) ownerFor(w http.ResponseWriter, r *http.Request, rawOrgID string) (string, bool) {
	if rawOrgID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ErrOrganizationRequired.Error()})
		return "", false
	}
	id, err := uuid.Parse(rawOrgID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid organization_id"})
		return "", false
	}
	orgID := id.String()

	identity := auth.GetIdentity(r.Context())
	perms, ok := h.permissions(w, r, identity)
	if !ok {
		return "", false
	}
	if !tenant.WriteScopeFor(identity, perms, orgID).Allows(orgID) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "organization outside your scope"})
		return "", false
	}
	return orgID, true
}

// HandleListReservations returns reservations in the caller's scope.
// GET /api/v1/reservations?organization_id=<uuid>&limit=50
func (h *Handler) HandleListReservations(w http.ResponseWriter, r *http.Request) {
	orgID, limit, ok := parseListParams(w, r)
	if !ok {
		return
	}
	scope, ok := h.scope(w, r, orgID)
	if !ok {
		return
	}

	reservations, err := h.store.ListReservations(r.Context(), h.db, scope, limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "listing reservations", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing reservations failed"})
		return
	}
	writeJSON(w, http.StatusOK, reservations)
}

// HandleGetReservation returns one reservation in the caller's scope.
// GET /api/v1/reservations/{id}
func (h *Handler) HandleGetReservation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid reservation id"})
		return
	}
	scope, ok := h.scope(w, r, "")
	if !ok {
		return
	}

	reservation, err := h.store.GetReservation(r.Context(), h.db, scope, id.String())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "reservation not found"})
			return
		}
		slog.ErrorContext(r.Context(), "fetching reservation", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "fetching reservation failed"})
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

// HandleCreateReservation creates a reservation in one of the caller's
// organizations.
// POST /api/v1/reservations
func (h *Handler) HandleCreateReservation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req struct {
		OrganizationID string `json:"organization_id"`
		CustomerName   string `json:"customer_name"`
		Reference      string `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	orgID, ok := h.ownerFor(w, r, req.OrganizationID)
	if !ok {
		return
	}

	reservation, err := h.store.CreateReservation(r.Context(), h.db, orgID,
		auth.GetIdentity(r.Context()).UserID, req.CustomerName, req.Reference)
	if err != nil {
		writeCreateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservation)
}

// HandleListTourBookings returns tour bookings in the caller's scope.
// GET /api/v1/tour-bookings?organization_id=<uuid>&limit=50
func (h *Handler) HandleListTourBookings(w http.ResponseWriter, r *http.Request) {
	orgID, limit, ok := parseListParams(w, r)
	if !ok {
		return
	}
	scope, ok := h.scope(w, r, orgID)
	if !ok {
		return
	}

	bookings, err := h.store.ListTourBookings(r.Context(), h.db, scope, limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "listing tour bookings", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing tour bookings failed"})
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

// HandleCreateTourBooking creates a tour booking in one of the caller's
// organizations.
// POST /api/v1/tour-bookings
func (h *Handler) HandleCreateTourBooking(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req struct {
		OrganizationID string `json:"organization_id"`
		TourName       string `json:"tour_name"`
		Pax            int    `json:"pax"`
		TravelDate     string `json:"travel_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	travelDate, err := time.Parse(time.DateOnly, req.TravelDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "travel_date must be YYYY-MM-DD"})
		return
	}
	orgID, ok := h.ownerFor(w, r, req.OrganizationID)
	if !ok {
		return
	}

	booking, err := h.store.CreateTourBooking(r.Context(), h.db, orgID,
		auth.GetIdentity(r.Context()).UserID, req.TourName, req.Pax, travelDate)
	if err != nil {
		writeCreateError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func writeCreateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrOrganizationRequired), errors.Is(err, ErrInvalidRecord):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		slog.ErrorContext(r.Context(), "creating record", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "creation failed"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
