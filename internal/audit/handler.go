package audit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tourline/tourline/internal/platform/database"
)

// Handler serves the audit query endpoint.
type Handler struct {
	db    database.Querier
	store *Store
}

// NewHandler creates an audit query handler.
func NewHandler(db database.Querier, store *Store) *Handler {
	return &Handler{db: db, store: store}
}

// HandleListEvents returns recent audit events.
// GET /api/v1/audit/events?organization_id=<uuid>&action=<name>&after=<rfc3339>&limit=50
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var params ListParams

	if raw := q.Get("organization_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid organization_id"})
			return
		}
		params.OrganizationID = &id
	}
	params.Action = q.Get("action")
	if raw := q.Get("after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid after timestamp"})
			return
		}
		params.After = &t
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		params.Limit = n
	}

	if h.db == nil {
		writeAuditJSON(w, http.StatusOK, map[string]any{"events": []Record{}, "count": 0})
		return
	}

	events, err := h.store.List(r.Context(), h.db, params)
	if err != nil {
		slog.ErrorContext(r.Context(), "listing audit events", "error", err)
		writeAuditJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list audit events"})
		return
	}
	writeAuditJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func writeAuditJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
