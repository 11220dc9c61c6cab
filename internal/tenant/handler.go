package tenant

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tourline/tourline/internal/audit"
	"github.com/tourline/tourline/internal/auth"
	"github.com/tourline/tourline/internal/rbac"
)

// Handler serves organization, membership, module and lifecycle endpoints.
// Permission checks are applied by middleware; the handler enforces tenant
// scope on top of them.
type Handler struct {
	orgs      *Store
	members   *MembershipStore
	modules   *ModuleStore
	lifecycle *Lifecycle
	evaluator *rbac.Evaluator
	audit     audit.Logger
}

func NewHandler(orgs *Store, members *MembershipStore, modules *ModuleStore, lifecycle *Lifecycle, evaluator *rbac.Evaluator, auditLog audit.Logger) *Handler {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &Handler{
		orgs:      orgs,
		members:   members,
		modules:   modules,
		lifecycle: lifecycle,
		evaluator: evaluator,
		audit:     auditLog,
	}
}

// permissions resolves the caller and their effective permissions. It writes
// the error response itself and returns false on failure.
func (h *Handler) permissions(w http.ResponseWriter, r *http.Request) (*auth.Identity, rbac.Permissions, bool) {
	identity := auth.GetIdentity(r.Context())
	perms, err := h.evaluator.ForRequest(r.Context(), identity)
	if err != nil {
		slog.ErrorContext(r.Context(), "loading permissions", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "authorization temporarily unavailable"})
		return nil, rbac.Permissions{}, false
	}
	return identity, perms, true
}

// scopeFor resolves the caller's read scope, narrowed to explicitOrgID when set.
func (h *Handler) scopeFor(w http.ResponseWriter, r *http.Request, explicitOrgID string) (Scope, bool) {
	identity, perms, ok := h.permissions(w, r)
	if !ok {
		return Scope{}, false
	}
	return ScopeFor(identity, perms, explicitOrgID), true
}

// orgInScope parses the {id} path value and checks the caller may see it.
// Organizations outside the scope are reported as missing.
func (h *Handler) orgInScope(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID, ok := pathUUID(w, r, "id")
	if !ok {
		return "", false
	}
	scope, ok := h.scopeFor(w, r, orgID)
	if !ok {
		return "", false
	}
	if !scope.Allows(orgID) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "organization not found"})
		return "", false
	}
	return orgID, true
}

// orgWritable is orgInScope for mutations. An organization the caller can
// read but not change is forbidden; one it cannot read is missing.
func (h *Handler) orgWritable(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID, ok := pathUUID(w, r, "id")
	if !ok {
		return "", false
	}
	identity, perms, ok := h.permissions(w, r)
	if !ok {
		return "", false
	}
	if WriteScopeFor(identity, perms, orgID).Allows(orgID) {
		return orgID, true
	}
	if ScopeFor(identity, perms, orgID).Allows(orgID) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "organization is read-only for you"})
		return "", false
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "organization not found"})
	return "", false
}

// HandleList returns the organizations visible to the caller.
// GET /api/v1/organizations
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	scope, ok := h.scopeFor(w, r, "")
	if !ok {
		return
	}

	orgs, err := h.orgs.List(r.Context(), scope)
	if err != nil {
		slog.ErrorContext(r.Context(), "listing organizations", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing organizations failed"})
		return
	}
	writeJSON(w, http.StatusOK, orgs)
}

// HandleCreate creates an organization. A creator bound to their own
// organizations becomes its first member.
// POST /api/v1/organizations
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req struct {
		Name             string `json:"name"`
		Subdomain        string `json:"subdomain"`
		SubscriptionPlan string `json:"subscription_plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" || req.Subdomain == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and subdomain are required"})
		return
	}
	identity, perms, ok := h.permissions(w, r)
	if !ok {
		return
	}

	org, err := h.orgs.Create(r.Context(), req.Name, req.Subdomain, req.SubscriptionPlan)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidSubdomain):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrSubdomainTaken):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			slog.ErrorContext(r.Context(), "creating organization", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "organization creation failed"})
		}
		return
	}

	if !perms.CanActAcrossOrganizations() {
		if _, err := h.members.AddMember(r.Context(), org.ID, identity.UserID, "owner"); err != nil {
			slog.ErrorContext(r.Context(), "linking organization creator", "organization_id", org.ID, "error", err)
		}
	}

	h.audit.Log(r.Context(), audit.Event{
		OrganizationID: audit.OrganizationRef(org.ID),
		UserID:         audit.ActorID(identity),
		Action:         audit.ActionOrganizationCreated,
		ResourceType:   "organization",
		ResourceID:     org.ID,
		Metadata:       map[string]any{"subdomain": org.Subdomain},
		Source:         audit.SourceAPI,
	})
	writeJSON(w, http.StatusCreated, org)
}

// HandleGet returns one organization in the caller's scope.
// GET /api/v1/organizations/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgInScope(w, r)
	if !ok {
		return
	}

	org, err := h.orgs.GetByID(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, ErrOrganizationNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "organization not found"})
			return
		}
		slog.ErrorContext(r.Context(), "fetching organization", "organization_id", orgID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "fetching organization failed"})
		return
	}
	writeJSON(w, http.StatusOK, org)
}

// HandleDelete deletes an organization and everything it owns.
// DELETE /api/v1/organizations/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	report, err := h.lifecycle.DeleteOrganization(r.Context(), auth.GetIdentity(r.Context()), orgID)
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleBackfill assigns unowned records to an organization.
// POST /api/v1/organizations/{id}/backfill
func (h *Handler) HandleBackfill(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var filter BackfillFilter
	if r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, 10<<10)
		if err := json.NewDecoder(r.Body).Decode(&filter); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}
	if filter.CreatedBy != "" {
		if _, err := uuid.Parse(filter.CreatedBy); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "created_by must be a user id"})
			return
		}
	}

	report, err := h.lifecycle.BackfillOwnership(r.Context(), auth.GetIdentity(r.Context()), orgID, filter)
	if err != nil {
		writeLifecycleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeLifecycleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "superuser required"})
	case errors.Is(err, ErrOrganizationNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "organization not found"})
	default:
		slog.ErrorContext(r.Context(), "organization lifecycle operation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "operation failed"})
	}
}

// HandleListMembers returns the active members of an organization.
// GET /api/v1/organizations/{id}/members
func (h *Handler) HandleListMembers(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgInScope(w, r)
	if !ok {
		return
	}

	members, err := h.members.ListMembers(r.Context(), orgID)
	if err != nil {
		slog.ErrorContext(r.Context(), "listing members", "organization_id", orgID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing members failed"})
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// HandleAddMember links a user to an organization.
// POST /api/v1/organizations/{id}/members
func (h *Handler) HandleAddMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgWritable(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)
	var req struct {
		UserID   string `json:"user_id"`
		LinkRole string `json:"link_role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id must be a user id"})
		return
	}

	member, err := h.members.AddMember(r.Context(), orgID, req.UserID, req.LinkRole)
	if err != nil {
		switch {
		case errors.Is(err, ErrMembershipExists):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrOrganizationNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		default:
			slog.ErrorContext(r.Context(), "adding member", "organization_id", orgID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "adding member failed"})
		}
		return
	}

	h.audit.Log(r.Context(), audit.Event{
		OrganizationID: audit.OrganizationRef(orgID),
		UserID:         audit.ActorIDFromContext(r.Context()),
		Action:         audit.ActionMemberAdded,
		ResourceType:   "user",
		ResourceID:     req.UserID,
		Metadata:       map[string]any{"link_role": member.LinkRole},
		Source:         audit.SourceAPI,
	})
	writeJSON(w, http.StatusCreated, member)
}

// HandleRemoveMember deactivates a membership link.
// DELETE /api/v1/organizations/{id}/members/{userID}
func (h *Handler) HandleRemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgWritable(w, r)
	if !ok {
		return
	}
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}

	if err := h.members.RemoveMember(r.Context(), orgID, userID); err != nil {
		if errors.Is(err, ErrMembershipNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		slog.ErrorContext(r.Context(), "removing member", "organization_id", orgID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "removing member failed"})
		return
	}

	h.audit.Log(r.Context(), audit.Event{
		OrganizationID: audit.OrganizationRef(orgID),
		UserID:         audit.ActorIDFromContext(r.Context()),
		Action:         audit.ActionMemberRemoved,
		ResourceType:   "user",
		ResourceID:     userID,
		Source:         audit.SourceAPI,
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleListModules returns the module activations of an organization.
// GET /api/v1/organizations/{id}/modules
func (h *Handler) HandleListModules(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgInScope(w, r)
	if !ok {
		return
	}

	modules, err := h.modules.List(r.Context(), orgID)
	if err != nil {
		slog.ErrorContext(r.Context(), "listing modules", "organization_id", orgID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "listing modules failed"})
		return
	}
	writeJSON(w, http.StatusOK, modules)
}

// HandleSetModule enables or disables a module.
// PUT /api/v1/organizations/{id}/modules/{moduleID}
func (h *Handler) HandleSetModule(w http.ResponseWriter, r *http.Request) {
	orgID, ok := h.orgWritable(w, r)
	if !ok {
		return
	}
	moduleID := r.PathValue("moduleID")

	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)
	var req struct {
		Enabled   *bool      `json:"enabled"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "enabled is required"})
		return
	}

	module, err := h.modules.Set(r.Context(), orgID, moduleID, *req.Enabled, req.ExpiresAt)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidModule):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrOrganizationNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "organization not found"})
		default:
			slog.ErrorContext(r.Context(), "setting module", "organization_id", orgID, "module", moduleID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "updating module failed"})
		}
		return
	}

	h.audit.Log(r.Context(), audit.Event{
		OrganizationID: audit.OrganizationRef(orgID),
		UserID:         audit.ActorIDFromContext(r.Context()),
		Action:         audit.ActionModuleUpdated,
		ResourceType:   "module",
		ResourceID:     moduleID,
		Metadata:       map[string]any{"enabled": module.Enabled},
		Source:         audit.SourceAPI,
	})
	writeJSON(w, http.StatusOK, module)
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid " + name})
		return "", false
	}
	return id.String(), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
