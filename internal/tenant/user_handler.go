package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"slices"

	"github.com/google/uuid"
	"github.com/tourline/tourline/internal/audit"
	"github.com/tourline/tourline/internal/auth"
	"github.com/tourline/tourline/internal/rbac"
)

var ErrEmailInvalid = errors.New("invalid email address")

// ValidateEmail checks that an email address is syntactically valid.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrEmailInvalid)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: %s", ErrEmailInvalid, err)
	}
	return nil
}

// UserAccounts is the account store the user handler manages.
type UserAccounts interface {
	Create(ctx context.Context, username, email, displayName, passwordHash string, role auth.Role) (*auth.User, error)
	FindByID(ctx context.Context, id string) (*auth.User, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// UserMemberships is the membership store the user handler reads and links
// new accounts through.
type UserMemberships interface {
	auth.MembershipLookup
	AddMember(ctx context.Context, orgID, userID, linkRole string) (*Member, error)
}

// UserHandler manages user accounts within the caller's organizations.
type UserHandler struct {
	users     UserAccounts
	members   UserMemberships
	evaluator *rbac.Evaluator
	audit     audit.Logger
}

func NewUserHandler(users UserAccounts, members UserMemberships, evaluator *rbac.Evaluator, auditLog audit.Logger) *UserHandler {
	if auditLog == nil {
		auditLog = audit.NopLogger{}
	}
	return &UserHandler{users: users, members: members, evaluator: evaluator, audit: auditLog}
}

// HandleCreate registers a user. Callers bound to their own organizations
// must place the new user in one of them and cannot create superusers.
// POST /api/v1/users
func (h *UserHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<10)

	var req struct {
		Username       string    `json:"username"`
		Email          string    `json:"email"`
		DisplayName    string    `json:"display_name"`
		Password       string    `json:"password"`
		Role           auth.Role `json:"role"`
		OrganizationID string    `json:"organization_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Username == "" || len(req.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and a password of at least 8 characters are required"})
		return
	}
	if err := ValidateEmail(req.Email); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !req.Role.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown role"})
		return
	}

	orgID := ""
	if req.OrganizationID != "" {
		id, err := uuid.Parse(req.OrganizationID)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid organization_id"})
			return
		}
		orgID = id.String()
	}

	identity, perms, ok := h.permissions(w, r)
	if !ok {
		return
	}
	if !perms.CanAssignRole(req.Role) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "only superusers can create superusers"})
		return
	}
	if !WriteScopeFor(identity, perms, orgID).Allows(orgID) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "organization_id must be one of your organizations"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "user creation failed"})
		return
	}

	user, err := h.users.Create(r.Context(), req.Username, req.Email, req.DisplayName, hash, req.Role)
	if err != nil {
		if errors.Is(err, auth.ErrEmailDuplicate) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "username or email already registered"})
			return
		}
		slog.ErrorContext(r.Context(), "creating user", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "user creation failed"})
		return
	}

	if orgID != "" {
		if _, err := h.members.AddMember(r.Context(), orgID, user.ID, "member"); err != nil {
			slog.ErrorContext(r.Context(), "linking new user", "user_id", user.ID, "organization_id", orgID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "user created but organization link failed"})
			return
		}
	}

	h.audit.Log(r.Context(), audit.Event{
		OrganizationID: audit.OrganizationRef(orgID),
		UserID:         audit.ActorID(identity),
		Action:         audit.ActionUserCreated,
		ResourceType:   "user",
		ResourceID:     user.ID,
		Metadata:       map[string]any{"role": string(user.Role)},
		Source:         audit.SourceAPI,
	})
	writeJSON(w, http.StatusCreated, user)
}

// HandleGet returns a user who shares an organization with the caller.
// GET /api/v1/users/{id}
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "id")
	if !ok || !h.canReach(w, r, userID, ScopeFor) {
		return
	}

	user, err := h.users.FindByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		slog.ErrorContext(r.Context(), "fetching user", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "fetching user failed"})
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleDeactivate soft-deactivates a user account.
// POST /api/v1/users/{id}/deactivate
func (h *UserHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "id")
	if !ok || !h.canReach(w, r, userID, WriteScopeFor) {
		return
	}

	if err := h.users.SetActive(r.Context(), userID, false); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		slog.ErrorContext(r.Context(), "deactivating user", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "deactivating user failed"})
		return
	}

	h.audit.Log(r.Context(), audit.Event{
		UserID:       audit.ActorIDFromContext(r.Context()),
		Action:       audit.ActionUserDeactivated,
		ResourceType: "user",
		ResourceID:   userID,
		Source:       audit.SourceAPI,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) permissions(w http.ResponseWriter, r *http.Request) (*auth.Identity, rbac.Permissions, bool) {
	identity := auth.GetIdentity(r.Context())
	perms, err := h.evaluator.ForRequest(r.Context(), identity)
	if err != nil {
		slog.ErrorContext(r.Context(), "loading permissions", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "authorization temporarily unavailable"})
		return nil, rbac.Permissions{}, false
	}
	return identity, perms, true
}

// canReach reports whether userID belongs to an organization inside the scope
// scopeFor builds for the caller. Users outside it are reported as missing.
func (h *UserHandler) canReach(w http.ResponseWriter, r *http.Request, userID string, scopeFor func(*auth.Identity, rbac.Permissions, string) Scope) bool {
	identity, perms, ok := h.permissions(w, r)
	if !ok {
		return false
	}

	scope := scopeFor(identity, perms, "")
	if scope.IsUnrestricted() {
		return true
	}

	orgs, err := h.members.ActiveOrganizations(r.Context(), userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "loading user memberships", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "fetching user failed"})
		return false
	}
	if !slices.ContainsFunc(orgs, scope.Allows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return false
	}
	return true
}
