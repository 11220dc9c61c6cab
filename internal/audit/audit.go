package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/tourline/tourline/internal/auth"
)

// Event represents a single auditable action in the system.
type Event struct {
	OrganizationID *uuid.UUID // nil for platform-wide events
	UserID         *uuid.UUID // nil for system events
	Action         string     // e.g. "organization.deleted", "access.denied"
	ResourceType   string     // e.g. "organization", "permission_grant"
	ResourceID     string
	Metadata       map[string]any
	Source         string // "api", "system"
}

const (
	ActionOrganizationCreated = "organization.created"
	ActionOrganizationDeleted = "organization.deleted"
	ActionOwnershipBackfilled = "ownership.backfilled"

	ActionUserCreated     = "user.created"
	ActionUserDeactivated = "user.deactivated"

	ActionMemberAdded   = "member.added"
	ActionMemberRemoved = "member.removed"

	ActionModuleUpdated = "module.updated"

	ActionPermissionGranted = "permission.granted"
	ActionPermissionRevoked = "permission.revoked"

	ActionAccessDenied = "access.denied"
)

const (
	SourceAPI    = "api"
	SourceSystem = "system"
)

// Logger is the audit logging interface. Log is fire-and-forget.
type Logger interface {
	Log(ctx context.Context, event Event)
	Close() error
}

// NopLogger is a no-op audit logger for testing and when audit is disabled.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) {}
func (NopLogger) Close() error               { return nil }

// ActorIDFromContext extracts the authenticated user's UUID from the
// request context, returning nil for anonymous requests or non-UUID ids.
func ActorIDFromContext(ctx context.Context) *uuid.UUID {
	return ActorID(auth.GetIdentity(ctx))
}

// ActorID is ActorIDFromContext for an identity already in hand.
func ActorID(identity *auth.Identity) *uuid.UUID {
	if identity.IsAnonymous() {
		return nil
	}
	return parseID(identity.UserID)
}

// OrganizationRef parses an organization id for Event.OrganizationID.
func OrganizationRef(id string) *uuid.UUID {
	return parseID(id)
}

func parseID(s string) *uuid.UUID {
	if s == "" {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}
