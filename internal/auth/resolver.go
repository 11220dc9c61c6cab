package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// MembershipLookup returns the ids of the organizations a user holds an
// active membership in. Implementations must hit the store on every call.
type MembershipLookup interface {
	ActiveOrganizations(ctx context.Context, userID string) ([]string, error)
}

// Verifier verifies an access token and returns the claimed identity.
type Verifier interface {
	ValidateAccessToken(tokenString string) (*Identity, error)
}

// Resolver turns request headers into a RequestIdentity: one token
// verification plus one membership lookup, no writes.
type Resolver struct {
	verifier    Verifier
	memberships MembershipLookup
	logger      *slog.Logger
}

func NewResolver(verifier Verifier, memberships MembershipLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{verifier: verifier, memberships: memberships, logger: logger}
}

// Resolve returns the identity for the request. A missing or invalid
// credential yields the anonymous identity and a nil error; a membership
// lookup failure or a cancelled context yields ErrUnavailable.
func (r *Resolver) Resolve(ctx context.Context, header http.Header) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	token, ok := bearerToken(header)
	if !ok {
		return Anonymous(), nil
	}

	identity, err := r.verifier.ValidateAccessToken(token)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredential) {
			return nil, fmt.Errorf("%w: verifying token: %v", ErrUnavailable, err)
		}
		r.logger.DebugContext(ctx, "credential rejected, treating request as anonymous", "error", err)
		return Anonymous(), nil
	}

	orgIDs, err := r.memberships.ActiveOrganizations(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: loading memberships: %v", ErrUnavailable, err)
	}
	if orgIDs == nil {
		orgIDs = []string{}
	}
	identity.OrganizationIDs = orgIDs

	return identity, nil
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func bearerToken(header http.Header) (string, bool) {
	authHeader := header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
