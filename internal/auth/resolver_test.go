package auth_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourline/tourline/internal/auth"
)

type fakeMemberships struct {
	orgs  map[string][]string
	err   error
	calls int
}

func (f *fakeMemberships) ActiveOrganizations(_ context.Context, userID string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.orgs[userID], nil
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func TestResolver_NoHeaderIsAnonymous(t *testing.T) {
	members := &fakeMemberships{}
	r := auth.NewResolver(newTestTokenService(), members, nil)

	identity, err := r.Resolve(context.Background(), http.Header{})
	require.NoError(t, err)
	assert.True(t, identity.IsAnonymous())
	assert.Empty(t, identity.Role)
	assert.Equal(t, []string{}, identity.OrganizationIDs)
	assert.Zero(t, members.calls)
}

func TestResolver_NonBearerSchemeIsAnonymous(t *testing.T) {
	r := auth.NewResolver(newTestTokenService(), &fakeMemberships{}, nil)

	h := http.Header{}
	h.Set("Authorization", "Basic dXNlcjpwYXNz")

	identity, err := r.Resolve(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, identity.IsAnonymous())
}

func TestResolver_InvalidTokenIsAnonymous(t *testing.T) {
	members := &fakeMemberships{}
	r := auth.NewResolver(newTestTokenService(), members, nil)

	identity, err := r.Resolve(context.Background(), bearer("garbage"))
	require.NoError(t, err)
	assert.True(t, identity.IsAnonymous())
	assert.Zero(t, members.calls)
}

func TestResolver_RefreshTokenIsAnonymous(t *testing.T) {
	svc := newTestTokenService()
	refresh, err := svc.CreateRefreshToken(&auth.Identity{UserID: "u1", Role: auth.RoleSuperuser})
	require.NoError(t, err)

	r := auth.NewResolver(svc, &fakeMemberships{}, nil)
	identity, err := r.Resolve(context.Background(), bearer(refresh))
	require.NoError(t, err)
	assert.True(t, identity.IsAnonymous())
	assert.False(t, identity.IsSuperuser())
}

func TestResolver_ValidTokenLoadsMemberships(t *testing.T) {
	svc := newTestTokenService()
	token, err := svc.CreateAccessToken(&auth.Identity{UserID: "u1", Role: auth.RoleAgencyAdmin})
	require.NoError(t, err)

	members := &fakeMemberships{orgs: map[string][]string{"u1": {"org-a", "org-b"}}}
	r := auth.NewResolver(svc, members, nil)

	identity, err := r.Resolve(context.Background(), bearer(token))
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, auth.RoleAgencyAdmin, identity.Role)
	assert.Equal(t, []string{"org-a", "org-b"}, identity.OrganizationIDs)
	assert.Equal(t, 1, members.calls)
}

func TestResolver_NoMembershipsIsEmptySet(t *testing.T) {
	svc := newTestTokenService()
	token, err := svc.CreateAccessToken(&auth.Identity{UserID: "lonely", Role: auth.RoleAgencyUser})
	require.NoError(t, err)

	r := auth.NewResolver(svc, &fakeMemberships{}, nil)
	identity, err := r.Resolve(context.Background(), bearer(token))
	require.NoError(t, err)
	assert.False(t, identity.IsAnonymous())
	assert.NotNil(t, identity.OrganizationIDs)
	assert.Empty(t, identity.OrganizationIDs)
}

func TestResolver_MembershipFailureIsUnavailable(t *testing.T) {
	svc := newTestTokenService()
	token, err := svc.CreateAccessToken(&auth.Identity{UserID: "u1", Role: auth.RoleAgencyAdmin})
	require.NoError(t, err)

	r := auth.NewResolver(svc, &fakeMemberships{err: errors.New("connection reset")}, nil)
	identity, err := r.Resolve(context.Background(), bearer(token))
	assert.Nil(t, identity)
	assert.ErrorIs(t, err, auth.ErrUnavailable)
}

func TestResolver_CancelledContextIsUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := auth.NewResolver(newTestTokenService(), &fakeMemberships{}, nil)
	_, err := r.Resolve(ctx, http.Header{})
	assert.ErrorIs(t, err, auth.ErrUnavailable)
}

func TestResolver_FreshLookupPerRequest(t *testing.T) {
	svc := newTestTokenService()
	token, err := svc.CreateAccessToken(&auth.Identity{UserID: "u1", Role: auth.RoleAgencyUser})
	require.NoError(t, err)

	members := &fakeMemberships{orgs: map[string][]string{"u1": {"org-a"}}}
	r := auth.NewResolver(svc, members, nil)

	first, err := r.Resolve(context.Background(), bearer(token))
	require.NoError(t, err)
	assert.Equal(t, []string{"org-a"}, first.OrganizationIDs)

	// Membership revoked between requests.
	members.orgs["u1"] = nil

	second, err := r.Resolve(context.Background(), bearer(token))
	require.NoError(t, err)
	assert.Empty(t, second.OrganizationIDs)
	assert.Equal(t, 2, members.calls)
}
