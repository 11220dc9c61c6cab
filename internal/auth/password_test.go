package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourline/tourline/internal/auth"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := auth.HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", hash)

	ok, err := auth.CheckPassword(hash, "s3cret-pass")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = auth.CheckPassword(hash, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckPassword_CorruptHash(t *testing.T) {
	_, err := auth.CheckPassword("not-a-bcrypt-hash", "whatever")
	assert.Error(t, err)
}

func TestRole_Valid(t *testing.T) {
	for _, r := range auth.AllRoles {
		assert.True(t, r.Valid(), r)
	}
	assert.False(t, auth.Role("ROOT").Valid())
	assert.False(t, auth.Role("").Valid())
}
