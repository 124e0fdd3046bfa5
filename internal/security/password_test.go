package security_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhibayda/auth-api/internal/security"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_HashAndVerify(t *testing.T) {
	h := security.NewHasher(bcrypt.MinCost)

	d1, err := h.Hash("Abcd123!")
	require.NoError(t, err)
	d2, err := h.Hash("Abcd123!")
	require.NoError(t, err)

	assert.NotEqual(t, "Abcd123!", d1)
	assert.NotEqual(t, d1, d2, "digests are salted")
	assert.True(t, h.Verify("Abcd123!", d1))
	assert.False(t, h.Verify("abcd123!", d1))
	assert.False(t, h.Verify("Abcd123!", ""))
}

func TestHasher_EmptyPassword(t *testing.T) {
	_, err := security.NewHasher(bcrypt.MinCost).Hash("")
	assert.Error(t, err)
}

func TestResetToken_DigestIsDeterministic(t *testing.T) {
	tok, err := security.NewResetToken()
	require.NoError(t, err)
	assert.Len(t, tok, 64)

	assert.Equal(t, security.DigestResetToken(nil, tok), security.DigestResetToken(nil, tok))
	assert.NotEqual(t, tok, security.DigestResetToken(nil, tok))
	assert.NotEqual(t,
		security.DigestResetToken([]byte("a"), tok),
		security.DigestResetToken([]byte("b"), tok))

	other, err := security.NewResetToken()
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
}
