package security_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhibayda/auth-api/internal/security"
)

func TestNewResetToken(t *testing.T) {
	a, err := security.NewResetToken()
	require.NoError(t, err)
	b, err := security.NewResetToken()
	require.NoError(t, err)

	assert.Len(t, a, 2*security.ResetTokenBytes)
	assert.NotEqual(t, a, b)
	_, err = hex.DecodeString(a)
	assert.NoError(t, err)
}

func TestDigestResetToken(t *testing.T) {
	plain := "00ff"
	sum := sha256.Sum256([]byte(plain))
	assert.Equal(t, hex.EncodeToString(sum[:]), security.DigestResetToken(nil, plain))

	peppered := security.DigestResetToken([]byte("pepper"), plain)
	assert.Len(t, peppered, 64)
	assert.NotEqual(t, security.DigestResetToken(nil, plain), peppered)
	assert.Equal(t, peppered, security.DigestResetToken([]byte("pepper"), plain))
	assert.NotEqual(t, peppered, security.DigestResetToken([]byte("other"), plain))
}
