package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// ResetTokenBytes is 256 bits of entropy.
const ResetTokenBytes = 32

// NewResetToken returns a hex-encoded random one-time secret.
func NewResetToken() (string, error) {
	b := make([]byte, ResetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// DigestResetToken is deterministic so the digest can be looked up.
// With a pepper it is HMAC-SHA256, otherwise plain SHA-256.
func DigestResetToken(pepper []byte, plain string) string {
	if len(pepper) == 0 {
		sum := sha256.Sum256([]byte(plain))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(plain))
	return hex.EncodeToString(mac.Sum(nil))
}
