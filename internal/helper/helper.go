package helper

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func Hash8(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// EmailRef identifies an address in logs without writing it out.
func EmailRef(email string) string {
	return "em_" + Hash8(strings.ToLower(strings.TrimSpace(email)))
}
