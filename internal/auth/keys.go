package auth

import (
	"crypto/sha256"
	"fmt"
)

// HashKey returns the SHA-256 hex digest of a credential.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)
}

// Fingerprint is a stable, non-reversible client identity derived from a
// caller-supplied credential.
func Fingerprint(key string) string {
	return "key:" + HashKey(key)[:16]
}

// safePrefix returns a safe-to-log prefix of a credential (never the full value).
func safePrefix(key string) string {
	if len(key) > 8 {
		return key[:8] + "..."
	}
	return "***"
}
