package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashUserKey derives the object-key segment for a user. Raw IDs never
// appear in storage paths: guest IDs carry a "guest:" prefix and authed
// IDs come from the JWT subject, neither of which is key-safe, so both
// are flattened to a fixed-width hex digest. Claimed accounts keep their
// old keys because migration rewrites rows, not objects.
func HashUserKey(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return hex.EncodeToString(sum[:])
}
