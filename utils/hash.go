package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentHash returns the deterministic digest used for owner-scoped
// deduplication of uploads.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
