package storage

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashTokenID returns the hex SHA-256 digest backends use as the key for a
// token or code, so bearer values never appear in key names, indexes or
// key-space listings.
func HashTokenID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}
