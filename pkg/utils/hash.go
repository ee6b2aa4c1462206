package utils

import (
	"crypto/sha256"
	"fmt"
)

// HashString returns the hex SHA-256 digest of input. Used for cache keys
// derived from decision content.
func HashString(input string) string {
	hash := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", hash)
}
