package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken returns the hex SHA-256 of a signed token. Only this hash is
// ever stored, never the token itself.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashUserAgent hashes a user-agent string for binding checks so the raw
// header never lands in a token payload or the database.
func HashUserAgent(ua string) string {
	if ua == "" {
		return ""
	}

	sum := sha256.Sum256([]byte(ua))
	return hex.EncodeToString(sum[:16])
}
