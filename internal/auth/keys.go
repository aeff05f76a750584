// Package auth hashes shared secrets so they are never stored in clear text.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashKey returns a SHA-256 hash of the key.
func HashKey(key string) string {
	key = strings.TrimSpace(key)

	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// VerifyKey reports whether presented hashes to stored.
func VerifyKey(presented, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(HashKey(presented)), []byte(stored)) == 1
}

// HashOptional hashes a secret that may be absent. Nil and blank values are
// returned unchanged.
func HashOptional(secret *string) *string {
	if secret == nil || strings.TrimSpace(*secret) == "" {
		return secret
	}
	h := HashKey(*secret)
	return &h
}
