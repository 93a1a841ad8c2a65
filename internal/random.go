package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

const sessionIDSize = 16

// SessionID is a 128-bit random session identifier.
type SessionID [sessionIDSize]byte

// NewSessionID generates a cryptographically random session identifier.
func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

// HashToken returns the SHA-256 digest of a compact token string. The store
// keeps only this digest; the token itself is never persisted.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}
