package session

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorruptSession is returned when a stored session blob fails to decode
// or is missing required fields.
var ErrCorruptSession = errors.New("session blob corrupt")

// Session is the server-side record behind one refresh token chain. The
// session ID is stable across rotations; only RefreshHash and ExpiresAt
// change when a refresh succeeds.
type Session struct {
	SessionID string `json:"-"`

	UserID       string `json:"userId"`
	Role         string `json:"role"`
	TokenVersion int64  `json:"tokenVersion"`

	// RefreshHash is the hex SHA-256 of the currently valid refresh token.
	// The raw token is never stored.
	RefreshHash string `json:"refreshHash"`

	RememberMe bool   `json:"rememberMe,omitempty"`
	Device     string `json:"device,omitempty"`
	IP         string `json:"ip,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`

	CreatedAt int64 `json:"createdAt"`
	ExpiresAt int64 `json:"expiresAt"`
}

// Encode serializes a session for storage.
func Encode(sess *Session) ([]byte, error) {
	if sess.UserID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrCorruptSession)
	}
	if sess.RefreshHash == "" {
		return nil, fmt.Errorf("%w: empty refresh hash", ErrCorruptSession)
	}
	return json.Marshal(sess)
}

// Decode parses a stored session blob, rejecting blobs that lack the fields
// rotation depends on.
func Decode(data []byte) (*Session, error) {
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	if sess.UserID == "" || sess.RefreshHash == "" || sess.ExpiresAt == 0 {
		return nil, fmt.Errorf("%w: missing required fields", ErrCorruptSession)
	}
	return &sess, nil
}
