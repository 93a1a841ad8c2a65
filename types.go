package authcore

import (
	"context"
	"time"
)

// AccountStatus represents the lifecycle state of a principal's account.
type AccountStatus uint8

const (
	// AccountActive may authenticate.
	AccountActive AccountStatus = iota
	// AccountDisabled is administratively blocked. The password is still
	// checked before the status is reported, so probing stays uniform.
	AccountDisabled
	// AccountDeleted is soft-deleted and treated like an unknown account.
	AccountDeleted
)

// PrincipalRecord is the account record returned by an [IdentityProvider].
// TokenVersion is the principal's current version counter; every token
// embeds the value it was issued under and goes stale when the counter
// advances.
type PrincipalRecord struct {
	UserID       string
	Identifier   string
	PasswordHash string
	Role         string
	Status       AccountStatus
	TokenVersion int64
}

// IdentityProvider is the interface callers implement to connect the engine
// to their user database. The engine owns sessions, tokens, and lockout
// state; the provider owns accounts.
//
// BumpTokenVersion must be atomic per user: concurrent bumps may coalesce
// but the counter must never go backwards.
type IdentityProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (PrincipalRecord, error)
	GetUserByID(ctx context.Context, userID string) (PrincipalRecord, error)
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
	BumpTokenVersion(ctx context.Context, userID string) (int64, error)
}

// DeviceMeta describes the client performing a login. All fields are
// optional; they are recorded on the session for listing and audit only and
// never gate authentication.
type DeviceMeta struct {
	Device     string
	IP         string
	UserAgent  string
	RememberMe bool
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
	// ExpiresAt is the absolute access token expiry.
	ExpiresAt time.Time
}

// VerifiedToken is returned by [Engine.Verify] after an access token passes
// signature, expiry, revocation, and version checks.
type VerifiedToken struct {
	UserID       string
	Role         string
	SessionID    string
	TokenVersion int64
	JTI          string
	ExpiresAt    time.Time
}

// SessionInfo is one entry of [Engine.ListSessions].
type SessionInfo struct {
	SessionID string
	Device    string
	IP        string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time

	// IsCurrent marks the session behind the access token that made the
	// listing call.
	IsCurrent bool
}
