package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/cermont-atg/authcore/session"
	"github.com/cermont-atg/authcore/token"
)

var (
	// ErrInvalidCredentials covers both unknown identifiers and wrong
	// passwords. Callers never learn which one it was.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked is returned while the lockout window is open. Errors
	// matching it are [*LockedError] values carrying the retry-after hint.
	ErrAccountLocked = errors.New("account locked")

	// ErrAccountInactive is returned for disabled or deactivated accounts,
	// after the password check so timing stays uniform.
	ErrAccountInactive = errors.New("account inactive")

	// ErrTokenVersionStale is returned when a token's embedded version lags
	// the principal's current one.
	ErrTokenVersionStale = errors.New("token version stale")

	// ErrTokenRevoked is returned for tokens on the jti deny-list.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrTokenReused is returned when a refresh token that was already
	// rotated away (or whose session is gone) is presented again.
	ErrTokenReused = errors.New("refresh token reuse detected")

	// ErrResetTokenInvalid covers unknown, expired, and already-consumed
	// password reset tokens alike.
	ErrResetTokenInvalid = errors.New("password reset token invalid")

	// ErrPasswordPolicy is returned when a new password fails validation.
	ErrPasswordPolicy = errors.New("password policy violation")

	// ErrNotSessionOwner is returned when a session operation names a
	// session that belongs to someone else.
	ErrNotSessionOwner = errors.New("session not owned by caller")

	// ErrEngineNotReady is returned by a [Builder] that is missing required
	// dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Token-layer sentinels re-exported so callers match everything at one
// import.
var (
	ErrTokenExpired    = token.ErrTokenExpired
	ErrTokenSignature  = token.ErrTokenSignature
	ErrKeyUnknown      = token.ErrKeyUnknown
	ErrSessionNotFound = session.ErrSessionNotFound
)

// LockedError reports an active lockout. It matches [ErrAccountLocked]
// under errors.Is.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }
