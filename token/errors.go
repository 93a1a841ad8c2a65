package token

import "errors"

var (
	// ErrTokenExpired is returned when a token's exp claim is in the past.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenSignature is returned when a token fails signature or claim
	// validation for any reason other than expiry or an unusable key.
	ErrTokenSignature = errors.New("token signature invalid")
	// ErrKeyUnknown is returned when the token's kid names a key that is
	// neither current nor inside its grace window.
	ErrKeyUnknown = errors.New("signing key unknown or retired")
)
