// Package authcore provides a session-lifecycle authentication engine with
// short-lived JWT access tokens, rotating refresh tokens with replay
// detection, Redis-backed sessions, and per-principal mass invalidation.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Token model
//
// Every login opens a session with a stable ID and a refresh token chain.
// Refresh consumes the presented token atomically and issues a successor;
// presenting a consumed token proves theft, destroys the session, and bumps
// the principal's token version so every outstanding token goes stale at
// its next check. Logout deny-lists the individual token IDs for their
// remaining lifetime, keeping revocation storage bounded.
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (TokenPair, SessionInfo, MetricsSnapshot). Token signing
// lives in token/, session persistence in session/, the jti deny-list in
// revocation/, hashing in password/; none of them import authcore back.
package authcore
