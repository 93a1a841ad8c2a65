// Package session provides Redis-backed session persistence and the atomic
// consume-and-replace step that refresh rotation depends on.
//
// # Storage model
//
// Each session is one JSON value keyed by session ID, carrying the SHA-256
// hash of the currently valid refresh token. The session ID is stable across
// rotations; only the hash and expiry change. A per-user index set tracks
// which sessions belong to each principal so listing and revoke-everywhere
// stay cheap.
//
// # Rotation
//
// ConsumeAndReplace runs as a single Lua script: the presented hash is
// compared against the stored one and, only on a match, swapped for the
// successor hash with a renewed expiry. Concurrent refreshes against the
// same session therefore produce exactly one winner; every loser observes a
// hash mismatch and the script destroys the session before returning.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model.
// It does NOT interpret JWT tokens or enforce authentication policy — those
// responsibilities belong to the Engine.
package session
