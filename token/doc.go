// Package token signs and verifies the access and refresh tokens issued by
// authcore, and owns the signing-key registry.
//
// Tokens are compact JWTs (EdDSA/Ed25519) carrying the claim set
// {sub, role, tokenVersion, sessionId, jti, iat, exp, iss, aud} with the
// signing key id (kid) in the header. Access and refresh tokens share this
// shape but are bound to different audiences and expiry horizons.
//
// The [Keyring] holds at most one current and one grace key; every other key
// it has ever produced is retired and rejects verification outright. A token
// signed by the grace key verifies only while its iat is still inside the
// grace window.
package token
