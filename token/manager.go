package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Audience values separate the two token kinds at the verification layer. An
// access token presented to the refresh path (or vice versa) fails audience
// validation and never reaches session or revocation lookups.
const (
	AudienceAccess  = "access"
	AudienceRefresh = "refresh"
)

// Claims is the payload carried by both access and refresh tokens.
type Claims struct {
	Role         string `json:"role"`
	TokenVersion int64  `json:"tokenVersion"`
	SessionID    string `json:"sessionId"`
	jwt.RegisteredClaims
}

// Manager issues and parses EdDSA-signed tokens against a [Keyring].
type Manager struct {
	keys   *Keyring
	issuer string
	leeway time.Duration

	now func() time.Time
}

// NewManager wires a manager to its keyring. leeway absorbs clock skew
// between issuer and verifier during exp/iat validation.
func NewManager(keys *Keyring, issuer string, leeway time.Duration) *Manager {
	return &Manager{
		keys:   keys,
		issuer: issuer,
		leeway: leeway,
		now:    time.Now,
	}
}

// IssueParams carries the per-principal claim inputs for token issuance.
type IssueParams struct {
	UserID       string
	Role         string
	TokenVersion int64
	SessionID    string
	TTL          time.Duration
}

// IssueAccess signs a short-lived access token. The returned claims mirror
// what was embedded, jti and timestamps included.
func (m *Manager) IssueAccess(p IssueParams) (string, *Claims, error) {
	return m.issue(p, AudienceAccess)
}

// IssueRefresh signs a refresh token bound to the same session as its access
// sibling.
func (m *Manager) IssueRefresh(p IssueParams) (string, *Claims, error) {
	return m.issue(p, AudienceRefresh)
}

func (m *Manager) issue(p IssueParams, audience string) (string, *Claims, error) {
	now := m.now()

	claims := &Claims{
		Role:         p.Role,
		TokenVersion: p.TokenVersion,
		SessionID:    p.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{audience},
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.TTL)),
		},
	}

	kid, key := m.keys.Signer()

	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = kid

	signed, err := tok.SignedString(key)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}

	return signed, claims, nil
}

// ParseAccess verifies and decodes an access token.
func (m *Manager) ParseAccess(raw string) (*Claims, error) {
	return m.parse(raw, AudienceAccess)
}

// ParseRefresh verifies and decodes a refresh token.
func (m *Manager) ParseRefresh(raw string) (*Claims, error) {
	return m.parse(raw, AudienceRefresh)
}

func (m *Manager) parse(raw string, audience string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.leeway),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(raw, claims, m.keyfunc)
	if err != nil {
		return nil, mapParseError(err)
	}

	return claims, nil
}

// keyfunc resolves the kid header against the keyring. The claimed iat feeds
// the grace-window check: a token signed by the demoted key is only
// verifiable while iat plus the grace period covers now.
func (m *Manager) keyfunc(tok *jwt.Token) (any, error) {
	kid, ok := tok.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, ErrKeyUnknown
	}

	var iat time.Time
	if claims, ok := tok.Claims.(*Claims); ok && claims.IssuedAt != nil {
		iat = claims.IssuedAt.Time
	}

	return m.keys.VerifyKey(kid, iat)
}

// mapParseError collapses golang-jwt's joined validation errors onto the
// package sentinels. Order matters: a key lookup failure is reported before
// any claim validation noise the parser joined in.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrKeyUnknown):
		return ErrKeyUnknown
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenSignature
	default:
		return fmt.Errorf("%w: %v", ErrTokenSignature, err)
	}
}
