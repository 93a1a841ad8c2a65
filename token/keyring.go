package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// KeyStatus is the lifecycle state of a signing key.
type KeyStatus uint8

const (
	// KeyCurrent signs all newly issued tokens. Exactly one key is current.
	KeyCurrent KeyStatus = iota
	// KeyGrace is the immediately preceding current key, kept verifiable
	// only for the grace window. At most one key is in grace.
	KeyGrace
	// KeyRetired keys reject verification regardless of signature validity.
	KeyRetired
)

// Rotation is the result of [Keyring.Rotate].
type Rotation struct {
	NewKID      string
	GracePeriod time.Duration
}

// JWK is one entry of the public key set exposed to external verifiers.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	X   string `json:"x"`
}

type signingKey struct {
	kid       string
	private   ed25519.PrivateKey
	public    ed25519.PublicKey
	rotatedAt time.Time // zero while the key is current
}

// Keyring holds the Ed25519 signing keys tagged by kid. It enforces the
// one-current / at-most-one-grace invariant and the grace window for the
// demoted key.
type Keyring struct {
	mu          sync.RWMutex
	gracePeriod time.Duration
	current     *signingKey
	grace       *signingKey
	retired     map[string]struct{}

	now func() time.Time
}

// NewKeyring generates the initial current key. gracePeriod bounds how long
// tokens signed by a demoted key keep verifying after a rotation.
func NewKeyring(gracePeriod time.Duration) (*Keyring, error) {
	if gracePeriod <= 0 {
		return nil, errors.New("grace period must be positive")
	}

	key, err := generateKey()
	if err != nil {
		return nil, err
	}

	return &Keyring{
		gracePeriod: gracePeriod,
		current:     key,
		retired:     map[string]struct{}{},
		now:         time.Now,
	}, nil
}

// Rotate generates a new current key, demotes the current key to grace and
// retires whichever key previously held grace. A generation failure leaves
// the ring untouched; signing continues against the still-current key.
func (k *Keyring) Rotate() (Rotation, error) {
	next, err := generateKey()
	if err != nil {
		return Rotation{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.grace != nil {
		k.retired[k.grace.kid] = struct{}{}
	}
	k.current.rotatedAt = k.now()
	k.grace = k.current
	k.current = next

	return Rotation{NewKID: next.kid, GracePeriod: k.gracePeriod}, nil
}

// Signer returns the kid and private key that sign new tokens.
func (k *Keyring) Signer() (string, ed25519.PrivateKey) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.current.kid, k.current.private
}

// CurrentKID returns the kid of the current signing key.
func (k *Keyring) CurrentKID() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.current.kid
}

// VerifyKey resolves kid to a public key for verification. Tokens signed by
// the grace key are accepted only while iat+gracePeriod has not elapsed;
// retired and unknown kids fail with [ErrKeyUnknown] no matter what.
func (k *Keyring) VerifyKey(kid string, iat time.Time) (ed25519.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.current != nil && kid == k.current.kid {
		return k.current.public, nil
	}

	if k.grace != nil && kid == k.grace.kid {
		if iat.IsZero() || k.now().After(iat.Add(k.gracePeriod)) {
			return nil, ErrKeyUnknown
		}
		return k.grace.public, nil
	}

	return nil, ErrKeyUnknown
}

// Status reports the lifecycle state of kid. Unknown kids report retired.
func (k *Keyring) Status(kid string) KeyStatus {
	k.mu.RLock()
	defer k.mu.RUnlock()

	switch {
	case k.current != nil && kid == k.current.kid:
		return KeyCurrent
	case k.grace != nil && kid == k.grace.kid && !k.now().After(k.grace.rotatedAt.Add(k.gracePeriod)):
		return KeyGrace
	default:
		return KeyRetired
	}
}

// PublicKeys returns the JWKS-style set of currently-verifiable keys: the
// current key, plus the grace key while its window is open.
func (k *Keyring) PublicKeys() []JWK {
	k.mu.RLock()
	defer k.mu.RUnlock()

	keys := []JWK{toJWK(k.current)}
	if k.grace != nil && !k.now().After(k.grace.rotatedAt.Add(k.gracePeriod)) {
		keys = append(keys, toJWK(k.grace))
	}

	return keys
}

func toJWK(key *signingKey) JWK {
	return JWK{
		Kty: "OKP",
		Crv: "Ed25519",
		Alg: "EdDSA",
		Use: "sig",
		Kid: key.kid,
		X:   base64.RawURLEncoding.EncodeToString(key.public),
	}
}

func generateKey() (*signingKey, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	return &signingKey{
		kid:     uuid.NewString(),
		private: private,
		public:  public,
	}, nil
}
