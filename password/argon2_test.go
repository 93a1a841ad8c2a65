package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()

	h, err := NewHasher(DefaultParams())
	require.NoError(t, err)
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := newTestHasher(t)

	hash, err := h.Hash("P@ssw0rd-Ascii")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=4$"), "unexpected PHC prefix: %s", hash)

	ok, err := h.Verify("P@ssw0rd-Ascii", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyWrongPassword(t *testing.T) {
	h := newTestHasher(t)

	hash, err := h.Hash("correct-password")
	require.NoError(t, err)

	ok, err := h.Verify("wrong-password", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashesAreSalted(t *testing.T) {
	h := newTestHasher(t)

	first, err := h.Hash("same-password")
	require.NoError(t, err)
	second, err := h.Hash("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestNeedsRehash(t *testing.T) {
	weak, err := NewHasher(Params{
		Memory:      32 * 1024,
		Time:        2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	require.NoError(t, err)

	hash, err := weak.Hash("test-password")
	require.NoError(t, err)

	h := newTestHasher(t)

	upgrade, err := h.NeedsRehash(hash)
	require.NoError(t, err)
	assert.True(t, upgrade)

	current, err := h.Hash("test-password")
	require.NoError(t, err)

	upgrade, err = h.NeedsRehash(current)
	require.NoError(t, err)
	assert.False(t, upgrade)
}

func TestVerifyMalformedHash(t *testing.T) {
	h := newTestHasher(t)

	for _, bad := range []string{
		"not-a-phc-hash",
		"$bcrypt$v=19$m=65536,t=3,p=4$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=3,p=4$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=3$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
	} {
		_, err := h.Verify("password", bad)
		assert.ErrorIs(t, err, ErrMalformedHash, "input: %s", bad)
	}
}

func TestNewHasherRejectsWeakParams(t *testing.T) {
	bad := DefaultParams()
	bad.Memory = 1024

	_, err := NewHasher(bad)
	assert.Error(t, err)

	bad = DefaultParams()
	bad.SaltLength = 8

	_, err = NewHasher(bad)
	assert.Error(t, err)
}
