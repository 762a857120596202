package identity

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var urlSafe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// TestHashIsDeterministicForSameSalt verifies repeated hashes of the same
// input correlate.
func TestHashIsDeterministicForSameSalt(t *testing.T) {
	t.Parallel()

	h := New(Config{Salt: "fixed-salt"})
	first := h.Hash("user@example.com")
	second := h.Hash("user@example.com")

	require.Equal(t, first, second)
	require.NotEqual(t, "user@example.com", first)
	assert.Regexp(t, urlSafe, first)
	assert.NotContains(t, first, "=")
}

// TestHashDiffersAcrossSalts verifies the salt actually keys the digest.
func TestHashDiffersAcrossSalts(t *testing.T) {
	t.Parallel()

	a := New(Config{Salt: "salt-a"})
	b := New(Config{Salt: "salt-b"})
	require.NotEqual(t, a.Hash("same-input"), b.Hash("same-input"))
}

// TestResolveSaltPrefersConfigured verifies the resolution order starts with
// the caller-supplied salt.
func TestResolveSaltPrefersConfigured(t *testing.T) {
	t.Parallel()

	store := &fakeSaltStore{salt: "stored"}
	h := New(Config{Salt: "configured", Store: store})

	require.Equal(t, "configured", h.ResolveSalt())
	require.Zero(t, store.gets)
}

// TestResolveSaltReadsStore verifies a durably stored fallback is used before
// generating a new salt.
func TestResolveSaltReadsStore(t *testing.T) {
	t.Parallel()

	store := &fakeSaltStore{salt: "stored"}
	h := New(Config{Store: store})

	require.Equal(t, "stored", h.ResolveSalt())
	require.Equal(t, "stored", h.ResolveSalt())
	require.Equal(t, 1, store.gets, "salt should be cached after first resolution")
}

// TestResolveSaltGeneratesAndPersists verifies a fresh salt is generated,
// cached, and written to the store when nothing is configured or stored.
func TestResolveSaltGeneratesAndPersists(t *testing.T) {
	t.Parallel()

	store := &fakeSaltStore{}
	h := New(Config{Store: store})

	salt := h.ResolveSalt()
	require.NotEmpty(t, salt)
	require.Equal(t, salt, store.salt)
	require.Equal(t, salt, h.ResolveSalt())
}

// TestResolveSaltSurvivesPersistenceFailure verifies a store write failure is
// ignored and the in-memory salt keeps hashing stable for the session.
func TestResolveSaltSurvivesPersistenceFailure(t *testing.T) {
	t.Parallel()

	store := &fakeSaltStore{setErr: errors.New("keychain locked")}
	h := New(Config{Store: store})

	salt := h.ResolveSalt()
	require.NotEmpty(t, salt)
	require.Equal(t, salt, h.ResolveSalt())
	require.Equal(t, h.Hash("x"), h.Hash("x"))
}

// TestGeneratedSaltsAreUnique verifies independent hashers do not collide.
func TestGeneratedSaltsAreUnique(t *testing.T) {
	t.Parallel()

	a := New(Config{})
	b := New(Config{})
	require.NotEqual(t, a.ResolveSalt(), b.ResolveSalt())
}

type fakeSaltStore struct {
	salt   string
	gets   int
	setErr error
}

func (f *fakeSaltStore) Get(context.Context) (string, error) {
	f.gets++
	return f.salt, nil
}

func (f *fakeSaltStore) Set(_ context.Context, salt string) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.salt = salt
	return nil
}
