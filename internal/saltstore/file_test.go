package saltstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFileRoundTrip verifies the salt survives across store instances backed
// by the same directory.
func TestFileRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFile(dir)
	require.NoError(t, err)

	salt, err := store.Get(ctx)
	require.NoError(t, err)
	require.Empty(t, salt, "fresh store should hold no salt")

	require.NoError(t, store.Set(ctx, "session-salt"))

	reopened, err := NewFile(dir)
	require.NoError(t, err)
	salt, err = reopened.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "session-salt", salt)
}

// TestFileSetOverwrites verifies a later Set replaces the stored salt.
func TestFileSetOverwrites(t *testing.T) {
	t.Parallel()

	store, err := NewFile(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "first"))
	require.NoError(t, store.Set(ctx, "second"))

	salt, err := store.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", salt)
}

// TestMemoryRoundTrip covers the ephemeral store.
func TestMemoryRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemory()
	ctx := context.Background()

	salt, err := store.Get(ctx)
	require.NoError(t, err)
	require.Empty(t, salt)

	require.NoError(t, store.Set(ctx, "mem-salt"))
	salt, err = store.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "mem-salt", salt)
}
