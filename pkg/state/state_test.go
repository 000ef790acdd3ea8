package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreMissingFile(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "state.yml"))

	cursor, err := s.Cursor(context.Background(), "chase")
	require.NoError(t, err)
	assert.Equal(t, "", cursor)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.yml")

	s := NewFileStore(path)
	require.NoError(t, s.SaveCursor(ctx, "chase", "cursor-1"))
	require.NoError(t, s.SaveCursor(ctx, "amex", "cursor-a"))
	require.NoError(t, s.SaveCursor(ctx, "chase", "cursor-2"))

	// a fresh store sees what the last one wrote
	other := NewFileStore(path)
	cursor, err := other.Cursor(ctx, "chase")
	require.NoError(t, err)
	assert.Equal(t, "cursor-2", cursor)

	cursor, err = other.Cursor(ctx, "amex")
	require.NoError(t, err)
	assert.Equal(t, "cursor-a", cursor)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yml")
	require.NoError(t, os.WriteFile(path, []byte("cursors: [not, a, map"), 0o600))

	_, err := NewFileStore(path).Cursor(context.Background(), "chase")
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	cursor, err := s.Cursor(ctx, "chase")
	require.NoError(t, err)
	assert.Equal(t, "", cursor)

	require.NoError(t, s.SaveCursor(ctx, "chase", "c1"))
	cursor, err = s.Cursor(ctx, "chase")
	require.NoError(t, err)
	assert.Equal(t, "c1", cursor)
}
