package collections

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/memoirhq/memoir/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(store.Config{Path: dbPath, Dimension: 0, Logger: zerolog.New(io.Discard).Level(zerolog.Disabled)})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func TestAdd_ResolvesToAbsolutePath(t *testing.T) {
	r := newTestRegistry(t)
	root := t.TempDir()

	col, err := r.Add(context.Background(), "notes", root, "*.md")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(col.Root))
}

func TestAdd_MissingRootFails(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Add(context.Background(), "notes", "/does/not/exist/at/all", "*.md")
	assert.Error(t, err)
}

func TestAdd_RootIsFileNotDirectoryFails(t *testing.T) {
	r := newTestRegistry(t)
	filePath := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0o644))

	_, err := r.Add(context.Background(), "notes", filePath, "*.md")
	assert.Error(t, err)
}

func TestAdd_SameNameUpsertsRoot(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	rootA := t.TempDir()
	rootB := t.TempDir()

	_, err := r.Add(ctx, "notes", rootA, "*.md")
	require.NoError(t, err)
	col, err := r.Add(ctx, "notes", rootB, "*.md")
	require.NoError(t, err)

	abs, err := filepath.Abs(rootB)
	require.NoError(t, err)
	assert.Equal(t, abs, col.Root)

	all, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRemove_DeletesCollection(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	root := t.TempDir()

	_, err := r.Add(ctx, "notes", root, "*.md")
	require.NoError(t, err)

	require.NoError(t, r.Remove(ctx, "notes"))

	_, err = r.Get(ctx, "notes")
	assert.Error(t, err)
}
