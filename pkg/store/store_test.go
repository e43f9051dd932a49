package store

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, dim int) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(Config{
		Path:      dbPath,
		Dimension: dim,
		Logger:    zerolog.New(io.Discard).Level(zerolog.Disabled),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesSchemaAndVectorTable(t *testing.T) {
	s := newTestStore(t, 8)
	assert.NotNil(t, s.db)
	assert.True(t, s.VectorAvailable())
}

func TestOpen_RequiresPath(t *testing.T) {
	s, err := Open(Config{})
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestOpen_ZeroDimensionSkipsVectorTable(t *testing.T) {
	s := newTestStore(t, 0)
	assert.False(t, s.VectorAvailable())
}

func TestEnsureVectorTable_DimensionChangeRecreates(t *testing.T) {
	s := newTestStore(t, 4)
	require.True(t, s.VectorAvailable())

	require.NoError(t, s.EnsureVectorTable(8))
	assert.Equal(t, 8, s.dim)
	assert.True(t, s.VectorAvailable())
}

func TestCollections_AddGetListRemove(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()

	col, err := s.AddCollection(ctx, "notes", "/tmp/notes", "*.md")
	require.NoError(t, err)
	assert.Equal(t, "notes", col.Name)
	assert.Equal(t, "*.md", col.Glob)

	fetched, err := s.GetCollection(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, col.ID, fetched.ID)

	// add is upsert-by-name
	updated, err := s.AddCollection(ctx, "notes", "/tmp/notes2", "*.md")
	require.NoError(t, err)
	assert.Equal(t, col.ID, updated.ID)
	assert.Equal(t, "/tmp/notes2", updated.Root)

	list, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.RemoveCollection(ctx, "notes"))
	_, err = s.GetCollection(ctx, "notes")
	assert.Error(t, err)
}

func TestCollections_GetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t, 0)
	_, err := s.GetCollection(context.Background(), "missing")
	assert.Error(t, err)
}

func TestCollections_AddRequiresNameAndRoot(t *testing.T) {
	s := newTestStore(t, 0)
	_, err := s.AddCollection(context.Background(), "", "/tmp", "*.md")
	assert.Error(t, err)
}
