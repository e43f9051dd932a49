package indexer

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

func newTestIndexer(t *testing.T) (*Indexer, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	logger := zerolog.New(io.Discard).Level(zerolog.Disabled)

	st, err := store.Open(store.Config{Path: dbPath, Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	root := filepath.Join(dir, "root")
	require.NoError(t, os.MkdirAll(root, 0o755))

	return New(st, logger), st, root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestReindex_IndexesMarkdownFilesOnly(t *testing.T) {
	ix, st, root := newTestIndexer(t)
	ctx := context.Background()
	col, err := st.AddCollection(ctx, "notes", root, "*.md")
	require.NoError(t, err)

	writeFile(t, root, "a.md", "# A\n\nContent A")
	writeFile(t, root, "b.txt", "not markdown")
	writeFile(t, root, "sub/c.md", "# C\n\nContent C")

	result, err := ix.Reindex(ctx, *col, false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, 0, result.Failed)
}

func TestReindex_ParsesFrontMatterTitleAndTags(t *testing.T) {
	ix, st, root := newTestIndexer(t)
	ctx := context.Background()
	col, err := st.AddCollection(ctx, "notes", root, "*.md")
	require.NoError(t, err)

	writeFile(t, root, "a.md", "---\ntitle: My Note\ntags:\n  - x\n---\nBody content\n")

	_, err = ix.Reindex(ctx, *col, false)
	require.NoError(t, err)

	doc, err := st.Get(ctx, col.ID, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "My Note", doc.Title)
}

func TestReindex_DefaultsTitleToFileStem(t *testing.T) {
	ix, st, root := newTestIndexer(t)
	ctx := context.Background()
	col, err := st.AddCollection(ctx, "notes", root, "*.md")
	require.NoError(t, err)

	writeFile(t, root, "untitled-note.md", "no front matter here")

	_, err = ix.Reindex(ctx, *col, false)
	require.NoError(t, err)

	doc, err := st.Get(ctx, col.ID, "untitled-note.md")
	require.NoError(t, err)
	assert.Equal(t, "untitled-note", doc.Title)
}

func TestReindex_ReconcilesDeletedFiles(t *testing.T) {
	ix, st, root := newTestIndexer(t)
	ctx := context.Background()
	col, err := st.AddCollection(ctx, "notes", root, "*.md")
	require.NoError(t, err)

	writeFile(t, root, "a.md", "content a")
	writeFile(t, root, "b.md", "content b")
	_, err = ix.Reindex(ctx, *col, false)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "b.md")))

	_, err = ix.Reindex(ctx, *col, false)
	require.NoError(t, err)

	doc, err := st.Get(ctx, col.ID, "b.md")
	require.NoError(t, err)
	assert.False(t, doc.Active)
}

func TestReindex_IsolatesPerFileFailures(t *testing.T) {
	ix, st, root := newTestIndexer(t)
	ctx := context.Background()
	col, err := st.AddCollection(ctx, "notes", root, "*.md")
	require.NoError(t, err)

	writeFile(t, root, "good.md", "fine content")
	writeFile(t, root, "bad.md", "---\n[invalid: yaml: here\n---\nbody\n")

	result, err := ix.Reindex(ctx, *col, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "bad.md", result.Errors[0].Path)
}
