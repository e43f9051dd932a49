package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsert_InsertsAndRetrieves(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	col, err := s.AddCollection(ctx, "notes", "/tmp/notes", "*.md")
	require.NoError(t, err)

	doc, err := s.Upsert(ctx, col.ID, "a.md", "Note A", "hello world", nil)
	require.NoError(t, err)
	assert.Len(t, doc.ID, 12)
	assert.True(t, doc.Active)

	fetched, err := s.Get(ctx, col.ID, "a.md")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, fetched.ID)
	assert.Equal(t, "hello world", fetched.Content)
}

func TestUpsert_SamePathNewBodyReplacesContentAndKeepsDocID(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	col, err := s.AddCollection(ctx, "notes", "/tmp/notes", "*.md")
	require.NoError(t, err)

	first, err := s.Upsert(ctx, col.ID, "a.md", "Note A", "version one", nil)
	require.NoError(t, err)

	second, err := s.Upsert(ctx, col.ID, "a.md", "Note A", "version two", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID, "doc id is derived from content hash, so a body change changes it")
	assert.NotEqual(t, first.ContentHash, second.ContentHash)

	fetched, err := s.Get(ctx, col.ID, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "version two", fetched.Content)
}

func TestUpsert_SameBodyDifferentPathGetsDifferentDocID(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	col, err := s.AddCollection(ctx, "notes", "/tmp/notes", "*.md")
	require.NoError(t, err)

	a, err := s.Upsert(ctx, col.ID, "a.md", "A", "shared body", nil)
	require.NoError(t, err)
	b, err := s.Upsert(ctx, col.ID, "b.md", "B", "shared body", nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.ContentHash, b.ContentHash, "identical bodies dedupe to one content row")
}

func TestUpsert_OrphanedContentIsGarbageCollected(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	col, err := s.AddCollection(ctx, "notes", "/tmp/notes", "*.md")
	require.NoError(t, err)

	_, err = s.Upsert(ctx, col.ID, "a.md", "A", "original body", nil)
	require.NoError(t, err)

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM content`).Scan(&count))
	assert.Equal(t, 1, count)

	_, err = s.Upsert(ctx, col.ID, "a.md", "A", "replaced body", nil)
	require.NoError(t, err)

	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM content`).Scan(&count))
	assert.Equal(t, 1, count, "the stale body should have been garbage collected, not left orphaned")
}

func TestUpsert_RequiresPath(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	col, err := s.AddCollection(ctx, "notes", "/tmp/notes", "*.md")
	require.NoError(t, err)

	_, err = s.Upsert(ctx, col.ID, "", "X", "body", nil)
	assert.Error(t, err)
}

func TestReconcileSoftDeletes_MarksMissingPathsInactive(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	col, err := s.AddCollection(ctx, "notes", "/tmp/notes", "*.md")
	require.NoError(t, err)

	_, err = s.Upsert(ctx, col.ID, "a.md", "A", "body a", nil)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, col.ID, "b.md", "B", "body b", nil)
	require.NoError(t, err)

	n, err := s.ReconcileSoftDeletes(ctx, col.ID, map[string]bool{"a.md": true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var active int
	require.NoError(t, s.db.QueryRow(`SELECT active FROM documents WHERE path = 'b.md'`).Scan(&active))
	assert.Equal(t, 0, active)

	require.NoError(t, s.db.QueryRow(`SELECT active FROM documents WHERE path = 'a.md'`).Scan(&active))
	assert.Equal(t, 1, active)
}

func TestUpsert_ReactivatingSoftDeletedDocumentWithSharedHashKeepsContentReferenced(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	col, err := s.AddCollection(ctx, "notes", "/tmp/notes", "*.md")
	require.NoError(t, err)

	_, err = s.Upsert(ctx, col.ID, "a.md", "A", "shared body", nil)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, col.ID, "b.md", "B", "shared body", nil)
	require.NoError(t, err)

	var refs int
	require.NoError(t, s.db.QueryRow(`SELECT ref_count FROM content WHERE body = 'shared body'`).Scan(&refs))
	require.Equal(t, 2, refs)

	// a.md disappears from disk: soft-deleted, releasing its reference.
	n, err := s.ReconcileSoftDeletes(ctx, col.ID, map[string]bool{"b.md": true})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, s.db.QueryRow(`SELECT ref_count FROM content WHERE body = 'shared body'`).Scan(&refs))
	require.Equal(t, 1, refs)

	// a.md reappears with the same body: this is a new reference even
	// though the hash is unchanged, since the soft-delete already
	// released the old one.
	_, err = s.Upsert(ctx, col.ID, "a.md", "A", "shared body", nil)
	require.NoError(t, err)
	require.NoError(t, s.db.QueryRow(`SELECT ref_count FROM content WHERE body = 'shared body'`).Scan(&refs))
	assert.Equal(t, 2, refs, "reactivation must re-establish the reference released at soft-delete time")

	// b.md now disappears. If reactivation had undercounted, this drives
	// ref_count to 0 and deletes content that a.md still references.
	n, err = s.ReconcileSoftDeletes(ctx, col.ID, map[string]bool{"a.md": true})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	fetched, err := s.Get(ctx, col.ID, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "shared body", fetched.Content, "a.md's content must still be readable")
}

func TestReconcileSoftDeletes_IsIdempotent(t *testing.T) {
	s := newTestStore(t, 0)
	ctx := context.Background()
	col, err := s.AddCollection(ctx, "notes", "/tmp/notes", "*.md")
	require.NoError(t, err)

	_, err = s.Upsert(ctx, col.ID, "a.md", "A", "body a", nil)
	require.NoError(t, err)

	n, err := s.ReconcileSoftDeletes(ctx, col.ID, map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.ReconcileSoftDeletes(ctx, col.ID, map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "already-inactive documents are not counted again")
}
