package embedder

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/memoirhq/memoir/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEmbeddingProvider struct {
	dim   int
	model string
}

func (m *mockEmbeddingProvider) Dimension() int    { return m.dim }
func (m *mockEmbeddingProvider) ModelName() string { return m.model }
func (m *mockEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, m.dim)
		for j := range vec {
			vec[j] = float32(len(t)%7) + float32(j)*0.01
		}
		out[i] = vec
	}
	return out, nil
}

type mockRerankProvider struct{ model string }

func (m *mockRerankProvider) ModelName() string { return m.model }
func (m *mockRerankProvider) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	scores := make([]float64, len(documents))
	for i := range documents {
		scores[i] = 1.0 / float64(i+1)
	}
	return scores, nil
}

func TestEmbedQueryAndDocument_ApplyFormattingTemplates(t *testing.T) {
	e := New(testLogger(), time.Second)
	var captured []string
	load := func(ctx context.Context) (EmbeddingProvider, error) {
		return &capturingProvider{mockEmbeddingProvider: mockEmbeddingProvider{dim: 4, model: "mock"}, captured: &captured}, nil
	}

	_, err := e.EmbedQuery(context.Background(), load, "hello")
	require.NoError(t, err)
	_, err = e.EmbedDocument(context.Background(), load, "hello")
	require.NoError(t, err)

	assert.Equal(t, FormatQuery("hello"), captured[0])
	assert.Equal(t, FormatDocument("hello"), captured[1])
}

type capturingProvider struct {
	mockEmbeddingProvider
	captured *[]string
}

func (c *capturingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	*c.captured = append(*c.captured, texts...)
	return c.mockEmbeddingProvider.Embed(ctx, texts)
}

func TestEmbedBatch_ReturnsOneVectorPerText(t *testing.T) {
	e := New(testLogger(), time.Second)
	load := func(ctx context.Context) (EmbeddingProvider, error) {
		return &mockEmbeddingProvider{dim: 3, model: "mock"}, nil
	}

	vecs, err := e.EmbedBatch(context.Background(), load, []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, 3)
	}
}

func newEmbedderTestStore(t *testing.T, dim int) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(store.Config{Path: dbPath, Dimension: dim, Logger: zerolog.New(io.Discard).Level(zerolog.Disabled)})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEmbedAll_EmbedsBacklogAndInsertsVectors(t *testing.T) {
	s := newEmbedderTestStore(t, 4)
	ctx := context.Background()
	col, err := s.AddCollection(ctx, "notes", "/tmp/notes", "*.md")
	require.NoError(t, err)

	_, err = s.Upsert(ctx, col.ID, "a.md", "A", "body a", nil)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, col.ID, "b.md", "B", "body b", nil)
	require.NoError(t, err)

	e := New(testLogger(), time.Second)
	load := func(ctx context.Context) (EmbeddingProvider, error) {
		return &mockEmbeddingProvider{dim: 4, model: "mock"}, nil
	}

	embedded, failed, err := e.EmbedAll(ctx, s, load)
	require.NoError(t, err)
	assert.Equal(t, 2, embedded)
	assert.Equal(t, 0, failed)

	pending, err := s.HashesForEmbedding(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRerank_ScoresInOrder(t *testing.T) {
	e := New(testLogger(), time.Second)
	load := func(ctx context.Context) (RerankProvider, error) {
		return &mockRerankProvider{model: "mock"}, nil
	}

	scores, err := e.Rerank(context.Background(), load, "query", []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, scores, 3)
	assert.Greater(t, scores[0], scores[1])
	assert.Greater(t, scores[1], scores[2])
}

func TestPreloadAndUnload_EmbeddingModel(t *testing.T) {
	e := New(testLogger(), time.Second)
	assert.False(t, e.IsEmbeddingModelLoaded())

	load := func(ctx context.Context) (EmbeddingProvider, error) {
		return &mockEmbeddingProvider{dim: 4, model: "mock"}, nil
	}
	require.NoError(t, e.PreloadEmbeddingModel(context.Background(), load))
	assert.True(t, e.IsEmbeddingModelLoaded())

	e.UnloadEmbeddingModel()
	assert.False(t, e.IsEmbeddingModelLoaded())
}
