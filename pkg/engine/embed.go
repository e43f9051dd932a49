package engine

import (
	"context"

	stderrors "github.com/memoirhq/memoir/pkg/errors"
	"github.com/memoirhq/memoir/pkg/store"
)

// GetHashesForEmbedding lists content hashes with no stored vector yet.
func (e *Engine) GetHashesForEmbedding(ctx context.Context) ([]string, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.store.HashesForEmbedding(ctx)
}

// InsertEmbedding records a precomputed vector for a content hash.
func (e *Engine) InsertEmbedding(ctx context.Context, contentHash string, vector []float32) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	return e.store.InsertEmbedding(ctx, contentHash, 0, 0, vector, e.cfg.Embedder.Model)
}

// ClearAllEmbeddings drops every stored vector, leaving the lexical
// index untouched.
func (e *Engine) ClearAllEmbeddings(ctx context.Context) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	return e.store.ClearAllEmbeddings(ctx)
}

// EmbedQuery embeds a single search query using the configured provider.
func (e *Engine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.embedder.EmbedQuery(ctx, e.loadEmbeddingProvider, text)
}

// EmbedDocument embeds a single document body.
func (e *Engine) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.embedder.EmbedDocument(ctx, e.loadEmbeddingProvider, text)
}

// EmbedBatch embeds a batch of document bodies in one provider call.
func (e *Engine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.embedder.EmbedBatch(ctx, e.loadEmbeddingProvider, texts)
}

// EmbedAll drains the entire embedding backlog.
func (e *Engine) EmbedAll(ctx context.Context) (embedded, failed int, err error) {
	if err := e.requireInitialized(); err != nil {
		return 0, 0, err
	}
	return e.embedder.EmbedAll(ctx, e.store, e.loadEmbeddingProvider)
}

// SetEmbeddingModel switches the embedding model. If dim differs from
// the store's current vector dimension, every stored embedding is
// cleared and the vector table is recreated at the new width, since
// vectors from different models (or dimensions) are never comparable.
func (e *Engine) SetEmbeddingModel(ctx context.Context, name string, dim int) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	e.embedder.UnloadEmbeddingModel()
	e.cfg.Embedder.Model = name

	if dim > 0 && dim != e.cfg.Embedder.Dimension {
		if err := e.store.ClearAllEmbeddings(ctx); err != nil {
			return err
		}
		if err := e.store.EnsureVectorTable(dim); err != nil {
			return stderrors.Wrap(err, stderrors.CodeEmbedderDimensionMismatch, "failed to resize vector table")
		}
		e.cfg.Embedder.Dimension = dim
	}
	return nil
}

// GetEmbeddingModel returns the configured embedding model name.
func (e *Engine) GetEmbeddingModel() string { return e.cfg.Embedder.Model }

// GetEmbeddingDimension returns the configured embedding dimension.
func (e *Engine) GetEmbeddingDimension() int { return e.cfg.Embedder.Dimension }

// StartAutoEmbed starts the watcher's debounced reindex loop and
// periodic embedding backlog scan over every registered collection.
func (e *Engine) StartAutoEmbed(ctx context.Context) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	cols, err := e.collections.List(ctx)
	if err != nil {
		return err
	}
	return e.watcher.Start(ctx, cols)
}

// StopAutoEmbed stops the watcher.
func (e *Engine) StopAutoEmbed() error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	return e.watcher.Stop()
}

// PreloadEmbeddingModel forces the embedding provider to load now.
func (e *Engine) PreloadEmbeddingModel(ctx context.Context) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	return e.embedder.PreloadEmbeddingModel(ctx, e.loadEmbeddingProvider)
}

// PreloadRerankModel forces the rerank provider to load now.
func (e *Engine) PreloadRerankModel(ctx context.Context) error {
	if err := e.requireInitialized(); err != nil {
		return err
	}
	return e.embedder.PreloadRerankModel(ctx, e.loadRerankProvider)
}

func (e *Engine) IsEmbeddingModelLoaded() bool { return e.embedder.IsEmbeddingModelLoaded() }
func (e *Engine) IsRerankModelLoaded() bool    { return e.embedder.IsRerankModelLoaded() }

// EmbeddingStatus reports how much active content has vectors.
func (e *Engine) EmbeddingStatus(ctx context.Context) (store.EmbeddingStatus, error) {
	if err := e.requireInitialized(); err != nil {
		return store.EmbeddingStatus{}, err
	}
	return e.store.EmbeddingStatus(ctx)
}
