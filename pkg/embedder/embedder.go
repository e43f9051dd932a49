package embedder

import (
	"context"
	"time"

	"github.com/memoirhq/memoir/internal/observability"
	stderrors "github.com/memoirhq/memoir/pkg/errors"
	"github.com/memoirhq/memoir/pkg/store"
	"github.com/rs/zerolog"
)

// Embedder wraps an embedding provider and rerank provider behind
// single-flight loaders, and applies the fixed formatting contract
// before every call so provider implementations never see raw text.
type Embedder struct {
	logger      zerolog.Logger
	embedLoader *Loader[EmbeddingProvider]
	rerankLoader *Loader[RerankProvider]
}

// New creates an Embedder. loadEmbedder/loadReranker are deferred
// (single-flight) constructors, invoked the first time the
// corresponding provider is actually needed.
func New(logger zerolog.Logger, loadTimeout time.Duration) *Embedder {
	return &Embedder{
		logger:       logger,
		embedLoader:  NewLoader[EmbeddingProvider](loadTimeout, logger),
		rerankLoader: NewLoader[RerankProvider](loadTimeout, logger),
	}
}

// PreloadEmbeddingModel forces the embedding provider to load now,
// rather than lazily on first use.
func (e *Embedder) PreloadEmbeddingModel(ctx context.Context, load LoadFunc[EmbeddingProvider]) error {
	_, err := e.embedLoader.Ensure(ctx, load)
	return err
}

// PreloadRerankModel forces the rerank provider to load now.
func (e *Embedder) PreloadRerankModel(ctx context.Context, load LoadFunc[RerankProvider]) error {
	_, err := e.rerankLoader.Ensure(ctx, load)
	return err
}

func (e *Embedder) IsEmbeddingModelLoaded() bool { return e.embedLoader.IsLoaded() }
func (e *Embedder) IsRerankModelLoaded() bool     { return e.rerankLoader.IsLoaded() }

// UnloadEmbeddingModel drops the currently loaded embedding provider.
func (e *Embedder) UnloadEmbeddingModel() { e.embedLoader.Unload() }

// UnloadRerankModel drops the currently loaded rerank provider.
func (e *Embedder) UnloadRerankModel() { e.rerankLoader.Unload() }

// EmbedQuery formats and embeds a single search query.
func (e *Embedder) EmbedQuery(ctx context.Context, load LoadFunc[EmbeddingProvider], text string) ([]float32, error) {
	vecs, err := e.embedBatch(ctx, load, []string{FormatQuery(text)})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocument formats and embeds a single document body.
func (e *Embedder) EmbedDocument(ctx context.Context, load LoadFunc[EmbeddingProvider], text string) ([]float32, error) {
	vecs, err := e.embedBatch(ctx, load, []string{FormatDocument(text)})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch formats and embeds a batch of document bodies in one
// provider call.
func (e *Embedder) EmbedBatch(ctx context.Context, load LoadFunc[EmbeddingProvider], texts []string) ([][]float32, error) {
	formatted := make([]string, len(texts))
	for i, t := range texts {
		formatted[i] = FormatDocument(t)
	}
	return e.embedBatch(ctx, load, formatted)
}

func (e *Embedder) embedBatch(ctx context.Context, load LoadFunc[EmbeddingProvider], formatted []string) ([][]float32, error) {
	provider, err := e.embedLoader.Ensure(ctx, load)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { observability.RecordEmbedderEmbed(time.Since(start)) }()

	vecs, err := provider.Embed(ctx, formatted)
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

// EmbedAll embeds every content hash the store reports as pending,
// sequentially, storing each result as it completes. A single
// document's embedding failure is logged and skipped rather than
// aborting the rest of the backlog.
func (e *Embedder) EmbedAll(ctx context.Context, st *store.Store, load LoadFunc[EmbeddingProvider]) (embedded int, failed int, err error) {
	provider, err := e.embedLoader.Ensure(ctx, load)
	if err != nil {
		return 0, 0, err
	}

	hashes, err := st.HashesForEmbedding(ctx)
	if err != nil {
		return 0, 0, err
	}
	observability.SetEmbedderQueueDepth(len(hashes))

	for i, hash := range hashes {
		observability.SetEmbedderQueueDepth(len(hashes) - i)

		doc, getErr := st.GetByContentHash(ctx, hash)
		if getErr != nil {
			e.logger.Warn().Err(getErr).Str("content_hash", hash).Msg("failed to load content body for embedding")
			failed++
			continue
		}

		start := time.Now()
		vecs, embedErr := provider.Embed(ctx, []string{FormatDocument(doc)})
		observability.RecordEmbedderEmbed(time.Since(start))
		if embedErr != nil {
			e.logger.Warn().Err(embedErr).Str("content_hash", hash).Msg("failed to embed document")
			failed++
			continue
		}

		if err := st.InsertEmbedding(ctx, hash, 0, 0, vecs[0], provider.ModelName()); err != nil {
			e.logger.Warn().Err(err).Str("content_hash", hash).Msg("failed to store embedding")
			failed++
			continue
		}
		embedded++
	}
	observability.SetEmbedderQueueDepth(0)
	return embedded, failed, nil
}

// Rerank scores documents against query using the configured rerank
// provider.
func (e *Embedder) Rerank(ctx context.Context, load LoadFunc[RerankProvider], query string, documents []string) ([]float64, error) {
	provider, err := e.rerankLoader.Ensure(ctx, load)
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeSearcherRerankFailure, "rerank model unavailable")
	}
	return provider.Score(ctx, query, documents)
}
