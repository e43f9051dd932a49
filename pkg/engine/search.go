package engine

import (
	"context"

	stderrors "github.com/memoirhq/memoir/pkg/errors"
	"github.com/memoirhq/memoir/pkg/searcher"
)

// SearchParams configures a Search/VSearch/Query call.
type SearchParams struct {
	CollectionName string
	Limit          int
	MinScore       float64
	UseHybrid      bool
	QueryEmbedding []float32
	Rerank         bool
	WeightBM25     float64
	WeightVec      float64
}

func (e *Engine) collectionFilter(ctx context.Context, name string) (*int64, error) {
	if name == "" {
		return nil, nil
	}
	col, err := e.collections.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return &col.ID, nil
}

func filterByMinScore(hits []searcher.Hit, minScore float64) []searcher.Hit {
	if minScore <= 0 {
		return hits
	}
	out := hits[:0]
	for _, h := range hits {
		if h.Score >= minScore {
			out = append(out, h)
		}
	}
	return out
}

// Search runs a lexical-only or hybrid query depending on whether the
// engine has a loaded embedding model, scoped to params.CollectionName.
func (e *Engine) Search(ctx context.Context, query string, params SearchParams) ([]searcher.Hit, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	colID, err := e.collectionFilter(ctx, params.CollectionName)
	if err != nil {
		return nil, err
	}

	opts := searcher.Options{CollectionID: colID, Limit: params.Limit}
	if params.UseHybrid {
		vec, embedErr := e.embedder.EmbedQuery(ctx, e.loadEmbeddingProvider, query)
		if embedErr == nil {
			opts.QueryEmbedding = vec
		} else {
			e.logger.Debug().Err(embedErr).Msg("hybrid search requested but no query embedding available, falling back to lexical-only")
		}
	}
	if params.Rerank && e.embedder.IsRerankModelLoaded() {
		opts.ExternalRerank = func(ctx context.Context, q string, docs []string) ([]float64, error) {
			return e.embedder.Rerank(ctx, e.loadRerankProvider, q, docs)
		}
	}

	hits, err := e.searcher.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	return filterByMinScore(hits, params.MinScore), nil
}

// VSearch runs a vector-only query against a caller-supplied embedding.
func (e *Engine) VSearch(ctx context.Context, embedding []float32, params SearchParams) ([]searcher.Hit, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	colID, err := e.collectionFilter(ctx, params.CollectionName)
	if err != nil {
		return nil, err
	}

	hits, err := e.searcher.VSearch(ctx, embedding, searcher.Options{CollectionID: colID, Limit: params.Limit})
	if err != nil {
		return nil, err
	}
	return filterByMinScore(hits, params.MinScore), nil
}

// Query is the general entry point: text and/or an embedding, with
// explicit rerank and RRF weight overrides. A caller with both a query
// string and its own precomputed embedding uses this instead of Search
// (which embeds the query itself).
func (e *Engine) Query(ctx context.Context, text string, embedding []float32, params SearchParams) ([]searcher.Hit, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	if text == "" && len(embedding) > 0 {
		return e.VSearch(ctx, embedding, params)
	}

	colID, err := e.collectionFilter(ctx, params.CollectionName)
	if err != nil {
		return nil, err
	}

	opts := searcher.Options{
		CollectionID:   colID,
		Limit:          params.Limit,
		QueryEmbedding: embedding,
		RRFWeightBM25:  params.WeightBM25,
		RRFWeightVec:   params.WeightVec,
	}
	if len(embedding) == 0 && params.UseHybrid {
		vec, embedErr := e.embedder.EmbedQuery(ctx, e.loadEmbeddingProvider, text)
		if embedErr == nil {
			opts.QueryEmbedding = vec
		}
	}
	if params.Rerank && e.embedder.IsRerankModelLoaded() {
		opts.ExternalRerank = func(ctx context.Context, q string, docs []string) ([]float64, error) {
			return e.embedder.Rerank(ctx, e.loadRerankProvider, q, docs)
		}
	}

	hits, err := e.searcher.Search(ctx, text, opts)
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeEngineInternal, "query failed")
	}
	return filterByMinScore(hits, params.MinScore), nil
}
