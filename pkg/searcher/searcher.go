// Package searcher implements the hybrid query pipeline: parallel
// BM25/ANN fan-out, Reciprocal Rank Fusion, and the staged rerank
// fallback chain on top of pkg/store.
package searcher

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/memoirhq/memoir/internal/observability"
	"github.com/memoirhq/memoir/internal/tracing"
	stderrors "github.com/memoirhq/memoir/pkg/errors"
	"github.com/memoirhq/memoir/pkg/store"
	"github.com/rs/zerolog"
)

// Source identifies which retrieval stage(s) produced a Hit.
type Source string

const (
	SourceBM25   Source = "bm25"
	SourceVec    Source = "vec"
	SourceHybrid Source = "hybrid"
)

// Hit is a single ranked search result.
type Hit struct {
	DocumentID  string
	Path        string
	Title       string
	Content     string
	ContentHash string
	Score       float64
	Source      Source
}

// RerankFunc scores query against a batch of document texts, in the
// same order, for the "external rerank callback" strategy.
type RerankFunc func(ctx context.Context, query string, documents []string) ([]float64, error)

// CrossEncoderFunc is a loaded reranker model's scoring function, for
// the "cross-encoder rerank" strategy.
type CrossEncoderFunc func(ctx context.Context, query string, documents []string) ([]float64, error)

// Options configures a single Search call.
type Options struct {
	CollectionID *int64
	Limit        int

	// QueryEmbedding, when non-nil, enables ANN fan-out and the
	// embedding-rerank fallback strategy.
	QueryEmbedding []float32

	// CrossEncoder, when non-nil, is tried first during rerank.
	CrossEncoder CrossEncoderFunc
	// ExternalRerank, when non-nil, is tried if no cross-encoder is loaded.
	ExternalRerank RerankFunc

	// RRFK and RRFWeightBM25/RRFWeightVec tune Reciprocal Rank Fusion.
	// Zero values fall back to the spec defaults (k=60, weights 1:1).
	RRFK          int
	RRFWeightBM25 float64
	RRFWeightVec  float64
}

// Searcher runs hybrid queries against a store.Store.
type Searcher struct {
	store  *store.Store
	logger zerolog.Logger
}

// New creates a Searcher over st.
func New(st *store.Store, logger zerolog.Logger) *Searcher {
	return &Searcher{store: st, logger: logger}
}

// Search runs the full hybrid pipeline: parallel BM25+ANN fan-out,
// single-source passthrough, RRF fusion, top-4*limit rerank staging,
// and truncation to opts.Limit.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) ([]Hit, error) {
	ctx, span := tracing.StartSpan(ctx, "memoir.searcher", "searcher.search")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if query == "" {
		return []Hit{}, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		return nil, stderrors.New(stderrors.CodeSearcherQueryInvalid, "limit must be positive")
	}

	overfetch := limit * 4

	bm25Hits, vecHits := s.fanOut(ctx, query, opts, overfetch)

	observability.RecordSearcherResults("bm25", len(bm25Hits))
	observability.RecordSearcherResults("vec", len(vecHits))

	switch {
	case len(bm25Hits) > 0 && len(vecHits) == 0:
		return truncate(bm25Only(bm25Hits), limit), nil
	case len(vecHits) > 0 && len(bm25Hits) == 0:
		return truncate(vecOnly(vecHits), limit), nil
	case len(bm25Hits) == 0 && len(vecHits) == 0:
		return []Hit{}, nil
	}

	k := opts.RRFK
	if k <= 0 {
		k = 60
	}
	wBM25 := opts.RRFWeightBM25
	wVec := opts.RRFWeightVec
	if wBM25 == 0 && wVec == 0 {
		wBM25, wVec = 1, 1
	}

	fused := fuse(bm25Hits, vecHits, k, wBM25, wVec)

	candidates := fused
	if len(candidates) > overfetch {
		candidates = candidates[:overfetch]
	}

	start := time.Now()
	reranked, err := s.rerank(ctx, query, candidates, opts)
	observability.RecordSearcherQuery("rerank", time.Since(start))
	if err != nil {
		logger.Warn().Err(err).Msg("rerank failed, falling back to RRF order")
		reranked = candidates
	}

	return truncate(reranked, limit), nil
}

// VSearch runs the vector index alone, skipping the BM25 fan-out and
// RRF fusion entirely: for callers that already have a query embedding
// and no lexical query text (spec's "vsearch" entry point). The rerank
// fallback chain still runs on the ANN results.
func (s *Searcher) VSearch(ctx context.Context, embedding []float32, opts Options) ([]Hit, error) {
	limit := opts.Limit
	if limit <= 0 {
		return nil, stderrors.New(stderrors.CodeSearcherQueryInvalid, "limit must be positive")
	}
	if len(embedding) == 0 {
		return []Hit{}, nil
	}

	overfetch := limit * 4
	start := time.Now()
	vecHits, err := s.store.VecSearch(ctx, embedding, opts.CollectionID, overfetch)
	observability.RecordSearcherQuery("vec", time.Since(start))
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeSearcherQueryInvalid, "vector search failed")
	}
	observability.RecordSearcherResults("vec", len(vecHits))
	if len(vecHits) == 0 {
		return []Hit{}, nil
	}

	candidates := vecOnly(vecHits)
	opts.QueryEmbedding = embedding
	reranked, err := s.rerank(ctx, "", candidates, opts)
	if err != nil {
		s.logger.Warn().Err(err).Msg("rerank failed, falling back to vector order")
		reranked = candidates
	}
	return truncate(reranked, limit), nil
}

// fanOut runs BM25Search and VecSearch concurrently against the same
// store handle. ANN failures and an absent vector index both degrade
// to an empty slice; only a BM25 failure is returned as an error.
func (s *Searcher) fanOut(ctx context.Context, query string, opts Options, overfetch int) ([]store.BM25Hit, []store.VecHit) {
	var bm25Hits []store.BM25Hit
	var vecHits []store.VecHit
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		start := time.Now()
		hits, err := s.store.BM25Search(ctx, query, opts.CollectionID, overfetch)
		observability.RecordSearcherQuery("bm25", time.Since(start))
		if err != nil {
			s.logger.Warn().Err(err).Msg("bm25 search failed")
			return
		}
		bm25Hits = hits
	}()

	if len(opts.QueryEmbedding) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			hits, err := s.store.VecSearch(ctx, opts.QueryEmbedding, opts.CollectionID, overfetch)
			observability.RecordSearcherQuery("vec", time.Since(start))
			if err != nil {
				s.logger.Warn().Err(err).Msg("vector search failed, degrading to bm25-only")
				return
			}
			vecHits = hits
		}()
	}

	wg.Wait()
	return bm25Hits, vecHits
}

func bm25Only(hits []store.BM25Hit) []Hit {
	out := make([]Hit, len(hits))
	for i, h := range hits {
		out[i] = Hit{DocumentID: h.DocumentID, Path: h.Path, Title: h.Title, Content: h.Content, ContentHash: h.ContentHash, Score: h.Score, Source: SourceBM25}
	}
	return out
}

func vecOnly(hits []store.VecHit) []Hit {
	out := make([]Hit, len(hits))
	for i, h := range hits {
		out[i] = Hit{DocumentID: h.DocumentID, Path: h.Path, Title: h.Title, Content: h.Content, ContentHash: h.ContentHash, Score: h.Score, Source: SourceVec}
	}
	return out
}

// fuse combines BM25 and ANN rankings with Reciprocal Rank Fusion,
// keyed by document path, then normalizes so the top result scores
// exactly 1.0.
func fuse(bm25Hits []store.BM25Hit, vecHits []store.VecHit, k int, wBM25, wVec float64) []Hit {
	type acc struct {
		hit   Hit
		score float64
		seen  map[Source]bool
	}
	byPath := make(map[string]*acc)

	for rank, h := range bm25Hits {
		a, ok := byPath[h.Path]
		if !ok {
			a = &acc{hit: Hit{DocumentID: h.DocumentID, Path: h.Path, Title: h.Title, Content: h.Content, ContentHash: h.ContentHash}, seen: map[Source]bool{}}
			byPath[h.Path] = a
		}
		a.score += wBM25 / float64(k+rank+1)
		a.seen[SourceBM25] = true
	}
	for rank, h := range vecHits {
		a, ok := byPath[h.Path]
		if !ok {
			a = &acc{hit: Hit{DocumentID: h.DocumentID, Path: h.Path, Title: h.Title, Content: h.Content, ContentHash: h.ContentHash}, seen: map[Source]bool{}}
			byPath[h.Path] = a
		}
		a.score += wVec / float64(k+rank+1)
		a.seen[SourceVec] = true
	}

	out := make([]Hit, 0, len(byPath))
	var maxScore float64
	for _, a := range byPath {
		if a.score > maxScore {
			maxScore = a.score
		}
	}
	for _, a := range byPath {
		hit := a.hit
		hit.Score = a.score
		if maxScore > 0 {
			hit.Score = a.score / maxScore
		}
		if a.seen[SourceBM25] && a.seen[SourceVec] {
			hit.Source = SourceHybrid
		} else if a.seen[SourceVec] {
			hit.Source = SourceVec
		} else {
			hit.Source = SourceBM25
		}
		out = append(out, hit)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func truncate(hits []Hit, limit int) []Hit {
	if len(hits) > limit {
		return hits[:limit]
	}
	return hits
}
