package searcher

import (
	"context"
	"math"
	"sort"
	"strings"
)

// rerank applies the first applicable strategy from the fallback
// chain: cross-encoder, external callback, embedding cosine similarity,
// keyword overlap. candidates must already be RRF-fused and sorted.
func (s *Searcher) rerank(ctx context.Context, query string, candidates []Hit, opts Options) ([]Hit, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Title + "\n" + c.Content
	}

	if opts.CrossEncoder != nil {
		scores, err := opts.CrossEncoder(ctx, query, texts)
		if err != nil {
			return nil, err
		}
		return applyScoresDescending(candidates, scores), nil
	}

	if opts.ExternalRerank != nil {
		scores, err := opts.ExternalRerank(ctx, query, texts)
		if err != nil {
			return nil, err
		}
		return blendAndSort(candidates, scores, 0.4, 0.6), nil
	}

	if len(opts.QueryEmbedding) > 0 {
		if reranked, ok := s.embeddingRerank(ctx, candidates, opts.QueryEmbedding); ok {
			return reranked, nil
		}
	}

	return keywordRerank(candidates, query), nil
}

// applyScoresDescending replaces each candidate's score with the
// cross-encoder's score directly and sorts descending.
func applyScoresDescending(candidates []Hit, scores []float64) []Hit {
	out := make([]Hit, len(candidates))
	copy(out, candidates)
	for i := range out {
		if i < len(scores) {
			out[i].Score = scores[i]
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// blendAndSort combines the RRF score with an external rerank score
// using a fixed weight split, then sorts descending.
func blendAndSort(candidates []Hit, scores []float64, wOriginal, wRerank float64) []Hit {
	out := make([]Hit, len(candidates))
	copy(out, candidates)
	for i := range out {
		if i < len(scores) {
			out[i].Score = wOriginal*out[i].Score + wRerank*scores[i]
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// embeddingRerank scores each candidate by the cosine similarity
// between queryEmbedding and its stored seq=0 vector. ok is false if
// any candidate has no vector yet, in which case the caller falls
// through to keyword rerank instead of scoring a partial set.
func (s *Searcher) embeddingRerank(ctx context.Context, candidates []Hit, queryEmbedding []float32) ([]Hit, bool) {
	out := make([]Hit, len(candidates))
	copy(out, candidates)

	for i, c := range out {
		if c.ContentHash == "" {
			return nil, false
		}
		vec, err := s.store.GetVector(ctx, c.ContentHash)
		if err != nil || vec == nil {
			return nil, false
		}
		out[i].Score = cosineSimilarity(queryEmbedding, vec)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// keywordRerank scores each candidate by counting occurrences of
// lowercase query terms (length > 1) in title+body, with a bonus for
// token-boundary matches, then blends with the original RRF score.
func keywordRerank(candidates []Hit, query string) []Hit {
	terms := keywordTerms(query)
	if len(terms) == 0 {
		return candidates
	}

	out := make([]Hit, len(candidates))
	copy(out, candidates)
	for i, c := range out {
		haystack := strings.ToLower(c.Title + " " + c.Content)
		tokens := strings.Fields(haystack)
		tokenSet := make(map[string]bool, len(tokens))
		for _, t := range tokens {
			tokenSet[t] = true
		}

		var matches float64
		for _, term := range terms {
			occurrences := strings.Count(haystack, term)
			matches += float64(occurrences)
			if tokenSet[term] {
				matches += 0.5
			}
		}

		keywordScore := matches / float64(len(terms))
		out[i].Score = 0.3*c.Score + 0.7*keywordScore
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func keywordTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			terms = append(terms, f)
		}
	}
	return terms
}
