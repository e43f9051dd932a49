package memoir

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/memoirhq/memoir/pkg/searcher"
)

// Hit decorates a searcher.Hit with the memory key it resolves to and
// the half-life decay that was applied to its score, if any.
type Hit struct {
	Key   string
	Hit   searcher.Hit
	Decay float64
}

// SearchOptions configures a Memoir search; it mirrors searcher.Options
// for the fields callers are expected to set directly.
type SearchOptions struct {
	Limit          int
	QueryEmbedding []float32
	CrossEncoder   searcher.CrossEncoderFunc
	ExternalRerank searcher.RerankFunc
}

// Search runs a hybrid search scoped to this Memoir's collection, then
// applies each hit's half-life decay (if its front matter declares one)
// and re-sorts by the decayed score. Hits without a half_life_days
// field pass through with decay 1.
func (m *Memoir) Search(ctx context.Context, sr *searcher.Searcher, query string, opts SearchOptions) ([]Hit, error) {
	colID := m.col.ID
	hits, err := sr.Search(ctx, query, searcher.Options{
		CollectionID:   &colID,
		Limit:          opts.Limit,
		QueryEmbedding: opts.QueryEmbedding,
		CrossEncoder:   opts.CrossEncoder,
		ExternalRerank: opts.ExternalRerank,
	})
	if err != nil {
		return nil, err
	}

	out := make([]Hit, 0, len(hits))
	for _, h := range hits {
		decay := 1.0
		doc, getErr := m.store.Get(ctx, m.col.ID, h.Path)
		if getErr == nil && len(doc.Frontmatter) > 0 {
			var fm map[string]any
			if json.Unmarshal(doc.Frontmatter, &fm) == nil {
				if halfLife, ok := numericField(fm, "half_life_days"); ok && halfLife > 0 {
					daysSince := time.Since(doc.UpdatedAt).Hours() / 24
					decay = math.Pow(2, -daysSince/halfLife)
					h.Score = h.Score * decay
				}
			}
		}
		out = append(out, Hit{Key: keyForRelPath(h.Path), Hit: h, Decay: decay})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Hit.Score > out[j].Hit.Score })
	return out, nil
}

func numericField(fm map[string]any, key string) (float64, bool) {
	v, ok := fm[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
