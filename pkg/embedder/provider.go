// Package embedder manages pluggable embedding/rerank model providers:
// single-flight model loading, the fixed text-formatting contract used
// for embeddings, and sequential batch embedding against the store.
package embedder

import "context"

// EmbeddingProvider generates vector embeddings from already-formatted
// text. Implementations do not apply the query/document formatting
// templates themselves — callers go through Embedder so the contract
// stays in one place.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelName() string
}

// RerankProvider scores a query against a set of candidate documents,
// returning one relevance score per document in the same order.
type RerankProvider interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
	ModelName() string
}

// FormatQuery applies the fixed query-formatting template. The
// template is part of the on-disk contract: embeddings generated with
// a different template are not comparable to ones already stored.
func FormatQuery(text string) string {
	return "task: search result | query: " + text
}

// FormatDocument applies the fixed document-formatting template.
func FormatDocument(text string) string {
	return "title: none | text: " + text
}
