package embedder

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	stderrors "github.com/memoirhq/memoir/pkg/errors"
)

// OpenAIEmbedder implements EmbeddingProvider against the OpenAI
// embeddings endpoint via the official SDK client.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
}

// NewOpenAIEmbedder creates an embedder for the given model and
// dimension. Dimension is supplied by the caller (from config or a
// model registry) rather than inferred, since it determines the vec0
// table's fixed column width.
func NewOpenAIEmbedder(apiKey, model string, dimension int) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		dimension: dimension,
	}
}

func (p *OpenAIEmbedder) Dimension() int   { return p.dimension }
func (p *OpenAIEmbedder) ModelName() string { return p.model }

// Embed requests embeddings for the given (already-formatted) texts in
// a single request, in order.
func (p *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, stderrors.Wrap(err, stderrors.CodeEmbedderUpstreamFailure, "openai embeddings request failed",
			stderrors.FieldModel(p.model))
	}
	if len(resp.Data) != len(texts) {
		return nil, stderrors.Errorf(stderrors.CodeEmbedderUpstreamFailure,
			"openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		if len(vec) != p.dimension {
			return nil, stderrors.New(stderrors.CodeEmbedderDimensionMismatch, "embedding dimension mismatch",
				stderrors.Field("got", len(vec)), stderrors.Field("want", p.dimension), stderrors.FieldModel(p.model))
		}
		out[i] = vec
	}
	return out, nil
}
