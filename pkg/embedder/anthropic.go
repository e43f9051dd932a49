package embedder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	stderrors "github.com/memoirhq/memoir/pkg/errors"
)

// AnthropicReranker implements RerankProvider as a cross-encoder-style
// relevance judge: each candidate document is scored against the query
// by asking the model for a single structured tool call carrying a
// 0..1 relevance score, rather than a free-text completion.
type AnthropicReranker struct {
	client anthropic.Client
	model  string
}

// NewAnthropicReranker creates a reranker backed by the given Claude model.
func NewAnthropicReranker(apiKey, model string) *AnthropicReranker {
	return &AnthropicReranker{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (r *AnthropicReranker) ModelName() string { return r.model }

var scoreTool = anthropic.ToolParam{
	Name:        "emit_relevance_score",
	Description: anthropic.String("Record how relevant the document is to the query, from 0 (irrelevant) to 1 (exact match)."),
	InputSchema: anthropic.ToolInputSchemaParam{
		Properties: map[string]any{
			"score": map[string]any{
				"type":        "number",
				"description": "Relevance score between 0 and 1.",
			},
		},
		Required: []string{"score"},
	},
}

// Score judges each document against query independently. A single
// failed judgment degrades that document's score to 0 rather than
// failing the whole batch — rerank is a refinement pass, not a
// correctness-critical one.
func (r *AnthropicReranker) Score(ctx context.Context, query string, documents []string) ([]float64, error) {
	scores := make([]float64, len(documents))
	for i, doc := range documents {
		score, err := r.scoreOne(ctx, query, doc)
		if err != nil {
			scores[i] = 0
			continue
		}
		scores[i] = score
	}
	return scores, nil
}

func (r *AnthropicReranker) scoreOne(ctx context.Context, query, doc string) (float64, error) {
	prompt := fmt.Sprintf("Query: %s\n\nDocument:\n%s", query, doc)

	resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: 64,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools: []anthropic.ToolUnionParam{{OfTool: &scoreTool}},
	})
	if err != nil {
		return 0, stderrors.Wrap(err, stderrors.CodeSearcherRerankFailure, "anthropic rerank request failed",
			stderrors.FieldModel(r.model))
	}

	for _, block := range resp.Content {
		tu, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		var args struct {
			Score float64 `json:"score"`
		}
		if err := json.Unmarshal([]byte(tu.JSON.Input.Raw()), &args); err != nil {
			return 0, stderrors.Wrap(err, stderrors.CodeSearcherRerankFailure, "failed to parse rerank tool input")
		}
		return args.Score, nil
	}
	return 0, stderrors.New(stderrors.CodeSearcherRerankFailure, "model returned no relevance score")
}
