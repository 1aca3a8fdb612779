package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"textgen/internal/domain/entity"
	"textgen/internal/domain/repository"
	"textgen/internal/infrastructure/metrics"
)

const backendOpenAI = "openai"

// OpenAIGenerator uses an OpenAI-compatible completions endpoint. Echo is
// requested so the returned text starts with the prompt, the same shape a
// local text-generation pipeline produces.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

var _ repository.TextGenerator = (*OpenAIGenerator)(nil)

func NewOpenAIGenerator(apiKey, baseURL, model string, opts ...option.RequestOption) *OpenAIGenerator {
	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}
	options = append(options, opts...)

	return &OpenAIGenerator{
		client: openai.NewClient(options...),
		model:  model,
	}
}

func (g *OpenAIGenerator) Name() string {
	return backendOpenAI
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, maxLength, numReturnSequences int) ([]entity.GeneratedSequence, error) {
	metrics.IncLLMRequest(backendOpenAI)

	if numReturnSequences <= 0 {
		numReturnSequences = 1
	}

	params := openai.CompletionNewParams{
		Model: openai.CompletionNewParamsModel(g.model),
		Prompt: openai.CompletionNewParamsPromptUnion{
			OfString: openai.String(prompt),
		},
		MaxTokens: openai.Int(int64(maxLength)),
		N:         openai.Int(int64(numReturnSequences)),
		Echo:      openai.Bool(true),
	}

	completion, err := g.client.Completions.New(ctx, params)
	if err != nil {
		metrics.IncError("llm", "openai_request")
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		metrics.IncError("llm", "empty_response")
		return nil, errors.New("no choices returned from openai")
	}

	seqs := make([]entity.GeneratedSequence, 0, len(completion.Choices))
	for _, choice := range completion.Choices {
		seqs = append(seqs, entity.GeneratedSequence{GeneratedText: choice.Text})
	}
	return seqs, nil
}
