package repository

import (
	"context"

	"textgen/internal/domain/entity"
)

// TextGenerator is the text-generation capability the service proxies to.
type TextGenerator interface {
	// Generate continues prompt and returns numReturnSequences records.
	// maxLength is a budget of new tokens, not counting the prompt. Each
	// returned GeneratedText starts with prompt.
	Generate(ctx context.Context, prompt string, maxLength, numReturnSequences int) ([]entity.GeneratedSequence, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}

// Loader is implemented by generators that need a blocking warm-up step
// before the service can accept traffic.
type Loader interface {
	Load(ctx context.Context) error
}
