package llm

import (
	"context"

	"textgen/internal/domain/entity"
	"textgen/internal/domain/repository"
	"textgen/internal/infrastructure/metrics"
)

const backendEcho = "echo"

// EchoGenerator returns the prompt followed by a fixed suffix. It needs no
// model and is used for local runs and smoke tests.
type EchoGenerator struct {
	suffix string
}

var _ repository.TextGenerator = (*EchoGenerator)(nil)

func NewEchoGenerator(suffix string) *EchoGenerator {
	return &EchoGenerator{suffix: suffix}
}

func (g *EchoGenerator) Name() string {
	return backendEcho
}

func (g *EchoGenerator) Generate(ctx context.Context, prompt string, _ int, numReturnSequences int) ([]entity.GeneratedSequence, error) {
	metrics.IncLLMRequest(backendEcho)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if numReturnSequences <= 0 {
		numReturnSequences = 1
	}

	seqs := make([]entity.GeneratedSequence, numReturnSequences)
	for i := range seqs {
		seqs[i] = entity.GeneratedSequence{GeneratedText: prompt + g.suffix}
	}
	return seqs, nil
}
