// Package llm holds the text-generation backends.
package llm

import (
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3/option"

	"textgen/app/config"
	"textgen/internal/domain/repository"
)

// New builds the backend selected by cfg.Backend.
func New(cfg config.GeneratorConfig, logger *slog.Logger) (repository.TextGenerator, error) {
	switch cfg.Backend {
	case config.BackendEcho:
		return NewEchoGenerator(cfg.EchoSuffix), nil
	case config.BackendTGI:
		return NewTGIGenerator(cfg.BaseURL, cfg.APIKey, cfg.Timeout, logger.With("component", "tgi")), nil
	case config.BackendOpenAI:
		var opts []option.RequestOption
		if cfg.Timeout > 0 {
			opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
		}
		return NewOpenAIGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported generator backend: %s", cfg.Backend)
	}
}
