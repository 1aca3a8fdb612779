package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"textgen/internal/domain/entity"
	"textgen/internal/domain/repository"
	"textgen/internal/infrastructure/metrics"
	"textgen/internal/infrastructure/telemetry"
)

var (
	// ErrInvalidArgument marks caller errors. They are never retried and
	// never logged as server faults.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnavailable is returned when the caller gave up waiting for an
	// inference slot.
	ErrUnavailable = errors.New("inference capacity unavailable")
	// ErrRateLimited is returned by the transport rate limiter.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// InferenceError reports a failed generator call.
// The message is the generator's own.
type InferenceError struct {
	Backend string
	Err     error
}

func (e *InferenceError) Error() string {
	return e.Err.Error()
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

type GenerationUsecase interface {
	Health() entity.HealthStatus
	Generate(ctx context.Context, req entity.GenerationRequest) (entity.GenerationResponse, error)
}

var _ GenerationUsecase = (*GenerationService)(nil)

type GenerationOptions struct {
	MaxAllowedLength int           // 0 disables the ceiling
	MaxConcurrent    int           // defaults to 1
	Timeout          time.Duration // 0 means no deadline
}

// GenerationService owns the shared generator handle. It is built once
// before the server starts and is safe for concurrent use.
type GenerationService struct {
	generator repository.TextGenerator
	logger    *slog.Logger

	maxAllowedLength int
	timeout          time.Duration
	slots            *semaphore.Weighted
}

func NewGenerationService(
	generator repository.TextGenerator,
	opts GenerationOptions,
	logger *slog.Logger,
) *GenerationService {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &GenerationService{
		generator:        generator,
		logger:           logger,
		maxAllowedLength: opts.MaxAllowedLength,
		timeout:          opts.Timeout,
		slots:            semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
}

// Health is a liveness signal only and never calls the generator.
func (s *GenerationService) Health() entity.HealthStatus {
	return entity.HealthStatus{Status: entity.StatusHealthy}
}

// Generate validates req and makes exactly one generator call with
// num_return_sequences = 1.
func (s *GenerationService) Generate(ctx context.Context, req entity.GenerationRequest) (entity.GenerationResponse, error) {
	if err := req.Validate(); err != nil {
		metrics.IncGeneration("invalid_argument")
		return entity.GenerationResponse{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	maxLength := req.EffectiveMaxLength(s.maxAllowedLength)
	metrics.ObserveMaxLength(maxLength)

	if err := s.slots.Acquire(ctx, 1); err != nil {
		metrics.IncGeneration("unavailable")
		return entity.GenerationResponse{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer s.slots.Release(1)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.logger.Info("generating text",
		"backend", s.generator.Name(),
		"prompt", preview(req.Prompt, 50),
		"max_length", maxLength,
	)

	ctx, span := telemetry.StartGeneration(ctx, s.generator.Name(), maxLength)
	start := time.Now()
	metrics.IncInflight()
	seqs, err := s.callGenerator(ctx, req.Prompt, maxLength)
	metrics.DecInflight()
	metrics.ObserveGenerationDuration(time.Since(start))
	telemetry.End(span, err)

	if err != nil {
		metrics.IncGeneration("inference_failure")
		s.logger.Error("error generating text", "backend", s.generator.Name(), "err", err)
		return entity.GenerationResponse{}, &InferenceError{Backend: s.generator.Name(), Err: err}
	}

	metrics.IncGeneration("success")
	s.logger.Debug("generation done", "backend", s.generator.Name(), "duration", time.Since(start))

	return entity.GenerationResponse{
		Prompt:        req.Prompt,
		GeneratedText: seqs[0].GeneratedText,
	}, nil
}

// callGenerator converts generator panics and empty results into errors so
// one bad call cannot take the process down.
func (s *GenerationService) callGenerator(ctx context.Context, prompt string, maxLength int) (seqs []entity.GeneratedSequence, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncError("generation", "panic")
			seqs, err = nil, fmt.Errorf("generator panic: %v", r)
		}
	}()

	seqs, err = s.generator.Generate(ctx, prompt, maxLength, 1)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		metrics.IncError("generation", "empty_result")
		return nil, errors.New("generator returned no sequences")
	}
	return seqs, nil
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
