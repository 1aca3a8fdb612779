package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"textgen/internal/domain/entity"
)

// stubGenerator records its calls and answers through fn.
type stubGenerator struct {
	mu    sync.Mutex
	calls []stubCall
	fn    func(ctx context.Context, prompt string, maxLength int) ([]entity.GeneratedSequence, error)
}

type stubCall struct {
	prompt             string
	maxLength          int
	numReturnSequences int
}

func (s *stubGenerator) Name() string { return "stub" }

func (s *stubGenerator) Generate(ctx context.Context, prompt string, maxLength, numReturnSequences int) ([]entity.GeneratedSequence, error) {
	s.mu.Lock()
	s.calls = append(s.calls, stubCall{prompt, maxLength, numReturnSequences})
	s.mu.Unlock()
	return s.fn(ctx, prompt, maxLength)
}

func (s *stubGenerator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func echoStub() *stubGenerator {
	return &stubGenerator{fn: func(_ context.Context, prompt string, _ int) ([]entity.GeneratedSequence, error) {
		return []entity.GeneratedSequence{{GeneratedText: prompt + " END"}}, nil
	}}
}

func failingStub(msg string) *stubGenerator {
	return &stubGenerator{fn: func(context.Context, string, int) ([]entity.GeneratedSequence, error) {
		return nil, errors.New(msg)
	}}
}

func newTestService(gen *stubGenerator, opts GenerationOptions) *GenerationService {
	return NewGenerationService(gen, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func intPtr(n int) *int { return &n }

func TestGenerateEchoScenario(t *testing.T) {
	gen := echoStub()
	svc := newTestService(gen, GenerationOptions{})

	resp, err := svc.Generate(context.Background(), entity.GenerationRequest{
		Prompt:    "Once upon a time",
		MaxLength: intPtr(50),
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Prompt != "Once upon a time" || resp.GeneratedText != "Once upon a time END" {
		t.Errorf("unexpected response %+v", resp)
	}
	if gen.callCount() != 1 {
		t.Fatalf("expected exactly one generator call, got %d", gen.callCount())
	}
	if gen.calls[0].numReturnSequences != 1 {
		t.Errorf("expected one requested sequence, got %d", gen.calls[0].numReturnSequences)
	}
}

func TestGeneratePreservesPromptBytes(t *testing.T) {
	prompts := []string{"Hello", "  leading and trailing  ", "multi\nline\tprompt", "日本語のプロンプト", "emoji 🚀"}
	gen := &stubGenerator{fn: func(context.Context, string, int) ([]entity.GeneratedSequence, error) {
		return []entity.GeneratedSequence{{GeneratedText: "unrelated"}}, nil
	}}
	svc := newTestService(gen, GenerationOptions{})

	for _, p := range prompts {
		resp, err := svc.Generate(context.Background(), entity.GenerationRequest{Prompt: p, MaxLength: intPtr(10)})
		if err != nil {
			t.Fatalf("prompt %q: %v", p, err)
		}
		if resp.Prompt != p {
			t.Errorf("prompt altered: got %q, want %q", resp.Prompt, p)
		}
	}
}

func TestGenerateDefaultMaxLength(t *testing.T) {
	gen := echoStub()
	svc := newTestService(gen, GenerationOptions{MaxAllowedLength: 1024})

	if _, err := svc.Generate(context.Background(), entity.GenerationRequest{Prompt: "Hello"}); err != nil {
		t.Fatal(err)
	}
	if got := gen.calls[0].maxLength; got != entity.DefaultMaxLength {
		t.Errorf("expected default max_length %d, got %d", entity.DefaultMaxLength, got)
	}
}

func TestGenerateClampsMaxLength(t *testing.T) {
	gen := echoStub()
	svc := newTestService(gen, GenerationOptions{MaxAllowedLength: 256})

	if _, err := svc.Generate(context.Background(), entity.GenerationRequest{Prompt: "Hello", MaxLength: intPtr(100000)}); err != nil {
		t.Fatal(err)
	}
	if got := gen.calls[0].maxLength; got != 256 {
		t.Errorf("expected clamped max_length 256, got %d", got)
	}
}

func TestGenerateInvalidArgumentSkipsGenerator(t *testing.T) {
	gen := echoStub()
	svc := newTestService(gen, GenerationOptions{})

	for _, req := range []entity.GenerationRequest{
		{},
		{Prompt: ""},
		{Prompt: "   "},
		{Prompt: "Hello", MaxLength: intPtr(0)},
		{Prompt: "Hello", MaxLength: intPtr(-1)},
	} {
		_, err := svc.Generate(context.Background(), req)
		if !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("request %+v: expected ErrInvalidArgument, got %v", req, err)
		}
	}
	if gen.callCount() != 0 {
		t.Errorf("generator must not be called, got %d calls", gen.callCount())
	}
}

func TestGenerateInferenceFailure(t *testing.T) {
	gen := failingStub("CUDA out of memory")
	svc := newTestService(gen, GenerationOptions{})

	before := svc.Health()
	_, err := svc.Generate(context.Background(), entity.GenerationRequest{Prompt: "Hello"})

	var infErr *InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected *InferenceError, got %T %v", err, err)
	}
	if infErr.Error() != "CUDA out of memory" {
		t.Errorf("expected underlying message, got %q", infErr.Error())
	}
	if infErr.Backend != "stub" {
		t.Errorf("expected backend stub, got %q", infErr.Backend)
	}
	if gen.callCount() != 1 {
		t.Errorf("failures must not be retried, got %d calls", gen.callCount())
	}

	after := svc.Health()
	if before != after || after.Status != entity.StatusHealthy {
		t.Errorf("health changed after failure: %+v -> %+v", before, after)
	}
}

func TestGenerateRecoversPanic(t *testing.T) {
	gen := &stubGenerator{fn: func(context.Context, string, int) ([]entity.GeneratedSequence, error) {
		panic("tokenizer exploded")
	}}
	svc := newTestService(gen, GenerationOptions{})

	_, err := svc.Generate(context.Background(), entity.GenerationRequest{Prompt: "Hello"})
	var infErr *InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected *InferenceError, got %v", err)
	}

	// The slot must have been released.
	gen.fn = echoStub().fn
	if _, err := svc.Generate(context.Background(), entity.GenerationRequest{Prompt: "Hello"}); err != nil {
		t.Errorf("service unusable after panic: %v", err)
	}
}

func TestGenerateEmptyResult(t *testing.T) {
	gen := &stubGenerator{fn: func(context.Context, string, int) ([]entity.GeneratedSequence, error) {
		return nil, nil
	}}
	svc := newTestService(gen, GenerationOptions{})

	_, err := svc.Generate(context.Background(), entity.GenerationRequest{Prompt: "Hello"})
	var infErr *InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected *InferenceError, got %v", err)
	}
}

func TestGenerateTimeout(t *testing.T) {
	gen := &stubGenerator{fn: func(ctx context.Context, _ string, _ int) ([]entity.GeneratedSequence, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	svc := newTestService(gen, GenerationOptions{Timeout: 20 * time.Millisecond})

	_, err := svc.Generate(context.Background(), entity.GenerationRequest{Prompt: "Hello"})
	var infErr *InferenceError
	if !errors.As(err, &infErr) {
		t.Fatalf("expected *InferenceError, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestGenerateBoundsConcurrency(t *testing.T) {
	const limit = 2

	var (
		current atomic.Int32
		peak    atomic.Int32
		release = make(chan struct{})
	)
	gen := &stubGenerator{fn: func(_ context.Context, prompt string, _ int) ([]entity.GeneratedSequence, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		return []entity.GeneratedSequence{{GeneratedText: prompt}}, nil
	}}
	svc := newTestService(gen, GenerationOptions{MaxConcurrent: limit})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Generate(context.Background(), entity.GenerationRequest{Prompt: "Hello"}); err != nil {
				t.Errorf("generate: %v", err)
			}
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for current.Load() < limit && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if got := peak.Load(); got != limit {
		t.Errorf("expected peak concurrency %d, got %d", limit, got)
	}
	if gen.callCount() != 6 {
		t.Errorf("expected 6 calls, got %d", gen.callCount())
	}
}

func TestGenerateUnavailableWhenWaitAbandoned(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	gen := &stubGenerator{fn: func(_ context.Context, prompt string, _ int) ([]entity.GeneratedSequence, error) {
		close(started)
		<-release
		return []entity.GeneratedSequence{{GeneratedText: prompt}}, nil
	}}
	svc := newTestService(gen, GenerationOptions{MaxConcurrent: 1})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(context.Background(), entity.GenerationRequest{Prompt: "first"})
		done <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Generate(ctx, entity.GenerationRequest{Prompt: "second"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("first request failed: %v", err)
	}
	if gen.callCount() != 1 {
		t.Errorf("abandoned request must not reach the generator, got %d calls", gen.callCount())
	}
}

func TestPreview(t *testing.T) {
	if got := preview("short", 50); got != "short" {
		t.Errorf("unexpected preview %q", got)
	}
	if got := preview("ééééé", 3); got != "ééé..." {
		t.Errorf("unexpected preview %q", got)
	}
}
