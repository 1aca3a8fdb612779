package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"textgen/internal/domain/entity"
	"textgen/internal/domain/repository"
	"textgen/internal/infrastructure/metrics"
)

const backendTGI = "tgi"

// TGIGenerator talks to a Hugging Face text-generation-inference server.
type TGIGenerator struct {
	baseURL      string
	apiKey       string
	client       *http.Client
	logger       *slog.Logger
	pollInterval time.Duration
}

var (
	_ repository.TextGenerator = (*TGIGenerator)(nil)
	_ repository.Loader        = (*TGIGenerator)(nil)
)

func NewTGIGenerator(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *TGIGenerator {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &TGIGenerator{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
		pollInterval: 2 * time.Second,
	}
}

type tgiParameters struct {
	MaxNewTokens   int  `json:"max_new_tokens"`
	ReturnFullText bool `json:"return_full_text"`
}

type tgiRequest struct {
	Inputs     string        `json:"inputs"`
	Parameters tgiParameters `json:"parameters"`
}

type tgiResponse struct {
	GeneratedText string `json:"generated_text"`
}

type tgiError struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

func (g *TGIGenerator) Name() string {
	return backendTGI
}

// Load blocks until the server reports healthy or ctx expires.
func (g *TGIGenerator) Load(ctx context.Context) error {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		err := g.checkHealth(ctx)
		if err == nil {
			g.logger.Info("tgi backend ready", "base_url", g.baseURL, "attempts", attempt)
			return nil
		}
		g.logger.Info("waiting for tgi backend", "base_url", g.baseURL, "attempt", attempt, "err", err)

		select {
		case <-ctx.Done():
			metrics.IncError("llm", "load_timeout")
			return fmt.Errorf("tgi backend not ready: %w", errors.Join(ctx.Err(), err))
		case <-ticker.C:
		}
	}
}

func (g *TGIGenerator) checkHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	g.authorize(req)

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

// Generate calls /generate once per requested sequence; TGI returns a
// single sequence per call.
func (g *TGIGenerator) Generate(ctx context.Context, prompt string, maxLength, numReturnSequences int) ([]entity.GeneratedSequence, error) {
	if numReturnSequences <= 0 {
		numReturnSequences = 1
	}

	request := tgiRequest{
		Inputs: prompt,
		Parameters: tgiParameters{
			MaxNewTokens:   maxLength,
			ReturnFullText: true,
		},
	}

	seqs := make([]entity.GeneratedSequence, 0, numReturnSequences)
	for i := 0; i < numReturnSequences; i++ {
		metrics.IncLLMRequest(backendTGI)

		response, err := g.makeRequest(ctx, request)
		if err != nil {
			return nil, fmt.Errorf("failed to make tgi request: %w", err)
		}
		seqs = append(seqs, entity.GeneratedSequence{GeneratedText: response.GeneratedText})
	}

	return seqs, nil
}

func (g *TGIGenerator) makeRequest(ctx context.Context, request tgiRequest) (*tgiResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		metrics.IncError("llm", "marshal_request")
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		metrics.IncError("llm", "create_request")
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	g.authorize(req)

	resp, err := g.client.Do(req)
	if err != nil {
		metrics.IncError("llm", "http_do")
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			g.logger.Warn("close body failed", "err", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		metrics.IncError("llm", fmt.Sprintf("api_error_%d", resp.StatusCode))

		var apiErr tgiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("tgi api error: %d - %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("tgi api error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// /generate answers with an object, the legacy inference API with a
	// one-element array.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IncError("llm", "read_response")
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []tgiResponse
		if err := json.Unmarshal(trimmed, &list); err != nil {
			metrics.IncError("llm", "decode_response")
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		if len(list) == 0 {
			metrics.IncError("llm", "empty_response")
			return nil, errors.New("invalid response format: no sequences")
		}
		return &list[0], nil
	}

	var response tgiResponse
	if err := json.Unmarshal(trimmed, &response); err != nil {
		metrics.IncError("llm", "decode_response")
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &response, nil
}

func (g *TGIGenerator) authorize(req *http.Request) {
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
}
