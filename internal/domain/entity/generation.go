package entity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
)

// DefaultMaxLength is used when a request does not carry max_length.
const DefaultMaxLength = 50

var (
	ErrEmptyPrompt      = errors.New("no prompt provided")
	ErrInvalidMaxLength = errors.New("max_length must be a positive integer")
)

type GenerationRequest struct {
	Prompt    string `json:"prompt"`
	MaxLength *int   `json:"max_length,omitempty"`
}

type GenerationResponse struct {
	Prompt        string `json:"prompt"`
	GeneratedText string `json:"generated_text"`
}

// GeneratedSequence is a single record returned by a text generator.
type GeneratedSequence struct {
	GeneratedText string `json:"generated_text"`
}

// Validate checks the request shape. The prompt is never modified.
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if r.MaxLength != nil && *r.MaxLength <= 0 {
		return ErrInvalidMaxLength
	}
	return nil
}

// EffectiveMaxLength applies the default and clamps to ceiling when ceiling > 0.
func (r GenerationRequest) EffectiveMaxLength(ceiling int) int {
	n := DefaultMaxLength
	if r.MaxLength != nil {
		n = *r.MaxLength
	}
	if ceiling > 0 && n > ceiling {
		n = ceiling
	}
	return n
}

// DecodeGenerationRequest parses a request body strictly: keys must match
// prompt and max_length exactly, and mistyped values and trailing data are
// rejected.
func DecodeGenerationRequest(r io.Reader) (GenerationRequest, error) {
	var (
		req    GenerationRequest
		fields map[string]json.RawMessage
	)

	dec := json.NewDecoder(r)
	if err := dec.Decode(&fields); err != nil {
		if errors.Is(err, io.EOF) {
			return req, errors.New("request body is empty")
		}
		return req, fmt.Errorf("bad request body: %w", err)
	}
	if dec.More() {
		return req, errors.New("bad request body: unexpected data after JSON object")
	}

	// encoding/json folds case when matching struct fields, so keys are
	// checked here before any typed decoding.
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		raw := fields[key]
		var err error
		switch key {
		case "prompt":
			err = json.Unmarshal(raw, &req.Prompt)
		case "max_length":
			err = json.Unmarshal(raw, &req.MaxLength)
		default:
			return GenerationRequest{}, fmt.Errorf("bad request body: unknown field %q", key)
		}
		if err != nil {
			return GenerationRequest{}, fmt.Errorf("bad request body: field %s: %w", key, err)
		}
	}
	return req, nil
}

// DecodeGenerationRequestBytes is DecodeGenerationRequest for an in-memory payload.
func DecodeGenerationRequestBytes(data []byte) (GenerationRequest, error) {
	return DecodeGenerationRequest(bytes.NewReader(data))
}
