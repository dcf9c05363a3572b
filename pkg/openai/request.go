// Package openai defines the OpenAI-compatible wire types served by the
// gateway. Field names and defaults follow the public Chat Completions and
// Completions schemas so off-the-shelf SDKs work unmodified.
package openai

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

const (
	// DefaultMaxTokens is the completion budget applied when the request
	// omits max_tokens.
	DefaultMaxTokens = 512
	// DefaultTemperature is applied when the request omits temperature.
	DefaultTemperature = 0.7
	// DefaultTopP is applied when the request omits top_p.
	DefaultTopP = 1.0
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StringOrSlice accepts either a JSON string or a JSON array of strings and
// normalizes both to a slice.
type StringOrSlice []string

func (s *StringOrSlice) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = []string{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.Wrap(err, "expected a string or an array of strings")
	}
	*s = many
	return nil
}

func (s StringOrSlice) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []Message     `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        StringOrSlice `json:"stop,omitempty"`
}

// CompletionRequest is the body of POST /v1/completions.
type CompletionRequest struct {
	Model       string        `json:"model"`
	Prompt      StringOrSlice `json:"prompt"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        StringOrSlice `json:"stop,omitempty"`
}

// SamplingParams carries the normalized generation parameters shared by both
// request shapes.
type SamplingParams struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	Stop        []string
}

func normalizeSampling(temperature *float64, maxTokens *int, topP *float64, stop []string) (SamplingParams, error) {
	p := SamplingParams{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		TopP:        DefaultTopP,
		Stop:        stop,
	}

	if temperature != nil {
		if *temperature < 0 || *temperature > 2 {
			return p, fmt.Errorf("temperature must be between 0 and 2, got %g", *temperature)
		}
		p.Temperature = *temperature
	}
	if maxTokens != nil {
		if *maxTokens < 1 {
			return p, fmt.Errorf("max_tokens must be at least 1, got %d", *maxTokens)
		}
		p.MaxTokens = *maxTokens
	}
	if topP != nil {
		if *topP < 0 || *topP > 1 {
			return p, fmt.Errorf("top_p must be between 0 and 1, got %g", *topP)
		}
		p.TopP = *topP
	}

	return p, nil
}

// Sampling validates the request's generation parameters and applies the
// documented defaults for any it omits.
func (r *ChatCompletionRequest) Sampling() (SamplingParams, error) {
	if r.Model == "" {
		return SamplingParams{}, errors.New("model is required")
	}
	if len(r.Messages) == 0 {
		return SamplingParams{}, errors.New("messages must not be empty")
	}
	return normalizeSampling(r.Temperature, r.MaxTokens, r.TopP, r.Stop)
}

// Sampling validates the request's generation parameters and applies the
// documented defaults for any it omits.
func (r *CompletionRequest) Sampling() (SamplingParams, error) {
	if r.Model == "" {
		return SamplingParams{}, errors.New("model is required")
	}
	if len(r.Prompt) == 0 {
		return SamplingParams{}, errors.New("prompt is required")
	}
	return normalizeSampling(r.Temperature, r.MaxTokens, r.TopP, r.Stop)
}
