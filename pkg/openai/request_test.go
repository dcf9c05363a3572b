package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringOrSlice(t *testing.T) {
	t.Run("accepts a bare string", func(t *testing.T) {
		var s StringOrSlice
		require.NoError(t, json.Unmarshal([]byte(`"stop-here"`), &s))
		assert.Equal(t, StringOrSlice{"stop-here"}, s)
	})

	t.Run("accepts an array", func(t *testing.T) {
		var s StringOrSlice
		require.NoError(t, json.Unmarshal([]byte(`["a", "b"]`), &s))
		assert.Equal(t, StringOrSlice{"a", "b"}, s)
	})

	t.Run("rejects other shapes", func(t *testing.T) {
		var s StringOrSlice
		assert.Error(t, json.Unmarshal([]byte(`42`), &s))
	})
}

func TestChatCompletionRequestSampling(t *testing.T) {
	base := func() *ChatCompletionRequest {
		return &ChatCompletionRequest{
			Model:    "qwen-7b-support",
			Messages: []Message{{Role: "user", Content: "hi"}},
		}
	}

	t.Run("applies defaults", func(t *testing.T) {
		p, err := base().Sampling()
		require.NoError(t, err)
		assert.Equal(t, DefaultTemperature, p.Temperature)
		assert.Equal(t, DefaultMaxTokens, p.MaxTokens)
		assert.Equal(t, DefaultTopP, p.TopP)
		assert.Empty(t, p.Stop)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		req := base()
		temp, mt, topP := 0.2, 64, 0.9
		req.Temperature, req.MaxTokens, req.TopP = &temp, &mt, &topP
		req.Stop = StringOrSlice{"\n\n"}

		p, err := req.Sampling()
		require.NoError(t, err)
		assert.Equal(t, 0.2, p.Temperature)
		assert.Equal(t, 64, p.MaxTokens)
		assert.Equal(t, 0.9, p.TopP)
		assert.Equal(t, []string{"\n\n"}, p.Stop)
	})

	t.Run("rejects out-of-range parameters", func(t *testing.T) {
		req := base()
		temp := 2.5
		req.Temperature = &temp
		_, err := req.Sampling()
		assert.Error(t, err)

		req = base()
		mt := 0
		req.MaxTokens = &mt
		_, err = req.Sampling()
		assert.Error(t, err)

		req = base()
		topP := 1.5
		req.TopP = &topP
		_, err = req.Sampling()
		assert.Error(t, err)
	})

	t.Run("requires model and messages", func(t *testing.T) {
		req := base()
		req.Model = ""
		_, err := req.Sampling()
		assert.Error(t, err)

		req = base()
		req.Messages = nil
		_, err = req.Sampling()
		assert.Error(t, err)
	})
}

func TestCompletionRequestSampling(t *testing.T) {
	req := &CompletionRequest{Model: "gemma-2b-intent"}
	_, err := req.Sampling()
	assert.Error(t, err, "missing prompt should be rejected")

	req.Prompt = StringOrSlice{"Once upon a time"}
	p, err := req.Sampling()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxTokens, p.MaxTokens)
}
