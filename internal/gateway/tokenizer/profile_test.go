package tokenizer

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferd-ai/inferd/pkg/openai"
)

// fakeCodec maps each rune to its code point; strings in reject encode to
// nothing.
type fakeCodec struct {
	reject map[string]bool
}

func (f *fakeCodec) Encode(text string) []int {
	if f.reject[text] {
		return nil
	}
	tokens := make([]int, 0, len(text))
	for _, r := range text {
		tokens = append(tokens, int(r))
	}
	return tokens
}

func (f *fakeCodec) Decode(tokens []int) string {
	runes := make([]rune, len(tokens))
	for i, tok := range tokens {
		runes[i] = rune(tok)
	}
	return string(runes)
}

func (f *fakeCodec) EOSToken() int { return 0 }

func TestDefaultStops(t *testing.T) {
	testCases := []struct {
		name     string
		modelID  string
		md       Metadata
		expected []string
	}{
		{
			name:     "special tokens win",
			modelID:  "any-model",
			md:       Metadata{AdditionalSpecialTokens: []string{"<|im_end|>", "<pad>", "</s>"}},
			expected: []string{"<|im_end|>", "</s>"},
		},
		{
			name:     "qwen by name",
			modelID:  "Qwen2.5-7B-support",
			expected: []string{"<|im_end|>"},
		},
		{
			name:     "chatml template",
			modelID:  "custom-model",
			md:       Metadata{ChatTemplate: "{% if im_start %}...{% endif %}"},
			expected: []string{"<|im_end|>"},
		},
		{
			name:     "gemma by name",
			modelID:  "gemma-2-2b-intent",
			expected: []string{"<start_of_turn>", "<end_of_turn>"},
		},
		{
			name:     "llama by name",
			modelID:  "Llama-3.2-1B",
			expected: []string{"[/INST]"},
		},
		{
			name:     "inst template",
			modelID:  "custom-model",
			md:       Metadata{ChatTemplate: "[INST] {{ prompt }} [/INST]"},
			expected: []string{"[/INST]"},
		},
		{
			name:     "user assistant markers",
			modelID:  "custom-model",
			md:       Metadata{ChatTemplate: "<|user|>{{ q }}<|assistant|>"},
			expected: []string{"<|user|>", "<|assistant|>"},
		},
		{
			name:     "generic fallback",
			modelID:  "custom-model",
			expected: []string{"User:", "\nUser:", "\n\nUser:", "user:", "\nuser:"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, defaultStops(tc.modelID, tc.md))
		})
	}
}

func TestValidateStops(t *testing.T) {
	t.Run("keeps encodable stops", func(t *testing.T) {
		codec := &fakeCodec{}
		assert.Equal(t, []string{"<|im_end|>"}, validateStops(codec, []string{"<|im_end|>"}))
	})

	t.Run("drops unencodable stops", func(t *testing.T) {
		codec := &fakeCodec{reject: map[string]bool{"<bad>": true}}
		assert.Equal(t, []string{"ok"}, validateStops(codec, []string{"<bad>", "ok"}))
	})

	t.Run("falls back to newlines when nothing survives", func(t *testing.T) {
		codec := &fakeCodec{reject: map[string]bool{"<bad>": true}}
		assert.Equal(t, []string{"\n\n", "\n"}, validateStops(codec, []string{"<bad>"}))
	})
}

func TestNewProfile(t *testing.T) {
	codec := &fakeCodec{}
	p := NewProfile(codec, "qwen-7b-support", Metadata{})

	assert.Equal(t, codec.EOSToken(), p.PadToken)
	assert.Equal(t, codec.EOSToken(), p.EOSToken)
	assert.Equal(t, []string{"<|im_end|>"}, p.StopSequences)
}

func TestBuildPrompt(t *testing.T) {
	p := Profile{}
	messages := []openai.Message{
		{Role: "system", Content: "Be terse."},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "user", Content: "bye"},
	}

	got := p.BuildPrompt(messages, true)
	assert.Equal(t, "Be terse.\n\nUser: hi\nAssistant: hello\nUser: bye\nAssistant:", got)

	noCue := p.BuildPrompt(messages[:2], false)
	assert.Equal(t, "Be terse.\n\nUser: hi\n", noCue)
}

func TestLoadMetadata(t *testing.T) {
	fs := afero.NewMemMapFs()

	t.Run("missing file is empty metadata", func(t *testing.T) {
		md, err := LoadMetadata(fs, "/model")
		require.NoError(t, err)
		assert.Empty(t, md.ChatTemplate)
	})

	t.Run("reads template and special tokens", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, "/model/tokenizer_config.json",
			[]byte(`{"chat_template":"[INST]","additional_special_tokens":["<|im_end|>"]}`), 0o644))

		md, err := LoadMetadata(fs, "/model")
		require.NoError(t, err)
		assert.Equal(t, "[INST]", md.ChatTemplate)
		assert.Equal(t, []string{"<|im_end|>"}, md.AdditionalSpecialTokens)
	})

	t.Run("malformed file errors", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, "/bad/tokenizer_config.json", []byte("{"), 0o644))
		_, err := LoadMetadata(fs, "/bad")
		assert.Error(t, err)
	})
}
