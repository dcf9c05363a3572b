package tokenizer

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/inferd-ai/inferd/pkg/openai"
)

// Metadata is the slice of tokenizer_config.json the profile derives its
// behavior from. All fields are optional.
type Metadata struct {
	ChatTemplate            string   `json:"chat_template"`
	AdditionalSpecialTokens []string `json:"additional_special_tokens"`
	EOSToken                string   `json:"eos_token"`
	PadToken                string   `json:"pad_token"`
}

// LoadMetadata reads tokenizer_config.json from an artifact directory. A
// missing file yields an empty Metadata.
func LoadMetadata(fs afero.Fs, dir string) (Metadata, error) {
	md := Metadata{}

	raw, err := afero.ReadFile(fs, filepath.Join(dir, "tokenizer_config.json"))
	if err != nil {
		return md, nil
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return Metadata{}, err
	}
	return md, nil
}

// Profile carries the per-model tokenizer configuration the engine generates
// with. It lives alongside the loaded model handle; the upstream tokenizer
// files are never modified.
type Profile struct {
	// PadToken defaults to the EOS token when the model defines none.
	PadToken int
	EOSToken int
	// StopSequences are the default stops applied when a request supplies
	// none. Every entry encodes to at least one token.
	StopSequences []string
	// ChatTemplate is the original template string, kept for diagnostics.
	// Prompt building always uses the fallback rendering.
	ChatTemplate string
}

// NewProfile derives a profile for a model from its tokenizer metadata.
func NewProfile(codec Codec, modelID string, md Metadata) Profile {
	stops := defaultStops(modelID, md)
	stops = validateStops(codec, stops)

	return Profile{
		PadToken:      codec.EOSToken(),
		EOSToken:      codec.EOSToken(),
		StopSequences: stops,
		ChatTemplate:  md.ChatTemplate,
	}
}

// defaultStops picks stop sequences for a model. First match wins.
func defaultStops(modelID string, md Metadata) []string {
	// Special tokens that mark end of turn take priority.
	var special []string
	for _, token := range md.AdditionalSpecialTokens {
		if strings.Contains(token, "im_end") || strings.Contains(token, "end_of_turn") || token == "</s>" {
			special = append(special, token)
		}
	}
	if len(special) > 0 {
		return special
	}

	template := md.ChatTemplate
	lowerID := strings.ToLower(modelID)

	switch {
	case strings.Contains(template, "im_start") || strings.Contains(lowerID, "qwen"):
		return []string{"<|im_end|>"}
	case strings.Contains(lowerID, "gemma"):
		return []string{"<start_of_turn>", "<end_of_turn>"}
	case strings.Contains(template, "[INST]") || strings.Contains(lowerID, "llama"):
		return []string{"[/INST]"}
	case strings.Contains(template, "<|user|>") && strings.Contains(template, "<|assistant|>"):
		return []string{"<|user|>", "<|assistant|>"}
	}

	// Generic markers that catch the start of a hallucinated next turn.
	return []string{"User:", "\nUser:", "\n\nUser:", "user:", "\nuser:"}
}

// validateStops drops stop strings the codec cannot encode. An empty result
// falls back to plain newline boundaries.
func validateStops(codec Codec, stops []string) []string {
	valid := make([]string, 0, len(stops))
	for _, stop := range stops {
		if len(codec.Encode(stop)) > 0 {
			valid = append(valid, stop)
		}
	}
	if len(valid) == 0 {
		return []string{"\n\n", "\n"}
	}
	return valid
}

// BuildPrompt renders messages with the fallback chat template: one
// "role: content" line per message, with an assistant cue appended when
// addGenerationPrompt is set.
func (p Profile) BuildPrompt(messages []openai.Message, addGenerationPrompt bool) string {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			b.WriteString(msg.Content)
			b.WriteString("\n\n")
		case "user":
			b.WriteString("User: ")
			b.WriteString(msg.Content)
			b.WriteString("\n")
		case "assistant":
			b.WriteString("Assistant: ")
			b.WriteString(msg.Content)
			b.WriteString("\n")
		default:
			b.WriteString(msg.Role)
			b.WriteString(": ")
			b.WriteString(msg.Content)
			b.WriteString("\n")
		}
	}
	if addGenerationPrompt {
		b.WriteString("Assistant:")
	}
	return b.String()
}
