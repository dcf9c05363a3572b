package engine

import (
	"context"
	"fmt"

	"github.com/inferd-ai/inferd/pkg/openai"
)

// generateSpec is everything the token loop needs for one generation.
type generateSpec struct {
	model  modelHandle
	prompt []int
	params openai.SamplingParams
	stops  []string
	seed   int64
}

// runGeneration is the token loop: forward pass, logit scrub, repetition
// penalty, sample, incremental decode, emit. It stops on EOS, a stop token
// sequence, the token budget, or context cancellation.
func (e *Engine) runGeneration(ctx context.Context, spec generateSpec, emit func(string) bool) (string, int, error) {
	codec := e.codec
	s := newSampler(spec.params.Temperature, spec.params.TopP, spec.seed)
	criterion := newStopCriterion(codec, spec.stops)

	tokens := make([]int, len(spec.prompt), len(spec.prompt)+spec.params.MaxTokens)
	copy(tokens, spec.prompt)

	var generated []int
	prevDecoded := ""
	finish := ""

	for len(generated) < spec.params.MaxTokens {
		if err := ctx.Err(); err != nil {
			return "", len(generated), err
		}

		logits, err := spec.model.Forward(ctx, tokens)
		if err != nil {
			return "", len(generated), fmt.Errorf("forward pass: %w", err)
		}

		tok := s.next(logits, generated)
		generated = append(generated, tok)
		tokens = append(tokens, tok)

		if tok == codec.EOSToken() {
			finish = openai.FinishReasonStop
			generated = generated[:len(generated)-1]
			break
		}

		decoded := codec.Decode(generated)
		if len(decoded) > len(prevDecoded) {
			if !emit(decoded[len(prevDecoded):]) {
				return "", len(generated), ctx.Err()
			}
			prevDecoded = decoded
		}

		if criterion.hit(generated) {
			finish = openai.FinishReasonStop
			break
		}
	}

	if finish == "" {
		finish = openai.FinishReasonLength
	}
	return finish, len(generated), nil
}
