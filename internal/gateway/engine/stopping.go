package engine

import (
	"github.com/inferd-ai/inferd/internal/gateway/tokenizer"
)

// stopCriterion detects stop sequences in the generated token stream. It
// works on token IDs so generation can halt before the text-level splicer
// sees the offending tokens decoded.
type stopCriterion struct {
	eos int
	// sequences holds each stop string encoded to tokens; stops that
	// encode to nothing were dropped upstream.
	sequences [][]int
}

func newStopCriterion(codec tokenizer.Codec, stops []string) *stopCriterion {
	c := &stopCriterion{eos: codec.EOSToken()}
	for _, stop := range stops {
		if tokens := codec.Encode(stop); len(tokens) > 0 {
			c.sequences = append(c.sequences, tokens)
		}
	}
	return c
}

// hit reports whether generation should stop given the tokens generated so
// far. Single-token stops match anywhere; longer stops match as a sliding
// window over the generated tail.
func (c *stopCriterion) hit(generated []int) bool {
	if len(generated) == 0 {
		return false
	}
	if generated[len(generated)-1] == c.eos {
		return true
	}

	for _, seq := range c.sequences {
		if len(seq) == 1 {
			for _, tok := range generated {
				if tok == seq[0] {
					return true
				}
			}
			continue
		}

		if len(seq) > len(generated) {
			continue
		}
		for start := len(generated) - len(seq); start >= 0; start-- {
			if tokensEqual(generated[start:start+len(seq)], seq) {
				return true
			}
		}
	}
	return false
}

func tokensEqual(a, b []int) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
