package engine

import (
	"math"
	"math/rand"
	"sort"
)

const (
	// logitCap replaces non-finite logits so softmax stays defined.
	logitCap = 1e4
	// minTemperature is the floor applied to sampled generation; values
	// below it destabilize the distribution without improving determinism.
	minTemperature = 0.1
	// topK limits sampling to the K most likely tokens.
	topK = 40
	// repetitionPenaltySampled discourages repeated tokens under sampling.
	repetitionPenaltySampled = 1.15
	// repetitionPenaltyGreedy is the milder penalty used for greedy decode.
	repetitionPenaltyGreedy = 1.1
)

// scrubLogits replaces NaN and infinite logits with finite sentinels. The
// pass is a no-op when every logit is already finite.
func scrubLogits(logits []float32) {
	for i, v := range logits {
		f := float64(v)
		switch {
		case math.IsNaN(f):
			logits[i] = -logitCap
		case math.IsInf(f, 1):
			logits[i] = logitCap
		case math.IsInf(f, -1):
			logits[i] = -logitCap
		}
	}
}

// applyRepetitionPenalty divides positive logits and multiplies negative
// logits of already-seen tokens, pushing both toward lower probability.
func applyRepetitionPenalty(logits []float32, seen []int, penalty float32) {
	for _, tok := range seen {
		if tok < 0 || tok >= len(logits) {
			continue
		}
		if logits[tok] > 0 {
			logits[tok] /= penalty
		} else {
			logits[tok] *= penalty
		}
	}
}

// sampler turns logit vectors into token choices. A temperature of zero
// selects greedy argmax decode.
type sampler struct {
	temperature float64
	topP        float64
	rng         *rand.Rand
}

func newSampler(temperature, topP float64, seed int64) *sampler {
	return &sampler{
		temperature: temperature,
		topP:        topP,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (s *sampler) greedy() bool { return s.temperature == 0 }

func (s *sampler) penalty() float32 {
	if s.greedy() {
		return repetitionPenaltyGreedy
	}
	return repetitionPenaltySampled
}

// next picks the next token from logits. The slice is modified in place.
func (s *sampler) next(logits []float32, seen []int) int {
	scrubLogits(logits)
	applyRepetitionPenalty(logits, seen, s.penalty())

	if s.greedy() {
		return argmax(logits)
	}

	temp := math.Max(s.temperature, minTemperature)

	type candidate struct {
		token int
		logit float64
	}
	candidates := make([]candidate, len(logits))
	for i, v := range logits {
		candidates[i] = candidate{token: i, logit: float64(v) / temp}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].logit > candidates[j].logit
	})

	k := topK
	if k > len(candidates) {
		k = len(candidates)
	}
	candidates = candidates[:k]

	// Softmax over the top-K, renormalized after each filter.
	maxLogit := candidates[0].logit
	probs := make([]float64, len(candidates))
	var sum float64
	for i, c := range candidates {
		probs[i] = math.Exp(c.logit - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}

	// Nucleus filter keeps the smallest prefix with cumulative mass topP.
	if s.topP < 1 {
		var cumulative float64
		cut := len(probs)
		for i, p := range probs {
			cumulative += p
			if cumulative >= s.topP {
				cut = i + 1
				break
			}
		}
		probs = probs[:cut]
		candidates = candidates[:cut]

		var kept float64
		for _, p := range probs {
			kept += p
		}
		for i := range probs {
			probs[i] /= kept
		}
	}

	r := s.rng.Float64()
	var cumulative float64
	for i, p := range probs {
		cumulative += p
		if r < cumulative {
			return candidates[i].token
		}
	}
	return candidates[len(candidates)-1].token
}

func argmax(logits []float32) int {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return best
}
