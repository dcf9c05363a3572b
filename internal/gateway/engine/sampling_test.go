package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrubLogits(t *testing.T) {
	t.Run("no-op when finite", func(t *testing.T) {
		logits := []float32{1.5, -2.0, 0}
		scrubLogits(logits)
		assert.Equal(t, []float32{1.5, -2.0, 0}, logits)
	})

	t.Run("replaces non-finite values", func(t *testing.T) {
		logits := []float32{float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1)), 2}
		scrubLogits(logits)
		assert.Equal(t, []float32{-logitCap, logitCap, -logitCap, 2}, logits)
	})
}

func TestApplyRepetitionPenalty(t *testing.T) {
	logits := []float32{2.0, -2.0, 1.0}
	applyRepetitionPenalty(logits, []int{0, 1, 99}, 2.0)

	assert.Equal(t, float32(1.0), logits[0])  // positive divided
	assert.Equal(t, float32(-4.0), logits[1]) // negative multiplied
	assert.Equal(t, float32(1.0), logits[2])  // unseen untouched
}

func TestSamplerGreedy(t *testing.T) {
	s := newSampler(0, 1.0, 1)
	assert.True(t, s.greedy())
	assert.Equal(t, float32(repetitionPenaltyGreedy), s.penalty())

	logits := []float32{0.1, 5.0, 0.3}
	assert.Equal(t, 1, s.next(logits, nil))
}

func TestSamplerGreedyPenalizesRepeats(t *testing.T) {
	s := newSampler(0, 1.0, 1)

	// Token 1 leads but has been seen; the penalty drops it below token 2.
	logits := []float32{0.1, 1.0, 0.95}
	assert.Equal(t, 2, s.next(logits, []int{1}))
}

func TestSamplerSampledStaysInTopMass(t *testing.T) {
	s := newSampler(0.7, 0.9, 42)
	assert.Equal(t, float32(repetitionPenaltySampled), s.penalty())

	// One dominant token: sampling must pick it every time.
	for i := 0; i < 50; i++ {
		logits := []float32{100, 0, 0, 0}
		assert.Equal(t, 0, s.next(logits, nil))
	}
}

func TestSamplerDeterministicPerSeed(t *testing.T) {
	logits := func() []float32 { return []float32{1, 2, 3, 4, 5, 6, 7, 8} }

	a := newSampler(1.0, 0.95, 7)
	b := newSampler(1.0, 0.95, 7)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.next(logits(), nil), b.next(logits(), nil))
	}
}
