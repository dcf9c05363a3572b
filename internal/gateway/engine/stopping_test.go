package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStopCriterionEOS(t *testing.T) {
	c := newStopCriterion(runeCodec{}, nil)

	assert.False(t, c.hit(nil))
	assert.False(t, c.hit([]int{'a', 'b'}))
	assert.True(t, c.hit([]int{'a', runeCodec{}.EOSToken()}))
}

func TestStopCriterionSingleTokenAnywhere(t *testing.T) {
	c := newStopCriterion(runeCodec{}, []string{"!"})

	assert.True(t, c.hit([]int{'a', '!', 'b'}))
	assert.False(t, c.hit([]int{'a', 'b'}))
}

func TestStopCriterionMultiTokenWindow(t *testing.T) {
	c := newStopCriterion(runeCodec{}, []string{"User:"})

	assert.False(t, c.hit(encodeRunes("Use")))
	assert.False(t, c.hit(encodeRunes("a user")))
	assert.True(t, c.hit(encodeRunes("hi User: more")))
	assert.True(t, c.hit(encodeRunes("hi User:")))
}

func TestStopCriterionDropsUnencodableStops(t *testing.T) {
	c := newStopCriterion(runeCodec{reject: map[string]bool{"<bad>": true}}, []string{"<bad>", "ok"})
	assert.Len(t, c.sequences, 1)
}

func encodeRunes(text string) []int {
	return runeCodec{}.Encode(text)
}
