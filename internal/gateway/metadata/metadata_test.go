package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyRecordExpired(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	t.Run("no expiry never expires", func(t *testing.T) {
		r := &KeyRecord{}
		assert.False(t, r.Expired(now))
	})

	t.Run("future expiry", func(t *testing.T) {
		r := &KeyRecord{ExpiresAt: now.Add(time.Hour)}
		assert.False(t, r.Expired(now))
	})

	t.Run("past expiry", func(t *testing.T) {
		r := &KeyRecord{ExpiresAt: now.Add(-time.Minute)}
		assert.True(t, r.Expired(now))
	})
}

func TestStringField(t *testing.T) {
	data := map[string]interface{}{
		"versionLabel": "v3",
		"count":        2,
	}

	label, err := stringField(data, "versionLabel")
	assert.NoError(t, err)
	assert.Equal(t, "v3", label)

	_, err = stringField(data, "missing")
	assert.Error(t, err)

	_, err = stringField(data, "count")
	assert.Error(t, err)
}
