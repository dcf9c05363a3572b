package modelver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferd-ai/inferd/internal/gateway/apierror"
	"github.com/inferd-ai/inferd/pkg/logging"
)

type fakeVersionStore struct {
	mu      sync.Mutex
	labels  map[string]string
	err     error
	queries int
}

func (f *fakeVersionStore) ActiveVersionLabel(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return "", f.err
	}
	label, ok := f.labels[name]
	if !ok {
		return "", fmt.Errorf("%w: model not found", apierror.ErrVersionUnresolved)
	}
	return label, nil
}

func (f *fakeVersionStore) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

func newTestResolver(store *fakeVersionStore, ttl time.Duration) *Resolver {
	return NewResolver(store, ttl, logging.Discard())
}

func TestResolveBaseModel(t *testing.T) {
	store := &fakeVersionStore{}
	r := newTestResolver(store, time.Minute)

	label, err := r.Resolve(context.Background(), "meta-llama/Llama-3.2-1B")
	require.NoError(t, err)
	assert.Empty(t, label)
	assert.Zero(t, store.queryCount(), "base models never hit the store")
}

func TestResolveCachesWithinTTL(t *testing.T) {
	store := &fakeVersionStore{labels: map[string]string{"assistant-v1": "v3"}}
	r := newTestResolver(store, time.Minute)

	for i := 0; i < 5; i++ {
		label, err := r.Resolve(context.Background(), "assistant-v1")
		require.NoError(t, err)
		assert.Equal(t, "v3", label)
	}
	assert.Equal(t, 1, store.queryCount(), "at most one query per TTL window")
}

func TestResolveRefreshesAfterTTL(t *testing.T) {
	store := &fakeVersionStore{labels: map[string]string{"assistant-v1": "v3"}}
	r := newTestResolver(store, time.Minute)

	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return current }

	_, err := r.Resolve(context.Background(), "assistant-v1")
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	store.labels["assistant-v1"] = "v4"

	label, err := r.Resolve(context.Background(), "assistant-v1")
	require.NoError(t, err)
	assert.Equal(t, "v4", label)
	assert.Equal(t, 2, store.queryCount())
}

func TestResolveFailureDoesNotPopulateCache(t *testing.T) {
	store := &fakeVersionStore{}
	r := newTestResolver(store, time.Minute)

	_, err := r.Resolve(context.Background(), "missing-model")
	require.Error(t, err)
	assert.ErrorIs(t, err, apierror.ErrVersionUnresolved)

	_, err = r.Resolve(context.Background(), "missing-model")
	require.Error(t, err)
	assert.Equal(t, 2, store.queryCount(), "failures must not be cached")
}

func TestInvalidateForcesFreshQuery(t *testing.T) {
	store := &fakeVersionStore{labels: map[string]string{"assistant-v1": "v3"}}
	r := newTestResolver(store, time.Hour)

	_, err := r.Resolve(context.Background(), "assistant-v1")
	require.NoError(t, err)

	assert.True(t, r.Invalidate("assistant-v1"))
	assert.False(t, r.Invalidate("assistant-v1"), "second invalidate finds nothing")

	store.labels["assistant-v1"] = "v4"
	label, err := r.Resolve(context.Background(), "assistant-v1")
	require.NoError(t, err)
	assert.Equal(t, "v4", label)
	assert.Equal(t, 2, store.queryCount())
}

func TestClearAll(t *testing.T) {
	store := &fakeVersionStore{labels: map[string]string{"a": "v1", "b": "v2"}}
	r := newTestResolver(store, time.Hour)

	_, _ = r.Resolve(context.Background(), "a")
	_, _ = r.Resolve(context.Background(), "b")

	assert.Equal(t, 2, r.ClearAll())
	assert.Equal(t, 0, r.ClearAll())

	// cold-start behavior after clear
	_, err := r.Resolve(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 3, store.queryCount())
}

func TestStats(t *testing.T) {
	store := &fakeVersionStore{labels: map[string]string{"assistant-v1": "v3"}}
	r := newTestResolver(store, time.Minute)

	_, err := r.Resolve(context.Background(), "assistant-v1")
	require.NoError(t, err)

	stats := r.Stats()
	assert.Equal(t, 1, stats.CachedModels)
	assert.Equal(t, 60.0, stats.CacheTTL)
	require.Len(t, stats.Models, 1)
	assert.Equal(t, "assistant-v1", stats.Models[0].Name)
	assert.Equal(t, "v3", stats.Models[0].Version)
}

func TestConcurrentResolve(t *testing.T) {
	store := &fakeVersionStore{labels: map[string]string{"assistant-v1": "v3"}}
	r := newTestResolver(store, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			label, err := r.Resolve(context.Background(), "assistant-v1")
			assert.NoError(t, err)
			assert.Equal(t, "v3", label)
		}()
	}
	wg.Wait()
}
