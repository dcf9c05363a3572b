// Package modelver resolves logical model names to their active version
// labels, caching results so the metadata store is consulted at most once per
// TTL window per model.
package modelver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/inferd-ai/inferd/internal/gateway/metadata"
	"github.com/inferd-ai/inferd/pkg/logging"
)

// DefaultTTL is the version cache time-to-live.
const DefaultTTL = 15 * time.Minute

type cacheEntry struct {
	label    string
	cachedAt time.Time
}

// Resolver maps custom model names to active version labels. Base model
// identifiers (containing a namespace separator) are never versioned and
// resolve to the empty label.
type Resolver struct {
	store  metadata.VersionStore
	logger logging.Interface
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

// NewResolver builds a resolver over the given version store. A non-positive
// ttl falls back to DefaultTTL.
func NewResolver(store metadata.VersionStore, ttl time.Duration, logger logging.Interface) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger.WithField("ttl", ttl.String()).Info("Initialized version resolver")
	return &Resolver{
		store:  store,
		logger: logger,
		ttl:    ttl,
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

// IsBaseModel reports whether name identifies an unversioned base model.
func IsBaseModel(name string) bool {
	return strings.Contains(name, "/")
}

// Resolve returns the active version label for name, or the empty string for
// base identifiers. Cache hits within the TTL never touch the store; failed
// lookups never populate the cache.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	if IsBaseModel(name) {
		return "", nil
	}

	r.mu.Lock()
	entry, ok := r.cache[name]
	r.mu.Unlock()

	if ok {
		age := r.now().Sub(entry.cachedAt)
		if age < r.ttl {
			r.logger.WithField("model", name).
				WithField("label", entry.label).
				Debugf("Version cache hit (age %.1fs)", age.Seconds())
			return entry.label, nil
		}
		r.logger.WithField("model", name).Debugf("Version cache expired (age %.1fs)", age.Seconds())
	}

	label, err := r.store.ActiveVersionLabel(ctx, name)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[name] = cacheEntry{label: label, cachedAt: r.now()}
	r.mu.Unlock()

	r.logger.WithField("model", name).WithField("label", label).Info("Cached active version")
	return label, nil
}

// Invalidate drops the cached entry for name. It returns whether an entry
// was present.
func (r *Resolver) Invalidate(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.cache[name]; !ok {
		return false
	}
	delete(r.cache, name)
	r.logger.WithField("model", name).Info("Invalidated version cache entry")
	return true
}

// ClearAll drops every cached entry and returns how many were dropped.
func (r *Resolver) ClearAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := len(r.cache)
	r.cache = make(map[string]cacheEntry)
	r.logger.Infof("Cleared %d cached version entries", count)
	return count
}

// EntryStats describes one cached version entry.
type EntryStats struct {
	Name       string  `json:"name"`
	Version    string  `json:"version"`
	AgeSeconds float64 `json:"age_seconds"`
}

// Stats reports the cache contents for the admin diagnostic endpoint.
type Stats struct {
	CachedModels int          `json:"cached_models"`
	CacheTTL     float64      `json:"cache_ttl"`
	Models       []EntryStats `json:"models"`
}

// Stats returns a snapshot of the cache state.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	stats := Stats{
		CachedModels: len(r.cache),
		CacheTTL:     r.ttl.Seconds(),
		Models:       make([]EntryStats, 0, len(r.cache)),
	}
	for name, entry := range r.cache {
		stats.Models = append(stats.Models, EntryStats{
			Name:       name,
			Version:    entry.label,
			AgeSeconds: now.Sub(entry.cachedAt).Seconds(),
		})
	}
	return stats
}
