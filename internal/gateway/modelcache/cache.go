// Package modelcache keeps a bounded resident set of models in device
// memory. Base models and fine-tuned adapters are cached in two tiers:
// adapters reference their base, and a base with live adapter references is
// never evicted.
package modelcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/inferd-ai/inferd/internal/gateway/apierror"
	"github.com/inferd-ai/inferd/internal/gateway/artifact"
	"github.com/inferd-ai/inferd/internal/gateway/metrics"
	"github.com/inferd-ai/inferd/internal/gateway/runtime"
	"github.com/inferd-ai/inferd/internal/gateway/tokenizer"
	"github.com/inferd-ai/inferd/pkg/logging"
)

// adapterFallbackGB is recorded for adapters whose on-disk size is unknown.
const adapterFallbackGB = 0.05

// ArtifactStore is the slice of the artifact store the cache depends on.
type ArtifactStore interface {
	Locate(ctx context.Context, logicalPath string) (string, error)
	LocateAdapter(ctx context.Context, logicalPath string) (string, error)
	ReadTrainingConfig(ctx context.Context, logicalPath string) (*artifact.TrainingConfig, error)
	BasePath(name string) string
	VersionPath(name, label string) string
}

// VersionResolver resolves a custom model name to its active version label.
type VersionResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Handle is a resident model ready for generation.
type Handle struct {
	Name     string
	Model    runtime.Model
	Profile  tokenizer.Profile
	Device   runtime.DeviceKind
	MemoryGB float64
	// Base is the name of the base entry an adapted handle references;
	// empty for base handles.
	Base string
}

type baseEntry struct {
	handle     *Handle
	refcount   int // adapted entries referencing this base
	lastAccess time.Time
}

type adaptedEntry struct {
	handle     *Handle
	base       string
	lastAccess time.Time
}

// Config carries the cache's tunables.
type Config struct {
	// MinFreeMemoryGB is the free-memory headroom kept after a load.
	MinFreeMemoryGB float64
	// MemorySoftLimit is the fraction of device memory the resident set may
	// occupy before eviction kicks in. Zero disables the fractional check.
	MemorySoftLimit float64
	LocalDev        bool
}

// Cache is the two-tier model cache.
type Cache struct {
	runtime   runtime.Runtime
	artifacts ArtifactStore
	resolver  VersionResolver
	codec     tokenizer.Codec
	fs        afero.Fs
	logger    logging.Interface
	cfg       Config

	mu        sync.Mutex
	bases     map[string]*baseEntry
	adapted   map[string]*adaptedEntry
	loadLocks map[string]*sync.Mutex

	now func() time.Time
}

// New builds an empty cache.
func New(rt runtime.Runtime, artifacts ArtifactStore, resolver VersionResolver, codec tokenizer.Codec, fs afero.Fs, cfg Config, logger logging.Interface) *Cache {
	return &Cache{
		runtime:   rt,
		artifacts: artifacts,
		resolver:  resolver,
		codec:     codec,
		fs:        fs,
		logger:    logger,
		cfg:       cfg,
		bases:     make(map[string]*baseEntry),
		adapted:   make(map[string]*adaptedEntry),
		loadLocks: make(map[string]*sync.Mutex),
		now:       time.Now,
	}
}

// GetModel returns a resident handle for name, loading it if necessary.
// Concurrent callers for the same name join a single in-flight load.
func (c *Cache) GetModel(ctx context.Context, name string) (*Handle, error) {
	if h := c.lookup(name); h != nil {
		return h, nil
	}

	lock := c.loadLock(name)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have finished the load while we waited.
	if h := c.lookup(name); h != nil {
		return h, nil
	}

	return c.load(ctx, name)
}

// lookup returns the resident handle for name, refreshing its access time,
// or nil.
func (c *Cache) lookup(name string) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.adapted[name]; ok {
		entry.lastAccess = c.now()
		return entry.handle
	}
	if entry, ok := c.bases[name]; ok {
		entry.lastAccess = c.now()
		return entry.handle
	}
	return nil
}

func (c *Cache) loadLock(name string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.loadLocks[name]
	if !ok {
		lock = &sync.Mutex{}
		c.loadLocks[name] = lock
	}
	return lock
}

// load runs with the per-name load lock held.
func (c *Cache) load(ctx context.Context, name string) (*Handle, error) {
	label, err := c.resolver.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	logical := c.artifacts.BasePath(name)
	if label != "" {
		logical = c.artifacts.VersionPath(name, label)
	}

	trainingCfg, err := c.artifacts.ReadTrainingConfig(ctx, logical)
	if err != nil {
		return nil, apierror.New("load", name, err)
	}

	var handle *Handle
	if trainingCfg != nil && trainingCfg.BaseModel != "" {
		handle, err = c.loadAdapted(ctx, name, logical, trainingCfg.BaseModel)
	} else {
		handle, err = c.loadBase(ctx, name, logical)
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.ModelLoadsTotal.WithLabelValues(outcome).Inc()
	return handle, err
}

func (c *Cache) loadBase(ctx context.Context, name, logical string) (*Handle, error) {
	precision := runtime.SelectPrecision(c.runtime.Device())
	required := EstimateMemoryGB(name, precision)

	c.evictForMemory(required)

	start := c.now()
	dir, err := c.artifacts.Locate(ctx, logical)
	if err != nil {
		return nil, err
	}

	md, err := tokenizer.LoadMetadata(c.fs, dir)
	if err != nil {
		return nil, apierror.New("load", name, err)
	}
	profile := tokenizer.NewProfile(c.codec, name, md)

	model, err := c.runtime.LoadModel(ctx, dir, precision)
	if err != nil {
		return nil, apierror.New("load", name, fmt.Errorf("%w: %v", apierror.ErrLoadFailed, err))
	}

	memGB := model.MemoryGB()
	if memGB <= 0 {
		memGB = required
	}

	handle := &Handle{
		Name:     name,
		Model:    model,
		Profile:  profile,
		Device:   c.runtime.Device().Kind,
		MemoryGB: memGB,
	}

	c.mu.Lock()
	c.bases[name] = &baseEntry{handle: handle, lastAccess: c.now()}
	metrics.ResidentModels.Set(float64(len(c.bases) + len(c.adapted)))
	c.mu.Unlock()

	c.logger.WithField("model", name).
		WithField("precision", string(precision)).
		Infof("Loaded base model in %.2fs (%.2f GB)", c.now().Sub(start).Seconds(), memGB)
	return handle, nil
}

func (c *Cache) loadAdapted(ctx context.Context, name, logical, baseName string) (*Handle, error) {
	if baseName == name {
		return nil, apierror.New("load", name,
			fmt.Errorf("%w: model references itself as base", apierror.ErrLoadFailed))
	}

	// The base dependency loads under its own per-name lock.
	baseHandle, err := c.GetModel(ctx, baseName)
	if err != nil {
		return nil, err
	}

	adapterDir, err := c.artifacts.LocateAdapter(ctx, logical)
	if err != nil {
		return nil, err
	}

	model, err := c.runtime.ComposeAdapter(ctx, baseHandle.Model, adapterDir)
	if err != nil {
		return nil, apierror.New("load", name, fmt.Errorf("%w: %v", apierror.ErrLoadFailed, err))
	}

	memGB := model.MemoryGB()
	if memGB <= 0 {
		memGB = adapterFallbackGB
	}

	handle := &Handle{
		Name:     name,
		Model:    model,
		Profile:  baseHandle.Profile,
		Device:   c.runtime.Device().Kind,
		MemoryGB: memGB,
		Base:     baseName,
	}

	c.mu.Lock()
	c.adapted[name] = &adaptedEntry{handle: handle, base: baseName, lastAccess: c.now()}
	if base, ok := c.bases[baseName]; ok {
		base.refcount++
	}
	metrics.ResidentModels.Set(float64(len(c.bases) + len(c.adapted)))
	c.mu.Unlock()

	c.logger.WithField("model", name).
		WithField("base", baseName).
		Infof("Composed adapter (%.3f GB)", memGB)
	return handle, nil
}

// Unload removes name from the resident set. Unloading a base cascades to
// the adapters composed over it so no adapter outlives its base. Idempotent.
func (c *Cache) Unload(name string) bool {
	c.mu.Lock()
	removed, err := c.removeLocked(name)
	c.mu.Unlock()

	if removed {
		c.runtime.ClearDeviceCache()
		log := c.logger.WithField("model", name)
		if err != nil {
			log = log.WithError(err)
		}
		log.Info("Unloaded model")
	}
	return removed
}

// removeLocked removes one entry and, for bases, every adapter referencing
// it. Close failures are aggregated, not fatal. Load locks are kept: an
// in-flight loader may still hold one, and a fresh mutex for the same name
// would let two loads run concurrently. Caller holds c.mu.
func (c *Cache) removeLocked(name string) (bool, error) {
	var errs *multierror.Error

	if entry, ok := c.adapted[name]; ok {
		delete(c.adapted, name)
		if base, ok := c.bases[entry.base]; ok {
			base.refcount--
		}
		errs = multierror.Append(errs, entry.handle.Model.Close())
		metrics.ResidentModels.Set(float64(len(c.bases) + len(c.adapted)))
		return true, errs.ErrorOrNil()
	}

	if entry, ok := c.bases[name]; ok {
		for adaptedName, adaptedEntry := range c.adapted {
			if adaptedEntry.base == name {
				delete(c.adapted, adaptedName)
				errs = multierror.Append(errs, adaptedEntry.handle.Model.Close())
			}
		}
		delete(c.bases, name)
		errs = multierror.Append(errs, entry.handle.Model.Close())
		metrics.ResidentModels.Set(float64(len(c.bases) + len(c.adapted)))
		return true, errs.ErrorOrNil()
	}

	return false, nil
}

// List returns the names of all resident models.
func (c *Cache) List() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.bases)+len(c.adapted))
	for name := range c.bases {
		names = append(names, name)
	}
	for name := range c.adapted {
		names = append(names, name)
	}
	return names
}

// IsResident reports whether name is currently loaded.
func (c *Cache) IsResident(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, base := c.bases[name]
	_, adapted := c.adapted[name]
	return base || adapted
}

// evictForMemory frees memory until requiredGB fits under both the
// free-memory headroom and the soft occupancy limit. Best effort: inability
// to free enough is logged and the load proceeds.
func (c *Cache) evictForMemory(requiredGB float64) {
	for c.needsEviction(requiredGB) {
		victim := c.pickVictim()
		if victim == "" {
			c.logger.Warnf("Cannot free enough memory for %.2f GB (%.2f GB available); proceeding anyway",
				requiredGB, c.runtime.FreeMemoryGB())
			return
		}

		c.logger.WithField("model", victim).
			Infof("Evicting to fit %.2f GB (%.2f GB available)", requiredGB, c.runtime.FreeMemoryGB())

		c.mu.Lock()
		_, _ = c.removeLocked(victim)
		c.mu.Unlock()
		c.runtime.ClearDeviceCache()
		metrics.CacheEvictionsTotal.Inc()
	}
}

// needsEviction checks both memory conditions: absolute headroom and the
// soft occupancy fraction.
func (c *Cache) needsEviction(requiredGB float64) bool {
	free := c.runtime.FreeMemoryGB()
	if free < requiredGB+c.cfg.MinFreeMemoryGB {
		return true
	}

	total := c.runtime.Device().TotalMemoryGB
	if c.cfg.MemorySoftLimit > 0 && total > 0 {
		return (total-free+requiredGB)/total > c.cfg.MemorySoftLimit
	}
	return false
}

// pickVictim chooses the next entry to evict: adapted entries in LRU order
// first, then zero-refcount bases in LRU order.
func (c *Cache) pickVictim() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	victim := ""
	var oldest time.Time
	for name, entry := range c.adapted {
		if victim == "" || entry.lastAccess.Before(oldest) {
			victim, oldest = name, entry.lastAccess
		}
	}
	if victim != "" {
		return victim
	}

	for name, entry := range c.bases {
		if entry.refcount > 0 {
			continue
		}
		if victim == "" || entry.lastAccess.Before(oldest) {
			victim, oldest = name, entry.lastAccess
		}
	}
	return victim
}

// EntryStats describes one resident model for the admin stats endpoint.
type EntryStats struct {
	Name     string  `json:"name"`
	Kind     string  `json:"kind"` // "base" or "adapted"
	Base     string  `json:"base,omitempty"`
	MemoryGB float64 `json:"memory_gb"`
	Refcount int     `json:"refcount,omitempty"`
}

// Stats returns a snapshot of the resident set.
func (c *Cache) Stats() []EntryStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := make([]EntryStats, 0, len(c.bases)+len(c.adapted))
	for name, entry := range c.bases {
		stats = append(stats, EntryStats{
			Name:     name,
			Kind:     "base",
			MemoryGB: entry.handle.MemoryGB,
			Refcount: entry.refcount,
		})
	}
	for name, entry := range c.adapted {
		stats = append(stats, EntryStats{
			Name:     name,
			Kind:     "adapted",
			Base:     entry.base,
			MemoryGB: entry.handle.MemoryGB,
		})
	}
	return stats
}
