package cache

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/prefetch"
	"github.com/dgnsrekt/studybeats/internal/respcache"
	"github.com/dgnsrekt/studybeats/internal/storage"
	"golang.org/x/sync/errgroup"
)

const unknownValue = "unknown"

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	CacheNames []string // Named response caches to report on
	MaxItems   int      // Entries read per named cache
	Now        func() time.Time
	Logger     *log.Logger
}

// DefaultCoordinatorConfig returns the built-in cache names and limits.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		CacheNames: DefaultCacheNames,
		MaxItems:   DefaultMaxItems,
	}
}

// Coordinator aggregates statistics and clears entries across every tier.
type Coordinator struct {
	resources *ResourceCache
	store     storage.Store
	responses respcache.Storage // nil when unsupported
	engine    *prefetch.Engine

	cacheNames []string
	maxItems   int
	now        func() time.Time
	logger     *log.Logger

	mu    sync.RWMutex
	stats Stats
}

// NewCoordinator wires the tiers together. responses may be nil.
func NewCoordinator(resources *ResourceCache, store storage.Store, responses respcache.Storage, engine *prefetch.Engine, cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		resources:  resources,
		store:      store,
		responses:  responses,
		engine:     engine,
		cacheNames: cfg.CacheNames,
		maxItems:   cfg.MaxItems,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
	if len(c.cacheNames) == 0 {
		c.cacheNames = DefaultCacheNames
	}
	if c.maxItems <= 0 {
		c.maxItems = DefaultMaxItems
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = log.Default().WithPrefix("coordinator")
	}
	return c
}

// Stats returns the last snapshot taken by RefreshStats.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// RefreshStats scans every tier concurrently and stores the snapshot.
// Failures are recorded in the snapshot rather than returned.
func (c *Coordinator) RefreshStats(ctx context.Context) Stats {
	var (
		responses        []NamedCacheStats
		durable          []CategoryStats
		resources        []ResourceStats
		durableFailures  []TierFailure
		responseFailures []TierFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		responses, responseFailures = c.responseStats(gctx)
		return nil
	})
	g.Go(func() error {
		durable, durableFailures = c.durableStats(gctx)
		return nil
	})
	g.Go(func() error {
		if c.resources != nil {
			resources = c.resources.Stats()
		}
		return nil
	})
	_ = g.Wait()

	stats := Stats{
		ResponsesSupported: c.responses != nil,
		Responses:          responses,
		Durable:            durable,
		Resources:          resources,
		Failures:           append(responseFailures, durableFailures...),
		CollectedAt:        c.now(),
	}

	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
	return stats
}

func (c *Coordinator) responseStats(ctx context.Context) ([]NamedCacheStats, []TierFailure) {
	if c.responses == nil {
		c.logger.Debug("response cache not supported")
		return nil, nil
	}

	// Missing caches are reported empty rather than opened, which would create them
	var present map[string]bool
	if names, err := c.responses.Names(ctx); err != nil {
		c.logger.Debug("failed to list response caches", "error", err)
	} else {
		present = make(map[string]bool, len(names))
		for _, n := range names {
			present[n] = true
		}
	}

	results := make([]NamedCacheStats, len(c.cacheNames))
	var g errgroup.Group
	for i, name := range c.cacheNames {
		if present != nil && !present[name] {
			results[i] = NamedCacheStats{Name: name, TotalSizeFormatted: FormatBytes(0), Items: []ItemStats{}}
			continue
		}
		g.Go(func() error {
			results[i] = c.scanNamedCache(ctx, name)
			return nil
		})
	}
	_ = g.Wait()

	var failures []TierFailure
	for _, r := range results {
		if r.Err != "" {
			failures = append(failures, TierFailure{Tier: "responses", Name: r.Name, Err: r.Err})
		}
	}
	return results, failures
}

// scanNamedCache reads up to maxItems entries sequentially.
func (c *Coordinator) scanNamedCache(ctx context.Context, name string) NamedCacheStats {
	stats := NamedCacheStats{Name: name, TotalSizeFormatted: FormatBytes(0), Items: []ItemStats{}}

	fail := func(err error) NamedCacheStats {
		c.logger.Warn("failed to read cache", "cache", name, "error", err)
		stats.Err = err.Error()
		return stats
	}

	cache, err := c.responses.Open(ctx, name)
	if err != nil {
		return fail(err)
	}
	keys, err := cache.Keys(ctx)
	if err != nil {
		return fail(err)
	}

	stats.Count = len(keys)
	if len(keys) > c.maxItems {
		keys = keys[:c.maxItems]
		stats.Truncated = true
	}

	for _, key := range keys {
		resp, ok, err := cache.Match(ctx, key)
		if err != nil {
			c.logger.Debug("unreadable cache entry", "cache", name, "url", key, "error", err)
			stats.Items = append(stats.Items, unknownItem(key))
			continue
		}
		if !ok {
			continue
		}

		size, err := resp.Size()
		if err != nil {
			stats.Items = append(stats.Items, unknownItem(key))
			continue
		}

		timestamp := resp.Date()
		if timestamp == "" {
			timestamp = unknownValue
		}
		stats.TotalSize += size
		stats.Items = append(stats.Items, ItemStats{
			Key:           key,
			Size:          size,
			SizeFormatted: FormatBytes(size),
			Timestamp:     timestamp,
		})
	}

	sort.SliceStable(stats.Items, func(i, j int) bool {
		return stats.Items[i].Size > stats.Items[j].Size
	})
	stats.TotalSizeFormatted = FormatBytes(stats.TotalSize)
	return stats
}

func unknownItem(key string) ItemStats {
	return ItemStats{Key: key, SizeFormatted: unknownValue, Timestamp: unknownValue, Unknown: true}
}

func (c *Coordinator) durableStats(ctx context.Context) ([]CategoryStats, []TierFailure) {
	categories := DurableCategories()
	stats := make([]CategoryStats, len(categories))
	for i, cat := range categories {
		stats[i] = CategoryStats{Category: cat, TotalSizeFormatted: FormatBytes(0), Items: []ItemStats{}}
	}

	keys, err := c.store.Keys(ctx)
	if err != nil {
		c.logger.Warn("failed to list durable keys", "error", err)
		return stats, []TierFailure{{Tier: "durable", Err: err.Error()}}
	}

	var failures []TierFailure
	for _, key := range keys {
		for i, cat := range categories {
			if !cat.Matches(key) {
				continue
			}
			value, ok, err := c.store.Get(ctx, key)
			if err != nil {
				c.logger.Warn("failed to read durable entry", "key", key, "error", err)
				failures = append(failures, TierFailure{Tier: "durable", Name: key, Err: err.Error()})
				break
			}
			if !ok {
				break
			}
			size := int64(len(value))
			stats[i].Count++
			stats[i].TotalSize += size
			stats[i].Items = append(stats[i].Items, ItemStats{
				Key:           key,
				Size:          size,
				SizeFormatted: FormatBytes(size),
			})
			break
		}
	}

	for i := range stats {
		stats[i].TotalSizeFormatted = FormatBytes(stats[i].TotalSize)
	}
	return stats, failures
}

// ClearNamedCache deletes a named response cache and reports whether it existed.
// Names outside the configured cache list are refused.
func (c *Coordinator) ClearNamedCache(ctx context.Context, name string) bool {
	if !slices.Contains(c.cacheNames, name) {
		c.logger.Warn("refusing to clear unknown cache", "cache", name)
		return false
	}
	deleted := c.deleteNamedCache(ctx, name)
	if deleted {
		c.RefreshStats(ctx)
	}
	return deleted
}

func (c *Coordinator) deleteNamedCache(ctx context.Context, name string) bool {
	if c.responses == nil {
		c.logger.Warn("response cache not supported", "cache", name)
		return false
	}
	deleted, err := c.responses.Delete(ctx, name)
	if err != nil {
		c.logger.Error("failed to clear cache", "cache", name, "error", err)
		return false
	}
	if deleted {
		c.logger.Info("cleared cache", "cache", name)
	}
	return deleted
}

// ClearDurableCategory removes every durable key in category and returns the
// number removed. Only an unknown category is reported as an error.
func (c *Coordinator) ClearDurableCategory(ctx context.Context, category DurableCategory) (int, error) {
	if _, err := ParseDurableCategory(string(category)); err != nil {
		return 0, err
	}
	n := c.clearDurable(ctx, category)
	c.RefreshStats(ctx)
	return n, nil
}

func (c *Coordinator) clearDurable(ctx context.Context, category DurableCategory) int {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		c.logger.Error("failed to list durable keys", "category", category, "error", err)
		return 0
	}

	removed := 0
	for _, key := range keys {
		if !category.Matches(key) {
			continue
		}
		if err := c.store.Remove(ctx, key); err != nil {
			c.logger.Error("failed to remove durable key", "key", key, "error", err)
			continue
		}
		removed++
	}
	c.logger.Debug("cleared durable category", "category", category, "removed", removed)
	return removed
}

// ClearResourceCategory empties one resource category and returns the number
// of entries removed.
func (c *Coordinator) ClearResourceCategory(ctx context.Context, kind ResourceKind) int {
	n := 0
	if c.resources != nil {
		n = c.resources.ClearCategory(kind)
	}
	c.RefreshStats(ctx)
	return n
}

// ClearEverything empties every named cache, every durable category except
// settings, and every resource category, then refreshes once.
func (c *Coordinator) ClearEverything(ctx context.Context) Stats {
	for _, name := range c.cacheNames {
		c.deleteNamedCache(ctx, name)
	}
	for _, cat := range DurableCategories() {
		if cat == CategorySettings {
			continue
		}
		c.clearDurable(ctx, cat)
	}
	if c.resources != nil {
		c.resources.ClearAll()
	}
	return c.RefreshStats(ctx)
}

// TriggerManualPrefetch runs a forced prefetch of songs for (source, id).
func (c *Coordinator) TriggerManualPrefetch(ctx context.Context, songs []mtypes.Song, source, id string) (prefetch.Report, error) {
	if len(songs) == 0 {
		return prefetch.Report{}, mtypes.E(mtypes.KindInvalidInput, "manual prefetch", source+"/"+id,
			errors.New("no songs to prefetch"))
	}
	if c.engine == nil {
		return prefetch.Report{Source: source, ID: id, Skipped: prefetch.SkipUnsupported}, nil
	}
	return c.engine.Prefetch(ctx, songs, prefetch.Options{Source: source, ID: id, Force: true}), nil
}

// ClearThrottleMark removes the prefetch throttle for (source, id).
func (c *Coordinator) ClearThrottleMark(ctx context.Context, source, id string) error {
	if c.engine == nil {
		return c.store.Remove(ctx, storage.PrefetchKey(source, id))
	}
	if err := c.engine.ClearThrottle(ctx, source, id); err != nil {
		c.logger.Error("failed to clear prefetch mark", "source", source, "id", id, "error", err)
		return err
	}
	return nil
}
