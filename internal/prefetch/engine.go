package prefetch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/studybeats/internal/mtypes"
	"github.com/dgnsrekt/studybeats/internal/respcache"
	"github.com/dgnsrekt/studybeats/internal/storage"
	"golang.org/x/time/rate"
)

// Defaults for a prefetch engine.
const (
	DefaultCacheName = "streaming-music-cache"
	DefaultWindow    = 12 * time.Hour
	DefaultMaxSongs  = 12

	defaultSource = "netease"
	defaultID     = "default"
)

// Options select the playlist a prefetch run belongs to.
type Options struct {
	Source string
	ID     string
	Force  bool // Ignore the throttle window
}

// SkipReason explains why a run did nothing.
type SkipReason string

const (
	SkipNone        SkipReason = ""
	SkipNoSongs     SkipReason = "no-songs"
	SkipUnsupported SkipReason = "unsupported"
	SkipThrottled   SkipReason = "throttled"
	SkipNoURLs      SkipReason = "no-urls"
	SkipCacheOpen   SkipReason = "cache-unavailable"
)

// URLFailure records why one URL could not be warmed.
type URLFailure struct {
	URL string
	Err error
}

// Report describes the outcome of one Prefetch call.
type Report struct {
	Source   string
	ID       string
	Skipped  SkipReason
	URLs     []string // URLs attempted, in order
	Warm     int      // Already cached before this run
	Stored   int      // Newly stored
	Failures []URLFailure
	MarkedAt time.Time // Zero when the throttle mark was not written
}

// Engine prefetches playlist media into a named response cache.
type Engine struct {
	responses respcache.Storage // nil when the runtime has no response cache
	store     storage.Store
	fetcher   Fetcher
	limiter   *rate.Limiter

	cacheName string
	window    time.Duration
	maxSongs  int

	now    func() time.Time
	logger *log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *log.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithRequestsPerMinute paces fetches. Zero or less disables pacing.
func WithRequestsPerMinute(rpm int) Option {
	return func(e *Engine) {
		if rpm <= 0 {
			e.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
}

// WithCacheName sets the response cache that receives prefetched media.
func WithCacheName(name string) Option { return func(e *Engine) { e.cacheName = name } }

// WithWindow sets the throttle window.
func WithWindow(d time.Duration) Option { return func(e *Engine) { e.window = d } }

// WithMaxSongs caps the number of distinct URLs per run.
func WithMaxSongs(n int) Option { return func(e *Engine) { e.maxSongs = n } }

// NewEngine creates a prefetch engine. responses may be nil, which turns every
// Prefetch into a no-op.
func NewEngine(responses respcache.Storage, store storage.Store, fetcher Fetcher, opts ...Option) *Engine {
	e := &Engine{
		responses: responses,
		store:     store,
		fetcher:   fetcher,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		cacheName: DefaultCacheName,
		window:    DefaultWindow,
		maxSongs:  DefaultMaxSongs,
		now:       time.Now,
		logger:    log.Default().WithPrefix("prefetch"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CacheName returns the response cache prefetched media is stored in.
func (e *Engine) CacheName() string {
	return e.cacheName
}

// Available reports whether a response cache is configured.
func (e *Engine) Available() bool {
	return e.responses != nil
}

// Prefetch warms the response cache with the playlist's media. Once the batch
// starts it runs to completion even if ctx is canceled.
func (e *Engine) Prefetch(ctx context.Context, songs []mtypes.Song, opts Options) Report {
	if opts.Source == "" {
		opts.Source = defaultSource
	}
	if opts.ID == "" {
		opts.ID = defaultID
	}
	report := Report{Source: opts.Source, ID: opts.ID}

	switch {
	case len(songs) == 0:
		report.Skipped = SkipNoSongs
		return report
	case e.responses == nil:
		report.Skipped = SkipUnsupported
		return report
	case !e.ShouldPrefetch(ctx, opts.Source, opts.ID, opts.Force):
		report.Skipped = SkipThrottled
		return report
	}

	ctx = context.WithoutCancel(ctx)

	urls := mtypes.URLs(songs)
	if len(urls) > e.maxSongs {
		urls = urls[:e.maxSongs]
	}
	if len(urls) == 0 {
		report.Skipped = SkipNoURLs
		return report
	}

	cache, err := e.responses.Open(ctx, e.cacheName)
	if err != nil {
		e.logger.Error("failed to open prefetch cache", "cache", e.cacheName, "error", err)
		report.Skipped = SkipCacheOpen
		return report
	}

	e.logger.Debug("prefetch started", "source", opts.Source, "id", opts.ID, "urls", len(urls), "force", opts.Force)

	// Sequential on purpose: one request at a time keeps network pressure
	// bounded and cache writes in playlist order.
	for _, u := range urls {
		report.URLs = append(report.URLs, u)
		if err := checkScheme(u, opts.Source); err != nil {
			e.logger.Warn("refusing to cache song", "url", u, "source", opts.Source, "error", err)
			report.Failures = append(report.Failures, URLFailure{URL: u, Err: err})
			continue
		}
		if err := e.limiter.Wait(ctx); err != nil {
			report.Failures = append(report.Failures, URLFailure{URL: u, Err: err})
			continue
		}

		warm, err := e.fetchAndCache(ctx, cache, u)
		switch {
		case err != nil:
			e.logger.Warn("failed to cache song", "url", u, "error", err)
			report.Failures = append(report.Failures, URLFailure{URL: u, Err: err})
		case warm:
			report.Warm++
		default:
			report.Stored++
		}
	}

	report.MarkedAt = e.markPrefetched(ctx, opts.Source, opts.ID)

	e.logger.Info("prefetch finished",
		"source", opts.Source,
		"id", opts.ID,
		"stored", report.Stored,
		"warm", report.Warm,
		"failed", len(report.Failures))

	return report
}

// ShouldPrefetch reports whether a run for (source, id) is due.
func (e *Engine) ShouldPrefetch(ctx context.Context, source, id string, force bool) bool {
	if force {
		return true
	}
	last := e.lastPrefetch(ctx, source, id)
	return e.now().Sub(last) > e.window
}

// ClearThrottle deletes the throttle mark so the next run is not throttled.
func (e *Engine) ClearThrottle(ctx context.Context, source, id string) error {
	if err := e.store.Remove(ctx, storage.PrefetchKey(source, id)); err != nil {
		return fmt.Errorf("clear prefetch mark: %w", err)
	}
	return nil
}

// fetchAndCache reports warm=true when url was already cached.
func (e *Engine) fetchAndCache(ctx context.Context, cache respcache.Cache, url string) (bool, error) {
	if _, ok, err := cache.Match(ctx, url); err != nil {
		// An unreadable entry is overwritten by a fresh fetch
		e.logger.Debug("ignoring unreadable cache entry", "url", url, "error", err)
	} else if ok {
		return true, nil
	}

	resp, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return false, err
	}

	if !resp.OK() && !resp.Opaque {
		return false, mtypes.E(mtypes.KindTransportFailure, "fetch", url,
			fmt.Errorf("unexpected status %d", resp.Status))
	}

	if err := cache.Put(ctx, url, resp.Clone()); err != nil {
		return false, fmt.Errorf("store %s: %w", url, err)
	}
	return false, nil
}

func (e *Engine) lastPrefetch(ctx context.Context, source, id string) time.Time {
	v, ok, err := e.store.Get(ctx, storage.PrefetchKey(source, id))
	if err != nil || !ok {
		return time.UnixMilli(0)
	}
	ms, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return time.UnixMilli(0)
	}
	return time.UnixMilli(ms)
}

func (e *Engine) markPrefetched(ctx context.Context, source, id string) time.Time {
	now := e.now()
	v := strconv.FormatInt(now.UnixMilli(), 10)
	if err := e.store.Set(ctx, storage.PrefetchKey(source, id), []byte(v)); err != nil {
		e.logger.Warn("failed to write prefetch mark", "source", source, "id", id, "error", err)
		return time.Time{}
	}
	return now
}
