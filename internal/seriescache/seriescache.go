// Package seriescache caches remote per-geometry series in front of a
// timeseries.Fetcher. Only queries over a closed, past date range are cached.
package seriescache

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/eo-timeseries/internal/cache"
	"github.com/mohammed-shakir/eo-timeseries/internal/cache/keys"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/model"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/observability"
	"github.com/mohammed-shakir/eo-timeseries/internal/hotness"
	"github.com/mohammed-shakir/eo-timeseries/internal/mapper"
	"github.com/mohammed-shakir/eo-timeseries/internal/remote"
	"github.com/mohammed-shakir/eo-timeseries/internal/timeseries"
)

const (
	tierLocal = "local"
	tierRedis = "redis"
	tierNone  = "none"
)

type Options struct {
	TTL       time.Duration
	HotTTL    time.Duration
	LocalSize int
	OpTimeout time.Duration

	// Hot, Areas and HotThreshold are optional. Without them every entry
	// gets TTL.
	Hot          hotness.Interface
	Areas        mapper.Interface
	HotThreshold float64
	HotRes       int

	Logger *slog.Logger
	Now    func() time.Time
}

type Cache struct {
	next  timeseries.Fetcher
	store cache.Interface
	local *lru.Cache[string, []remote.Sample]
	opts  Options

	mu   sync.Mutex
	gens map[string]uint64
}

var _ timeseries.Fetcher = (*Cache)(nil)

// New wraps next. store may be nil, in which case only the in-process tier
// is used and generations live in memory.
func New(next timeseries.Fetcher, store cache.Interface, opts Options) (*Cache, error) {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.HotTTL < opts.TTL {
		opts.HotTTL = opts.TTL
	}
	if opts.LocalSize <= 0 {
		opts.LocalSize = 1024
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l, err := lru.New[string, []remote.Sample](opts.LocalSize)
	if err != nil {
		return nil, err
	}
	return &Cache{
		next:  next,
		store: store,
		local: l,
		opts:  opts,
		gens:  make(map[string]uint64),
	}, nil
}

// Series serves req from the cache when it can. Cache failures are logged
// and the request falls through to the remote service.
func (c *Cache) Series(ctx context.Context, req remote.SeriesRequest) ([]remote.Sample, error) {
	if !Cacheable(req.Collection, c.opts.Now()) {
		observability.ObserveSeriesCache(tierNone, "bypass")
		return c.next.Series(ctx, req)
	}

	ttl := c.ttlFor(ctx, req)

	gen, err := c.generation(ctx, req.Collection.ID)
	if err != nil {
		observability.ObserveSeriesCache(tierRedis, "error")
		c.opts.Logger.WarnContext(ctx, "series cache generation read failed",
			"collection", req.Collection.ID, "err", err)
		return c.next.Series(ctx, req)
	}
	fp, err := json.Marshal(req)
	if err != nil {
		return c.next.Series(ctx, req)
	}
	key := keys.Series(req.Collection.ID, gen, fp)

	if v, ok := c.local.Get(key); ok {
		observability.ObserveSeriesCache(tierLocal, "hit")
		return slices.Clone(v), nil
	}
	observability.ObserveSeriesCache(tierLocal, "miss")

	if c.store != nil {
		if v, ok := c.fromStore(ctx, key); ok {
			c.local.Add(key, v)
			return slices.Clone(v), nil
		}
	}

	v, err := c.next.Series(ctx, req)
	if err != nil {
		return nil, err
	}
	c.local.Add(key, slices.Clone(v))
	if c.store != nil {
		c.toStore(ctx, key, v, ttl)
	}
	return v, nil
}

func (c *Cache) fromStore(ctx context.Context, key string) ([]remote.Sample, bool) {
	octx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	b, ok, err := c.store.Get(octx, key)
	if err != nil {
		observability.ObserveSeriesCache(tierRedis, "error")
		c.opts.Logger.WarnContext(ctx, "series cache read failed", "err", err)
		return nil, false
	}
	if !ok {
		observability.ObserveSeriesCache(tierRedis, "miss")
		return nil, false
	}
	var v []remote.Sample
	if err := json.Unmarshal(b, &v); err != nil {
		observability.ObserveSeriesCache(tierRedis, "error")
		c.opts.Logger.WarnContext(ctx, "series cache entry undecodable", "err", err)
		return nil, false
	}
	observability.ObserveSeriesCache(tierRedis, "hit")
	return v, true
}

func (c *Cache) toStore(ctx context.Context, key string, v []remote.Sample, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	octx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	if err := c.store.Set(octx, key, b, ttl); err != nil {
		c.opts.Logger.WarnContext(ctx, "series cache write failed", "err", err)
	}
}

// ttlFor counts the request against its area and returns HotTTL once the
// area is hot.
func (c *Cache) ttlFor(ctx context.Context, req remote.SeriesRequest) time.Duration {
	if c.opts.Hot == nil || c.opts.Areas == nil || req.Shape == nil {
		return c.opts.TTL
	}
	area, err := c.opts.Areas.AreaOf(req.Shape, c.opts.HotRes)
	if err != nil {
		c.opts.Logger.DebugContext(ctx, "no hotness area for geometry", "err", err)
		return c.opts.TTL
	}
	c.opts.Hot.Inc(area)
	if hotness.IsHot(c.opts.Hot, area, c.opts.HotThreshold) {
		return c.opts.HotTTL
	}
	return c.opts.TTL
}

func (c *Cache) generation(ctx context.Context, collection string) (uint64, error) {
	if c.store == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.gens[collection], nil
	}
	octx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	return c.store.Counter(octx, keys.Generation(collection))
}

// Invalidate makes every cached series of collection unreachable and empties
// the in-process tier.
func (c *Cache) Invalidate(ctx context.Context, collection string) error {
	defer c.local.Purge()
	if c.store == nil {
		c.mu.Lock()
		c.gens[collection]++
		c.mu.Unlock()
		return nil
	}
	octx, cancel := context.WithTimeout(ctx, c.opts.OpTimeout)
	defer cancel()
	gen, err := c.store.Incr(octx, keys.Generation(collection))
	if err != nil {
		return err
	}
	c.opts.Logger.InfoContext(ctx, "series cache invalidated",
		"collection", collection, "generation", gen)
	return nil
}

// Cacheable reports whether coll is bounded by a date range that ended on or
// before today (UTC). Open or current ranges can still gain images.
func Cacheable(coll remote.Collection, now time.Time) bool {
	today := now.UTC().Truncate(24 * time.Hour)
	found := false
	for _, op := range coll.Ops {
		if op.Op != remote.OpFilterDate {
			continue
		}
		if op.Start == "" || op.End == "" {
			return false
		}
		end, err := time.Parse(model.DateLayout, op.End)
		if err != nil || end.After(today) {
			return false
		}
		found = true
	}
	return found
}
