package seriescache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/eo-timeseries/internal/cache/redisstore"
	"github.com/mohammed-shakir/eo-timeseries/internal/hotness/expdecay"
	h3mapper "github.com/mohammed-shakir/eo-timeseries/internal/mapper/h3"
	"github.com/mohammed-shakir/eo-timeseries/internal/remote"
)

var fixedNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

type countingFetcher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *countingFetcher) Series(_ context.Context, _ remote.SeriesRequest) ([]remote.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v := 0.5
	return []remote.Sample{{TimeMillis: 1000, Value: &v}, {TimeMillis: 2000}}, nil
}

func (f *countingFetcher) n() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func request(coll string, from, to string) remote.SeriesRequest {
	c := remote.Open(coll)
	if from != "" || to != "" {
		c = c.FilterDate(from, to)
	}
	return remote.SeriesRequest{
		Collection: c.Select("NDVI"),
		Geometry:   json.RawMessage(`{"type":"Point","coordinates":[18.07,59.33]}`),
		Scale:      250,
		Reducer:    "mean",
		Band:       "NDVI",
		Shape:      orb.Point{18.07, 59.33},
	}
}

func newRedis(t *testing.T) (*redisstore.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func newCache(t *testing.T, next *countingFetcher, store *redisstore.Client, opts Options) *Cache {
	t.Helper()
	opts.Logger = quiet()
	opts.Now = func() time.Time { return fixedNow }
	var c *Cache
	var err error
	if store == nil {
		c, err = New(next, nil, opts)
	} else {
		c, err = New(next, store, opts)
	}
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCacheable(t *testing.T) {
	cases := []struct {
		name string
		coll remote.Collection
		want bool
	}{
		{"past range", remote.Open("C").FilterDate("2024-01-01", "2024-02-01"), true},
		{"ends today", remote.Open("C").FilterDate("2024-06-01", "2024-06-15"), true},
		{"ends in future", remote.Open("C").FilterDate("2024-06-01", "2024-06-16"), false},
		{"no date filter", remote.Open("C").Select("NDVI"), false},
		{"bad date", remote.Open("C").FilterDate("2024-01-01", "June"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Cacheable(tc.coll, fixedNow); got != tc.want {
				t.Fatalf("got=%v want=%v", got, tc.want)
			}
		})
	}
}

func TestLocalOnly_HitAfterMiss(t *testing.T) {
	next := &countingFetcher{}
	c := newCache(t, next, nil, Options{})
	req := request("C", "2024-01-01", "2024-02-01")

	a, err := c.Series(context.Background(), req)
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	b, err := c.Series(context.Background(), req)
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if next.n() != 1 {
		t.Fatalf("remote calls=%d want 1", next.n())
	}
	if len(a) != 2 || len(b) != 2 || *b[0].Value != 0.5 || b[1].Value != nil {
		t.Fatalf("a=%+v b=%+v", a, b)
	}
}

func TestOpenRange_Bypasses(t *testing.T) {
	next := &countingFetcher{}
	c := newCache(t, next, nil, Options{})
	req := request("C", "", "")
	for range 3 {
		if _, err := c.Series(context.Background(), req); err != nil {
			t.Fatalf("Series: %v", err)
		}
	}
	if next.n() != 3 {
		t.Fatalf("remote calls=%d want 3", next.n())
	}
}

func TestRemoteErrorNotCached(t *testing.T) {
	next := &countingFetcher{err: errors.New("boom")}
	c := newCache(t, next, nil, Options{})
	req := request("C", "2024-01-01", "2024-02-01")
	if _, err := c.Series(context.Background(), req); err == nil {
		t.Fatalf("expected error")
	}
	next.err = nil
	if _, err := c.Series(context.Background(), req); err != nil {
		t.Fatalf("Series: %v", err)
	}
	if next.n() != 2 {
		t.Fatalf("remote calls=%d want 2", next.n())
	}
}

func TestRedisTier_SharedAcrossInstances(t *testing.T) {
	rc, _ := newRedis(t)
	next := &countingFetcher{}
	req := request("MODIS/006/MOD13A1", "2024-01-01", "2024-02-01")

	first := newCache(t, next, rc, Options{})
	if _, err := first.Series(context.Background(), req); err != nil {
		t.Fatalf("Series: %v", err)
	}
	second := newCache(t, next, rc, Options{})
	got, err := second.Series(context.Background(), req)
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if next.n() != 1 {
		t.Fatalf("remote calls=%d want 1", next.n())
	}
	if len(got) != 2 || *got[0].Value != 0.5 {
		t.Fatalf("got=%+v", got)
	}
}

func TestInvalidate_BumpsGeneration(t *testing.T) {
	rc, _ := newRedis(t)
	next := &countingFetcher{}
	c := newCache(t, next, rc, Options{})
	other := request("OTHER", "2024-01-01", "2024-02-01")
	req := request("C", "2024-01-01", "2024-02-01")
	ctx := context.Background()

	_, _ = c.Series(ctx, req)
	_, _ = c.Series(ctx, other)
	if err := c.Invalidate(ctx, "C"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	_, _ = c.Series(ctx, req)
	if next.n() != 3 {
		t.Fatalf("remote calls=%d want 3 after invalidation", next.n())
	}
	_, _ = c.Series(ctx, other)
	if next.n() != 3 {
		t.Fatalf("other collection must still be served from redis, calls=%d", next.n())
	}
}

func TestInvalidate_LocalOnly(t *testing.T) {
	next := &countingFetcher{}
	c := newCache(t, next, nil, Options{})
	req := request("C", "2024-01-01", "2024-02-01")
	ctx := context.Background()

	_, _ = c.Series(ctx, req)
	_ = c.Invalidate(ctx, "C")
	_, _ = c.Series(ctx, req)
	if next.n() != 2 {
		t.Fatalf("remote calls=%d want 2", next.n())
	}
}

func TestRedisDown_FallsBackToRemote(t *testing.T) {
	rc, mr := newRedis(t)
	next := &countingFetcher{}
	c := newCache(t, next, rc, Options{OpTimeout: 50 * time.Millisecond})
	mr.Close()

	req := request("C", "2024-01-01", "2024-02-01")
	got, err := c.Series(context.Background(), req)
	if err != nil {
		t.Fatalf("cache failure must not fail the request: %v", err)
	}
	if len(got) != 2 || next.n() != 1 {
		t.Fatalf("got=%+v calls=%d", got, next.n())
	}
}

func TestHotArea_GetsLongerTTL(t *testing.T) {
	rc, mr := newRedis(t)
	next := &countingFetcher{}
	c := newCache(t, next, rc, Options{
		TTL:          time.Minute,
		HotTTL:       time.Hour,
		Hot:          expdecay.New(time.Hour),
		Areas:        h3mapper.New(),
		HotThreshold: 1.5,
		HotRes:       7,
	})
	ctx := context.Background()

	cold := request("C", "2024-01-01", "2024-02-01")
	_, _ = c.Series(ctx, cold)
	if ttl := maxSeriesTTL(mr); ttl != time.Minute {
		t.Fatalf("cold ttl=%v want 1m", ttl)
	}

	hot := request("C", "2024-01-01", "2024-03-01")
	_, _ = c.Series(ctx, hot)
	if ttl := maxSeriesTTL(mr); ttl != time.Hour {
		t.Fatalf("hot ttl=%v want 1h", ttl)
	}
}

func maxSeriesTTL(mr *miniredis.Miniredis) time.Duration {
	var best time.Duration
	for _, k := range mr.Keys() {
		if ttl := mr.TTL(k); ttl > best {
			best = ttl
		}
	}
	return best
}
