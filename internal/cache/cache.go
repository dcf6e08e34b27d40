// Package cache declares the shared store behind the series cache.
package cache

import (
	"context"
	"time"

	"github.com/mohammed-shakir/eo-timeseries/internal/cache/redisstore"
)

type Interface interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Counter and Incr hold per-collection generations.
	Counter(ctx context.Context, key string) (uint64, error)
	Incr(ctx context.Context, key string) (uint64, error)
}

var _ Interface = (*redisstore.Client)(nil)
