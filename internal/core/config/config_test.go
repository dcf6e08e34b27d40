package config

import (
	"slices"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"ADDR", "EE_API_URL", "DEFAULT_SCALE", "DEFAULT_REDUCER", "CACHE_TTL", "CACHE_TTL_HOT", "EXTRACT_WORKERS", "TILE_URL_TEMPLATE", "KAFKA_TOPIC"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	if c.Addr != ":8090" || c.DefaultScale != 250 || c.DefaultReducer != "median" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Cache.TTL != 10*time.Minute || c.Cache.TTLHot != 20*time.Minute {
		t.Fatalf("cache ttl defaults: %v %v", c.Cache.TTL, c.Cache.TTLHot)
	}
	if c.ExtractWorkers != 1 || c.TileURLTemplate != DefaultTileURLTemplate {
		t.Fatalf("workers=%d template=%q", c.ExtractWorkers, c.TileURLTemplate)
	}
	if c.Invalidation.Topic != "collection-updates" {
		t.Fatalf("topic=%q", c.Invalidation.Topic)
	}
}

func TestFromEnv_OverridesAndClamps(t *testing.T) {
	t.Setenv("EE_API_URL", "http://ee.local:9000/")
	t.Setenv("DEFAULT_SCALE", "-5")
	t.Setenv("EXTRACT_WORKERS", "0")
	t.Setenv("HOT_RES", "22")
	t.Setenv("CACHE_ENABLED", "yes")
	t.Setenv("CACHE_TTL", "1m")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")

	c := FromEnv()
	if c.RemoteURL != "http://ee.local:9000" {
		t.Fatalf("trailing slash not trimmed: %q", c.RemoteURL)
	}
	if c.DefaultScale != 250 || c.ExtractWorkers != 1 || c.Cache.HotRes != 7 {
		t.Fatalf("clamps not applied: scale=%v workers=%d res=%d", c.DefaultScale, c.ExtractWorkers, c.Cache.HotRes)
	}
	if !c.Cache.Enabled || c.Cache.TTLHot != 2*time.Minute {
		t.Fatalf("cache cfg: %+v", c.Cache)
	}
	if !slices.Equal(c.CORSOrigins, []string{"https://a.example", "https://b.example"}) {
		t.Fatalf("origins=%v", c.CORSOrigins)
	}
}
