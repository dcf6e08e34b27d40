// Package metricswrap reports hotness tracker size and threshold crossings.
package metricswrap

import (
	"fmt"
	"log/slog"

	xx "github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/eo-timeseries/internal/core/observability"
	"github.com/mohammed-shakir/eo-timeseries/internal/hotness"
)

type Sizer interface{ Size() int }

type Pruner interface{ Prune(floor float64) int }

type Options struct {
	Threshold float64
	// LogSample is the fraction of areas, chosen by hash, whose threshold
	// crossings are logged.
	LogSample float64
	Logger    *slog.Logger
}

type WithMetrics struct {
	inner hotness.Interface
	opts  Options
}

var _ hotness.Interface = (*WithMetrics)(nil)

func New(inner hotness.Interface, opts Options) *WithMetrics {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &WithMetrics{inner: inner, opts: opts}
}

func (w *WithMetrics) Inc(area string) {
	before := 0.0
	if w.opts.Threshold > 0 {
		before = w.inner.Score(area)
	}
	w.inner.Inc(area)
	if w.opts.Threshold > 0 {
		score := w.inner.Score(area)
		if before < w.opts.Threshold && score >= w.opts.Threshold && shouldLog(w.opts.LogSample, area) {
			w.opts.Logger.Info("hot area above threshold",
				"event", "hotness_threshold",
				"score", score,
				"area_hash", fmt.Sprintf("%08x", xx.Sum64String(area)))
		}
	}
	w.report()
}

func (w *WithMetrics) Score(area string) float64 {
	return w.inner.Score(area)
}

func (w *WithMetrics) Reset(areas ...string) {
	w.inner.Reset(areas...)
	w.report()
}

// Prune forwards to the tracker when it supports pruning.
func (w *WithMetrics) Prune(floor float64) int {
	p, ok := w.inner.(Pruner)
	if !ok {
		return 0
	}
	n := p.Prune(floor)
	w.report()
	return n
}

func (w *WithMetrics) report() {
	if s, ok := w.inner.(Sizer); ok {
		observability.SetHotAreas(s.Size())
	}
}

func shouldLog(sample float64, key string) bool {
	if sample <= 0 {
		return false
	}
	if sample >= 1 {
		return true
	}
	const denom = 10000 // 0.01 => 100/10000
	threshold := uint64(sample*denom + 0.5)
	if threshold == 0 {
		return false
	}
	return (xx.Sum64String(key) % denom) < threshold
}
