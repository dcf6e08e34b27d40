// Package timeseries reduces a filtered remote collection over each input
// geometry and assembles the per-geometry sequences into a table.
package timeseries

import (
	"context"
	"log/slog"

	"github.com/mohammed-shakir/eo-timeseries/internal/core/apperr"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/model"
	"github.com/mohammed-shakir/eo-timeseries/internal/geometry"
	"github.com/mohammed-shakir/eo-timeseries/internal/reducer"
	"github.com/mohammed-shakir/eo-timeseries/internal/remote"
)

// Fetcher evaluates one per-image spatial reduction remotely.
type Fetcher interface {
	Series(ctx context.Context, req remote.SeriesRequest) ([]remote.Sample, error)
}

type Params struct {
	Band    string
	Scale   float64
	Reducer reducer.Reducer
}

// Validate checks what can be checked without a geometry.
func (p Params) Validate() error {
	const op = "timeseries.Params"
	if !p.Reducer.Valid() {
		return apperr.Validation(op, "a reducer is required")
	}
	if !p.Reducer.Spatial() {
		return apperr.Validationf(op, "reducer %s cannot reduce pixels within a geometry", p.Reducer)
	}
	if p.Scale <= 0 {
		return apperr.Validationf(op, "scale must be positive, got %g", p.Scale)
	}
	return nil
}

type Extractor struct {
	fetch  Fetcher
	logger *slog.Logger
}

func NewExtractor(f Fetcher, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{fetch: f, logger: logger}
}

// Extract returns one point per image of coll, in the collection's order.
// The geometry and parameters are validated before any remote call.
func (e *Extractor) Extract(ctx context.Context, coll remote.Collection, g geometry.Geometry, p Params) ([]model.Point, error) {
	const op = "timeseries.Extract"
	if err := g.Validate(); err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if err := p.Validate(); err != nil {
		return nil, apperr.Wrap(op, err)
	}
	raw, err := g.GeoJSON()
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}

	samples, err := e.fetch.Series(ctx, remote.SeriesRequest{
		Collection: coll,
		Geometry:   raw,
		Scale:      p.Scale,
		Reducer:    p.Reducer.String(),
		Band:       p.Band,
		Shape:      g.Shape,
	})
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}

	out := make([]model.Point, len(samples))
	for i, s := range samples {
		out[i] = model.Point{Time: s.Time(), Value: s.Value}
	}
	e.logger.DebugContext(ctx, "series extracted",
		"geometry_index", g.Index,
		"geometry_type", g.Type,
		"points", len(out))
	return out, nil
}
