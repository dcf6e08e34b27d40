// Package analysis runs the two user-facing requests: a time series over the
// caller's geometries and a composite tile layer for a product.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mohammed-shakir/eo-timeseries/internal/catalog"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/apperr"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/model"
	"github.com/mohammed-shakir/eo-timeseries/internal/geometry"
	mylog "github.com/mohammed-shakir/eo-timeseries/internal/logger"
	"github.com/mohammed-shakir/eo-timeseries/internal/query"
	"github.com/mohammed-shakir/eo-timeseries/internal/reducer"
	"github.com/mohammed-shakir/eo-timeseries/internal/remote"
	"github.com/mohammed-shakir/eo-timeseries/internal/tiles"
	"github.com/mohammed-shakir/eo-timeseries/internal/timeseries"
)

type Defaults struct {
	Scale   float64
	Reducer string
}

type Service struct {
	catalog   *catalog.Catalog
	builder   *query.Builder
	assembler *timeseries.Assembler
	publisher *tiles.Publisher
	defaults  Defaults
	logger    *slog.Logger
	now       func() time.Time
}

func New(
	cat *catalog.Catalog,
	b *query.Builder,
	a *timeseries.Assembler,
	p *tiles.Publisher,
	defaults Defaults,
	logger *slog.Logger,
) *Service {
	if defaults.Scale <= 0 {
		defaults.Scale = 250
	}
	if strings.TrimSpace(defaults.Reducer) == "" {
		defaults.Reducer = reducer.Median.String()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		catalog:   cat,
		builder:   b,
		assembler: a,
		publisher: p,
		defaults:  defaults,
		logger:    logger,
		now:       time.Now,
	}
}

// SeriesRequest mirrors the time-series form. Empty strings mean "not given";
// Scale <= 0 means the default.
type SeriesRequest struct {
	Platform  string
	Sensor    string
	Product   string
	IndexName string
	From      string
	To        string
	Reducer   string
	Scale     float64
	Geometry  []byte
}

type SeriesResult struct {
	Title    string               `json:"title"`
	Table    timeseries.Table     `json:"table"`
	Failures []timeseries.Failure `json:"failures,omitempty"`
}

func (s *Service) TimeSeries(ctx context.Context, req SeriesRequest) (SeriesResult, error) {
	const op = "analysis.TimeSeries"
	d, err := s.catalog.Resolve(req.Platform, req.Sensor, req.Product)
	if err != nil {
		return SeriesResult{}, apperr.Wrap(op, err)
	}
	ctx = mylog.WithProduct(ctx, d.Key.String())

	band := strings.TrimSpace(req.IndexName)
	if band == "" {
		band = d.IndexName
	}
	if band == "" {
		return SeriesResult{}, apperr.Validationf(op,
			"We're sorry, but plotting %s is not supported at this time. Please select a different product.",
			d.DisplayName)
	}

	from, to, err := parseRange(req.From, req.To)
	if err != nil {
		return SeriesResult{}, apperr.Wrap(op, err)
	}
	geoms, err := geometry.ParseCollection(req.Geometry)
	if err != nil {
		return SeriesResult{}, apperr.Wrap(op, err)
	}
	name := s.reducerName(req.Reducer)
	r, err := reducer.Parse(name)
	if err != nil {
		return SeriesResult{}, apperr.Wrap(op, err)
	}
	scale := req.Scale
	if scale <= 0 {
		scale = s.defaults.Scale
	}

	spec, err := s.builder.Build(d, query.Params{From: from, To: to, Reducer: name, Index: band})
	if err != nil {
		return SeriesResult{}, apperr.Wrap(op, err)
	}
	coll := remote.Apply(remote.Open(spec.CollectionID()), spec.WithoutReduce())

	s.logger.DebugContext(ctx, "time series requested",
		"collection", spec.CollectionID(),
		"stages", fmt.Sprint(spec.WithoutReduce().Kinds()),
		"geometries", len(geoms),
		"reducer", r.String(),
		"scale", scale)

	label := model.ValueLabel(band)
	table, failures, err := s.assembler.Assemble(ctx, coll, geoms,
		timeseries.Params{Band: band, Scale: scale, Reducer: r}, label)
	if err != nil {
		return SeriesResult{Failures: failures}, apperr.Wrap(op, err)
	}
	return SeriesResult{Title: d.DisplayName, Table: table, Failures: failures}, nil
}

type TileRequest struct {
	Platform string
	Sensor   string
	Product  string
	From     string
	To       string
	Reducer  string
}

// ImageCollection collapses the filtered collection into one composite and
// publishes it with the product's visualization parameters.
func (s *Service) ImageCollection(ctx context.Context, req TileRequest) (tiles.Handle, error) {
	const op = "analysis.ImageCollection"
	d, err := s.catalog.Resolve(req.Platform, req.Sensor, req.Product)
	if err != nil {
		return tiles.Handle{}, apperr.Wrap(op, err)
	}
	ctx = mylog.WithProduct(ctx, d.Key.String())

	from, to, err := parseRange(req.From, req.To)
	if err != nil {
		return tiles.Handle{}, apperr.Wrap(op, err)
	}
	spec, err := s.builder.Build(d, query.Params{From: from, To: to, Reducer: s.reducerName(req.Reducer)})
	if err != nil {
		return tiles.Handle{}, apperr.Wrap(op, err)
	}
	img, err := remote.Composite(spec)
	if err != nil {
		return tiles.Handle{}, apperr.Wrap(op, err)
	}
	h, err := s.publisher.Publish(ctx, img, d.VisParams)
	if err != nil {
		return tiles.Handle{}, apperr.Wrap(op, err)
	}
	s.logger.DebugContext(ctx, "image collection published", "mapid", h.MapID)
	return h, nil
}

// FeatureOutline publishes the outline of a server-side feature collection.
func (s *Service) FeatureOutline(ctx context.Context, featureCollection string) (tiles.Handle, error) {
	h, err := s.publisher.PublishOutline(ctx, featureCollection)
	if err != nil {
		return tiles.Handle{}, apperr.Wrap("analysis.FeatureOutline", err)
	}
	return h, nil
}

func (s *Service) reducerName(name string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return s.defaults.Reducer
}

// parseRange parses optional YYYY-MM-DD dates. Ordering is checked by the
// query builder, and only when both are present.
func parseRange(from, to string) (time.Time, time.Time, error) {
	f, err := parseDate("start", from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	t, err := parseDate("end", to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return f, t, nil
}

func parseDate(which, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		return time.Time{}, apperr.Validationf("analysis.parseDate",
			"invalid %s date %q; expected YYYY-MM-DD", which, s)
	}
	return t, nil
}
