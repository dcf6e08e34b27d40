package timeseries

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/eo-timeseries/internal/core/apperr"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/model"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/observability"
	"github.com/mohammed-shakir/eo-timeseries/internal/geometry"
	"github.com/mohammed-shakir/eo-timeseries/internal/remote"
)

// ColumnTime is the first column of every table.
const ColumnTime = "Time"

// Result is the outcome of one geometry: either Points or Err is set.
type Result struct {
	Index  int
	Type   string
	Points []model.Point
	Err    error
}

func (r Result) OK() bool { return r.Err == nil }

type Group struct {
	GeometryIndex int           `json:"geometry_index"`
	GeometryType  string        `json:"geometry_type"`
	Rows          []model.Point `json:"rows"`
}

type Table struct {
	Label   string   `json:"label"`
	Columns []string `json:"columns"`
	Groups  []Group  `json:"groups"`
}

type Failure struct {
	GeometryIndex int    `json:"geometry_index"`
	GeometryType  string `json:"geometry_type"`
	Message       string `json:"message"`
	Err           error  `json:"-"`
}

// BatchError is returned when no geometry produced a series.
type BatchError struct {
	Failures []Failure
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s #%d: %v", f.GeometryType, f.GeometryIndex, f.Err))
	}
	return "all geometries failed: " + strings.Join(parts, "; ")
}

type Assembler struct {
	ex      *Extractor
	workers int
	logger  *slog.Logger
}

// NewAssembler runs geometries one at a time when workers <= 1.
func NewAssembler(ex *Extractor, workers int, logger *slog.Logger) *Assembler {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{ex: ex, workers: workers, logger: logger}
}

// Run extracts every geometry and returns one Result per input, in input
// order. It never fails as a whole.
func (a *Assembler) Run(ctx context.Context, coll remote.Collection, geoms []geometry.Geometry, p Params) []Result {
	results := make([]Result, len(geoms))
	one := func(i int) {
		g := geoms[i]
		pts, err := a.ex.Extract(ctx, coll, g, p)
		results[i] = Result{Index: g.Index, Type: g.Type, Points: pts, Err: err}
		observability.ObserveGeometry(err, len(pts))
		if err != nil {
			a.logger.WarnContext(ctx, "geometry failed",
				"geometry_index", g.Index,
				"geometry_type", g.Type,
				"kind", apperr.KindOf(err).String(),
				"err", err)
		}
	}

	if a.workers == 1 || len(geoms) < 2 {
		for i := range geoms {
			one(i)
		}
		return results
	}

	var eg errgroup.Group
	eg.SetLimit(a.workers)
	for i := range geoms {
		eg.Go(func() error {
			one(i)
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

// Assemble builds the table for label from every geometry that succeeded and
// lists the ones that failed. It errors only when the input is empty or when
// every geometry failed.
func (a *Assembler) Assemble(ctx context.Context, coll remote.Collection, geoms []geometry.Geometry, p Params, label string) (Table, []Failure, error) {
	const op = "timeseries.Assemble"
	if len(geoms) == 0 {
		return Table{}, nil, apperr.Validation(op, geometry.MsgDrawArea)
	}
	results := a.Run(ctx, coll, geoms, p)

	t := Table{
		Label:   label,
		Columns: []string{ColumnTime, label},
		Groups:  make([]Group, 0, len(results)),
	}
	var failures []Failure
	for _, r := range results {
		if !r.OK() {
			failures = append(failures, Failure{
				GeometryIndex: r.Index,
				GeometryType:  r.Type,
				Message:       apperr.Public(r.Err),
				Err:           r.Err,
			})
			continue
		}
		rows := r.Points
		if rows == nil {
			rows = []model.Point{}
		}
		t.Groups = append(t.Groups, Group{GeometryIndex: r.Index, GeometryType: r.Type, Rows: rows})
	}

	if len(t.Groups) == 0 {
		first := failures[0]
		return Table{}, failures, &apperr.Error{
			Kind: apperr.KindOf(first.Err),
			Op:   op,
			Msg:  first.Message,
			Err:  &BatchError{Failures: failures},
		}
	}
	return t, failures, nil
}
