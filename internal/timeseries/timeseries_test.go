package timeseries

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammed-shakir/eo-timeseries/internal/core/apperr"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/model"
	"github.com/mohammed-shakir/eo-timeseries/internal/geometry"
	"github.com/mohammed-shakir/eo-timeseries/internal/query"
	"github.com/mohammed-shakir/eo-timeseries/internal/reducer"
	"github.com/mohammed-shakir/eo-timeseries/internal/remote"
)

const (
	polyJSON  = `{"type":"Polygon","coordinates":[[[11,55],[12,55],[12,56],[11,56],[11,55]]]}`
	pointJSON = `{"type":"Point","coordinates":[11.5,55.5]}`
	lineJSON  = `{"type":"LineString","coordinates":[[11,55],[12,56]]}`
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    []remote.SeriesRequest
	samples  []remote.Sample
	failWhen func(remote.SeriesRequest) error
	delay    func(remote.SeriesRequest) time.Duration
}

func (f *fakeFetcher) Series(_ context.Context, req remote.SeriesRequest) ([]remote.Sample, error) {
	if f.delay != nil {
		time.Sleep(f.delay(req))
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.failWhen != nil {
		if err := f.failWhen(req); err != nil {
			return nil, err
		}
	}
	return f.samples, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fv(v float64) *float64 { return &v }

func geoms(t *testing.T, members ...string) []geometry.Geometry {
	t.Helper()
	gs, err := geometry.ParseCollection([]byte(`{"type":"GeometryCollection","geometries":[` + strings.Join(members, ",") + `]}`))
	if err != nil {
		t.Fatalf("ParseCollection: %v", err)
	}
	return gs
}

func meanParams() Params {
	return Params{Band: "NDVI", Scale: 250, Reducer: reducer.Mean}
}

func TestExtract_ReturnsOnePointPerImageInOrder(t *testing.T) {
	ff := &fakeFetcher{samples: []remote.Sample{
		{TimeMillis: 1591142400000, Value: fv(0.5)},
		{TimeMillis: 1591747200000},
		{TimeMillis: 1592352000000, Value: fv(0.7)},
	}}
	ex := NewExtractor(ff, quiet())
	pts, err := ex.Extract(context.Background(), remote.Open("X"), geoms(t, polyJSON)[0], meanParams())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(pts) != 3 {
		t.Fatalf("len=%d want 3", len(pts))
	}
	for i := 1; i < len(pts); i++ {
		if !pts[i].Time.After(pts[i-1].Time) {
			t.Fatalf("points out of order: %v", pts)
		}
	}
	if pts[1].Value != nil || *pts[2].Value != 0.7 {
		t.Fatalf("values=%v", pts)
	}
	req := ff.calls[0]
	if req.Reducer != "mean" || req.Scale != 250 || req.Band != "NDVI" || req.Shape == nil {
		t.Fatalf("request=%+v", req)
	}
}

func TestExtract_ValidatesBeforeRemoteCall(t *testing.T) {
	ff := &fakeFetcher{}
	ex := NewExtractor(ff, quiet())
	ctx := context.Background()

	cases := map[string]struct {
		g geometry.Geometry
		p Params
	}{
		"linestring":     {geoms(t, lineJSON)[0], meanParams()},
		"mosaic":         {geoms(t, pointJSON)[0], Params{Scale: 250, Reducer: reducer.Mosaic}},
		"no reducer":     {geoms(t, pointJSON)[0], Params{Scale: 250}},
		"zero scale":     {geoms(t, pointJSON)[0], Params{Reducer: reducer.Mean}},
		"neg scale":      {geoms(t, pointJSON)[0], Params{Scale: -1, Reducer: reducer.Mean}},
		"bad member":     {geoms(t, `{"type":"Polygon","coordinates":"x"}`)[0], meanParams()},
		"open ring":      {geoms(t, `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1]]]}`)[0], meanParams()},
		"empty position": {geoms(t, `{"type":"Point","coordinates":[]}`)[0], meanParams()},
		"lon only":       {geoms(t, `{"type":"Point","coordinates":[7]}`)[0], meanParams()},
		"short ring pos": {geoms(t, `{"type":"Polygon","coordinates":[[[1],[2],[3],[1]]]}`)[0], meanParams()},
	}
	for name, c := range cases {
		_, err := ex.Extract(ctx, remote.Open("X"), c.g, c.p)
		if !apperr.Is(err, apperr.KindValidation) {
			t.Fatalf("%s: err=%v want validation", name, err)
		}
	}
	if n := ff.callCount(); n != 0 {
		t.Fatalf("remote called %d times for invalid input", n)
	}
}

func TestAssemble_MixedBatchKeepsIndexAssociation(t *testing.T) {
	ff := &fakeFetcher{samples: []remote.Sample{{TimeMillis: 1591142400000, Value: fv(0.3)}}}
	a := NewAssembler(NewExtractor(ff, quiet()), 1, quiet())

	in := geoms(t, polyJSON, lineJSON, pointJSON, lineJSON)
	tbl, fails, err := a.Assemble(context.Background(), remote.Open("X"), in, meanParams(), "NDVI")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(tbl.Groups)+len(fails) != len(in) {
		t.Fatalf("groups=%d failures=%d input=%d", len(tbl.Groups), len(fails), len(in))
	}
	if len(tbl.Groups) != 2 || tbl.Groups[0].GeometryIndex != 0 || tbl.Groups[1].GeometryIndex != 2 {
		t.Fatalf("groups=%+v", tbl.Groups)
	}
	if len(fails) != 2 || fails[0].GeometryIndex != 1 || fails[1].GeometryIndex != 3 || fails[0].GeometryType != "LineString" {
		t.Fatalf("failures=%+v", fails)
	}
	if tbl.Columns[0] != ColumnTime || tbl.Columns[1] != "NDVI" {
		t.Fatalf("columns=%v", tbl.Columns)
	}
	if ff.callCount() != 2 {
		t.Fatalf("remote calls=%d want 2", ff.callCount())
	}
}

func TestAssemble_RemoteFailureIsolatedPerGeometry(t *testing.T) {
	ff := &fakeFetcher{
		samples: []remote.Sample{{TimeMillis: 0, Value: fv(1)}},
		failWhen: func(req remote.SeriesRequest) error {
			if strings.Contains(string(req.Geometry), `"Point"`) {
				return apperr.Remote("remote.series", "Too many pixels", errors.New("status 400"))
			}
			return nil
		},
	}
	a := NewAssembler(NewExtractor(ff, quiet()), 1, quiet())
	tbl, fails, err := a.Assemble(context.Background(), remote.Open("X"), geoms(t, pointJSON, polyJSON), meanParams(), "NDVI")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(tbl.Groups) != 1 || tbl.Groups[0].GeometryIndex != 1 {
		t.Fatalf("groups=%+v", tbl.Groups)
	}
	if len(fails) != 1 || fails[0].Message != "Too many pixels" || !apperr.Is(fails[0].Err, apperr.KindRemote) {
		t.Fatalf("failures=%+v", fails)
	}
}

func TestAssemble_AllFailedSurfacesSingleError(t *testing.T) {
	a := NewAssembler(NewExtractor(&fakeFetcher{}, quiet()), 1, quiet())
	_, fails, err := a.Assemble(context.Background(), remote.Open("X"), geoms(t, lineJSON), meanParams(), "NDVI")
	if err == nil {
		t.Fatal("expected error when the only geometry fails")
	}
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err kind=%v", apperr.KindOf(err))
	}
	var be *BatchError
	if !errors.As(err, &be) || len(be.Failures) != 1 || len(fails) != 1 {
		t.Fatalf("batch error missing: %v", err)
	}
	if !strings.Contains(apperr.Public(err), "LineString") {
		t.Fatalf("public message should name the geometry problem: %q", apperr.Public(err))
	}
}

func TestAssemble_EmptyInput(t *testing.T) {
	a := NewAssembler(NewExtractor(&fakeFetcher{}, quiet()), 1, quiet())
	_, _, err := a.Assemble(context.Background(), remote.Open("X"), nil, meanParams(), "NDVI")
	if apperr.Public(err) != geometry.MsgDrawArea {
		t.Fatalf("err=%v", err)
	}
}

func TestAssemble_ParallelKeepsInputOrder(t *testing.T) {
	var inflight, peak atomic.Int32
	ff := &fakeFetcher{
		samples: []remote.Sample{{TimeMillis: 0, Value: fv(1)}},
		delay: func(req remote.SeriesRequest) time.Duration {
			n := inflight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			// earlier geometries finish last
			if strings.Contains(string(req.Geometry), "11") {
				time.Sleep(30 * time.Millisecond)
			} else {
				time.Sleep(time.Millisecond)
			}
			inflight.Add(-1)
			return 0
		},
	}
	a := NewAssembler(NewExtractor(ff, quiet()), 3, quiet())
	other := `{"type":"Point","coordinates":[20,40]}`
	in := geoms(t, pointJSON, other, other, other, other)
	tbl, fails, err := a.Assemble(context.Background(), remote.Open("X"), in, meanParams(), "NDVI")
	if err != nil || len(fails) != 0 {
		t.Fatalf("Assemble: err=%v fails=%v", err, fails)
	}
	for i, g := range tbl.Groups {
		if g.GeometryIndex != i {
			t.Fatalf("group %d has index %d", i, g.GeometryIndex)
		}
	}
	if peak.Load() > 3 {
		t.Fatalf("worker limit exceeded: %d", peak.Load())
	}
}

// Descriptor {X, NDVI}, June 2020, mean reducer, one polygon: the query has
// exactly a date filter and a band select, and the table has one group.
func TestEndToEnd_SinglePolygon(t *testing.T) {
	d := model.Descriptor{CollectionID: "X", IndexName: "NDVI", StartDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
	spec, err := query.NewBuilder(nil).Build(d, query.Params{
		From: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2020, 6, 30, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := spec.Kinds(); len(got) != 2 || got[0] != query.StageDateFilter || got[1] != query.StageBandSelect {
		t.Fatalf("stages=%v", got)
	}

	ff := &fakeFetcher{samples: []remote.Sample{{TimeMillis: 1591142400000, Value: fv(0.42)}}}
	a := NewAssembler(NewExtractor(ff, quiet()), 1, quiet())
	coll := remote.Apply(remote.Open(spec.CollectionID()), spec)
	tbl, fails, err := a.Assemble(context.Background(), coll, geoms(t, polyJSON), meanParams(), model.ValueLabel(d.IndexName))
	if err != nil || len(fails) != 0 {
		t.Fatalf("Assemble: %v %v", err, fails)
	}
	if len(tbl.Groups) != 1 || tbl.Columns[1] != "NDVI" || len(tbl.Groups[0].Rows) != 1 {
		t.Fatalf("table=%+v", tbl)
	}
	if got := ff.calls[0].Collection.Ops; len(got) != 2 || got[0].Op != remote.OpFilterDate || got[1].Op != remote.OpSelect {
		t.Fatalf("ops sent=%+v", got)
	}
}

func TestRoundTrip_MedianLabelReplacesUnderscores(t *testing.T) {
	ff := &fakeFetcher{samples: []remote.Sample{{TimeMillis: 1591142400000, Value: fv(0.2)}}}
	a := NewAssembler(NewExtractor(ff, quiet()), 1, quiet())
	p := Params{Band: "soil_moisture", Scale: 250, Reducer: reducer.Median}
	tbl, _, err := a.Assemble(context.Background(), remote.Open("X"), geoms(t, pointJSON), p, model.ValueLabel("soil_moisture"))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if tbl.Columns[1] != "soil moisture" || len(tbl.Groups[0].Rows) != 1 {
		t.Fatalf("table=%+v", tbl)
	}
}
