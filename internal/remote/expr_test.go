package remote

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/mohammed-shakir/eo-timeseries/internal/cloudmask"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/apperr"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/model"
	"github.com/mohammed-shakir/eo-timeseries/internal/query"
)

func buildSpec(t *testing.T, d model.Descriptor, p query.Params) query.Spec {
	t.Helper()
	s, err := query.NewBuilder(nil).Build(d, p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return s
}

func TestApply_FollowsStageOrderAndSkipsReduce(t *testing.T) {
	from := time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)
	s := buildSpec(t,
		model.Descriptor{CollectionID: "COPERNICUS/S2_SR", IndexName: "B4", CloudMask: "sentinel2_qa60"},
		query.Params{From: from, To: to, Reducer: "median"})

	c := Apply(Open(s.CollectionID()), s)
	if c.ID != "COPERNICUS/S2_SR" || len(c.Ops) != 3 {
		t.Fatalf("collection=%+v", c)
	}
	want := []string{OpFilterDate, OpSelect, OpMap}
	for i, op := range c.Ops {
		if op.Op != want[i] {
			t.Fatalf("op[%d]=%q want %q", i, op.Op, want[i])
		}
	}
	if c.Ops[0].Start != "2021-03-01" || c.Ops[0].End != "2021-04-01" {
		t.Fatalf("date op=%+v", c.Ops[0])
	}
	if c.Ops[2].Mask == nil || c.Ops[2].Mask.QABand != "QA60" {
		t.Fatalf("mask op=%+v", c.Ops[2])
	}
}

func TestComposite_RequiresReducer(t *testing.T) {
	s := buildSpec(t, model.Descriptor{CollectionID: "C", IndexName: "NDVI"}, query.Params{})
	if _, err := Composite(s); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err=%v want validation", err)
	}

	s = buildSpec(t, model.Descriptor{CollectionID: "C", IndexName: "NDVI"}, query.Params{Reducer: "max"})
	img, err := Composite(s)
	if err != nil {
		t.Fatalf("Composite: %v", err)
	}
	if img.Reducer != "max" || img.Source.ID != "C" || len(img.Source.Ops) != 1 {
		t.Fatalf("image=%+v", img)
	}
	b, err := json.Marshal(img)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"source":{"collection":"C","ops":[{"op":"select","bands":["NDVI"]}]},"reducer":"max"}` {
		t.Fatalf("wire form=%s", b)
	}
}

func TestCollection_MethodsDoNotAlias(t *testing.T) {
	base := Open("C").Select("B1")
	a := base.FilterDate("2020-01-01", "2020-02-01")
	b := base.Select("B2")
	if len(base.Ops) != 1 || a.Ops[1].Op != OpFilterDate || b.Ops[1].Op != OpSelect {
		t.Fatalf("aliasing between derived collections: base=%+v a=%+v b=%+v", base, a, b)
	}

	m, _ := cloudmask.Lookup("landsat8_sr")
	masked := base.Map(m)
	m.Tests[0].Bit = 42
	if masked.Ops[1].Mask.Tests[0].Bit == 42 {
		t.Fatal("mask tests aliased into the expression")
	}
}
