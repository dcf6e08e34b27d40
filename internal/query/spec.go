// Package query composes the ordered stages applied to a remote image
// collection: DateFilter -> BandSelect -> CloudMask -> Reduce.
package query

import (
	"slices"
	"time"

	"github.com/mohammed-shakir/eo-timeseries/internal/cloudmask"
	"github.com/mohammed-shakir/eo-timeseries/internal/reducer"
)

type StageKind int

const (
	StageDateFilter StageKind = iota + 1
	StageBandSelect
	StageCloudMask
	StageReduce
)

func (k StageKind) String() string {
	switch k {
	case StageDateFilter:
		return "date_filter"
	case StageBandSelect:
		return "band_select"
	case StageCloudMask:
		return "cloud_mask"
	case StageReduce:
		return "reduce"
	default:
		return "unknown"
	}
}

// Stage carries only the fields relevant to its Kind.
type Stage struct {
	Kind    StageKind
	From    time.Time // inclusive
	To      time.Time // exclusive
	Band    string
	Mask    cloudmask.Mask
	Reducer reducer.Reducer
}

// Spec is immutable once built; accessors hand out copies.
type Spec struct {
	collectionID string
	stages       []Stage
}

func (s Spec) CollectionID() string { return s.collectionID }

func (s Spec) Stages() []Stage {
	out := slices.Clone(s.stages)
	for i := range out {
		out[i].Mask.Tests = slices.Clone(out[i].Mask.Tests)
	}
	return out
}

func (s Spec) Kinds() []StageKind {
	out := make([]StageKind, len(s.stages))
	for i, st := range s.stages {
		out[i] = st.Kind
	}
	return out
}

// Band returns the selected band, if a BandSelect stage exists.
func (s Spec) Band() (string, bool) {
	for _, st := range s.stages {
		if st.Kind == StageBandSelect {
			return st.Band, true
		}
	}
	return "", false
}

func (s Spec) Reducer() (reducer.Reducer, bool) {
	if n := len(s.stages); n > 0 && s.stages[n-1].Kind == StageReduce {
		return s.stages[n-1].Reducer, true
	}
	return 0, false
}

// WithoutReduce drops the terminal collection collapse. The time-series path
// reduces each image spatially instead.
func (s Spec) WithoutReduce() Spec {
	if _, ok := s.Reducer(); !ok {
		return s
	}
	return Spec{collectionID: s.collectionID, stages: slices.Clone(s.stages[:len(s.stages)-1])}
}
