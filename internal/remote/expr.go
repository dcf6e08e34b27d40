// Package remote is the client side of the remote compute service. Collections
// and images are lazy expressions; nothing is evaluated until a Service call
// sends them.
package remote

import (
	"slices"

	"github.com/mohammed-shakir/eo-timeseries/internal/cloudmask"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/apperr"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/model"
	"github.com/mohammed-shakir/eo-timeseries/internal/query"
	"github.com/mohammed-shakir/eo-timeseries/internal/reducer"
)

const (
	OpFilterDate = "filterDate"
	OpSelect     = "select"
	OpMap        = "map"
)

type Op struct {
	Op    string          `json:"op"`
	Start string          `json:"start,omitempty"`
	End   string          `json:"end,omitempty"`
	Bands []string        `json:"bands,omitempty"`
	Mask  *cloudmask.Mask `json:"mask,omitempty"`
}

// Collection references a server-side image collection plus the operations
// to apply to it, in order. Methods return new values.
type Collection struct {
	ID  string `json:"collection"`
	Ops []Op   `json:"ops"`
}

// Image is a whole collection collapsed into one composite.
type Image struct {
	Source  Collection `json:"source"`
	Reducer string     `json:"reducer"`
}

func Open(id string) Collection {
	return Collection{ID: id, Ops: []Op{}}
}

func (c Collection) with(op Op) Collection {
	ops := make([]Op, 0, len(c.Ops)+1)
	ops = append(ops, c.Ops...)
	return Collection{ID: c.ID, Ops: append(ops, op)}
}

// FilterDate keeps images acquired in [from, to).
func (c Collection) FilterDate(from, to string) Collection {
	return c.with(Op{Op: OpFilterDate, Start: from, End: to})
}

func (c Collection) Select(bands ...string) Collection {
	return c.with(Op{Op: OpSelect, Bands: slices.Clone(bands)})
}

func (c Collection) Map(m cloudmask.Mask) Collection {
	mm := m
	mm.Tests = slices.Clone(m.Tests)
	return c.with(Op{Op: OpMap, Mask: &mm})
}

func (c Collection) Reduce(r reducer.Reducer) Image {
	return Image{Source: c.clone(), Reducer: r.String()}
}

func (c Collection) clone() Collection {
	out := Collection{ID: c.ID, Ops: make([]Op, len(c.Ops))}
	for i, op := range c.Ops {
		op.Bands = slices.Clone(op.Bands)
		if op.Mask != nil {
			m := *op.Mask
			m.Tests = slices.Clone(op.Mask.Tests)
			op.Mask = &m
		}
		out.Ops[i] = op
	}
	return out
}

// Apply runs every non-collapsing stage of s against the collection handle,
// in stage order. A Reduce stage is ignored here.
func Apply(c Collection, s query.Spec) Collection {
	for _, st := range s.Stages() {
		switch st.Kind {
		case query.StageDateFilter:
			c = c.FilterDate(st.From.Format(model.DateLayout), st.To.Format(model.DateLayout))
		case query.StageBandSelect:
			c = c.Select(st.Band)
		case query.StageCloudMask:
			c = c.Map(st.Mask)
		}
	}
	return c
}

// Composite applies s and collapses the result with its terminal reducer.
func Composite(s query.Spec) (Image, error) {
	r, ok := s.Reducer()
	if !ok {
		return Image{}, apperr.Validation("remote.Composite", "a reducer is required to build a composite image")
	}
	return Apply(Open(s.CollectionID()), s).Reduce(r), nil
}
