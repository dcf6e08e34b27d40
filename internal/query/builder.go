package query

import (
	"strings"
	"time"

	"github.com/mohammed-shakir/eo-timeseries/internal/cloudmask"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/apperr"
	"github.com/mohammed-shakir/eo-timeseries/internal/core/model"
	"github.com/mohammed-shakir/eo-timeseries/internal/reducer"
)

type MaskLookup func(name string) (cloudmask.Mask, bool)

type Params struct {
	From    time.Time
	To      time.Time
	Reducer string
	Index   string
}

type Builder struct {
	masks MaskLookup
}

func NewBuilder(masks MaskLookup) *Builder {
	if masks == nil {
		masks = cloudmask.Lookup
	}
	return &Builder{masks: masks}
}

// Build composes a Spec for the descriptor. Optional inputs that are absent
// omit exactly their stage. An unknown cloud mask is skipped; an unknown
// reducer is rejected.
func (b *Builder) Build(d model.Descriptor, p Params) (Spec, error) {
	const op = "query.Build"
	if strings.TrimSpace(d.CollectionID) == "" {
		return Spec{}, apperr.Validation(op, "product has no collection")
	}
	s := Spec{collectionID: d.CollectionID, stages: make([]Stage, 0, 4)}

	if !p.From.IsZero() && !p.To.IsZero() {
		if !p.From.Before(p.To) {
			return Spec{}, apperr.Validationf(op, "start date %s must be before end date %s",
				p.From.Format(model.DateLayout), p.To.Format(model.DateLayout))
		}
		s.stages = append(s.stages, Stage{Kind: StageDateFilter, From: p.From, To: p.To})
	}

	band := strings.TrimSpace(p.Index)
	if band == "" {
		band = d.IndexName
	}
	if band != "" {
		s.stages = append(s.stages, Stage{Kind: StageBandSelect, Band: band})
	}

	if d.CloudMask != "" {
		if m, ok := b.masks(d.CloudMask); ok {
			s.stages = append(s.stages, Stage{Kind: StageCloudMask, Mask: m})
		}
	}

	if name := strings.TrimSpace(p.Reducer); name != "" {
		r, err := reducer.Parse(name)
		if err != nil {
			return Spec{}, apperr.Wrap(op, err)
		}
		s.stages = append(s.stages, Stage{Kind: StageReduce, Reducer: r})
	}
	return s, nil
}
