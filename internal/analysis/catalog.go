package analysis

import (
	"time"

	"github.com/mohammed-shakir/eo-timeseries/internal/core/model"
	"github.com/mohammed-shakir/eo-timeseries/internal/reducer"
)

// DefaultWindow is how far back the suggested start date lies.
const DefaultWindow = 30 * 24 * time.Hour

type ProductView struct {
	Name      string           `json:"name"`
	Display   string           `json:"display"`
	Index     string           `json:"index,omitempty"`
	StartDate string           `json:"start_date,omitempty"`
	EndDate   string           `json:"end_date,omitempty"`
	Vis       *model.VisParams `json:"vis_params,omitempty"`
}

type SensorView struct {
	Name     string        `json:"name"`
	Products []ProductView `json:"products"`
}

type PlatformView struct {
	Name    string       `json:"name"`
	Sensors []SensorView `json:"sensors"`
}

type ReducerView struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type CatalogView struct {
	Platforms []PlatformView `json:"platforms"`
	Reducers  []ReducerView  `json:"reducers"`
	StartDate string         `json:"default_start_date"`
	EndDate   string         `json:"default_end_date"`
}

// Catalog lists every product in catalog order together with the reducer
// choices and the default date window ending today.
func (s *Service) Catalog() CatalogView {
	end := s.now().UTC()
	out := CatalogView{
		StartDate: end.Add(-DefaultWindow).Format(model.DateLayout),
		EndDate:   end.Format(model.DateLayout),
	}
	for _, r := range reducer.All() {
		out.Reducers = append(out.Reducers, ReducerView{Value: r.String(), Label: r.Label()})
	}
	for _, p := range s.catalog.Platforms() {
		pv := PlatformView{Name: p}
		for _, sn := range s.catalog.Sensors(p) {
			sv := SensorView{Name: sn}
			for _, name := range s.catalog.Products(p, sn) {
				d, err := s.catalog.Resolve(p, sn, name)
				if err != nil {
					continue
				}
				sv.Products = append(sv.Products, productView(name, d))
			}
			pv.Sensors = append(pv.Sensors, sv)
		}
		out.Platforms = append(out.Platforms, pv)
	}
	return out
}

func productView(name string, d model.Descriptor) ProductView {
	v := ProductView{Name: name, Display: d.DisplayName, Index: d.IndexName, Vis: d.VisParams}
	if !d.StartDate.IsZero() {
		v.StartDate = d.StartDate.Format(model.DateLayout)
	}
	if !d.EndDate.IsZero() {
		v.EndDate = d.EndDate.Format(model.DateLayout)
	}
	return v
}
