// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used by the catalog and requests.
const DateLayout = "2006-01-02"

type ProductKey struct {
	Platform string
	Sensor   string
	Product  string
}

func (k ProductKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Platform, k.Sensor, k.Product)
}

type VisParams struct {
	Min     *float64 `json:"min,omitempty" yaml:"min"`
	Max     *float64 `json:"max,omitempty" yaml:"max"`
	Bands   []string `json:"bands,omitempty" yaml:"bands"`
	Palette []string `json:"palette,omitempty" yaml:"palette"`
}

func (v *VisParams) Clone() *VisParams {
	if v == nil {
		return nil
	}
	out := &VisParams{
		Bands:   slices.Clone(v.Bands),
		Palette: slices.Clone(v.Palette),
	}
	if v.Min != nil {
		m := *v.Min
		out.Min = &m
	}
	if v.Max != nil {
		m := *v.Max
		out.Max = &m
	}
	return out
}

// Descriptor describes one raster product in the catalog.
type Descriptor struct {
	Key          ProductKey
	CollectionID string
	IndexName    string
	VisParams    *VisParams
	CloudMask    string
	StartDate    time.Time
	EndDate      time.Time
	DisplayName  string
}

// Clone returns a deep copy so callers cannot reach catalog state.
func (d Descriptor) Clone() Descriptor {
	d.VisParams = d.VisParams.Clone()
	return d
}

// ValueLabel is the display label for a raw band or index name.
func ValueLabel(index string) string {
	return strings.ReplaceAll(index, "_", " ")
}

// Point is one acquisition of a series. Value is nil when the reduction
// produced no data for that image.
type Point struct {
	Time  time.Time
	Value *float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Time.UTC().Format(time.RFC3339), p.Value})
}
