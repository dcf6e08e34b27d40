// Package reducer enumerates the aggregation strategies the remote service
// understands. Names outside the enumeration are rejected.
package reducer

import (
	"strings"

	"github.com/mohammed-shakir/eo-timeseries/internal/core/apperr"
)

type Reducer int

const (
	Median Reducer = iota + 1
	Mosaic
	Mode
	Mean
	Min
	Max
	Sum
	Count
	Product
)

var all = []Reducer{Median, Mosaic, Mode, Mean, Min, Max, Sum, Count, Product}

var names = map[Reducer]string{
	Median:  "median",
	Mosaic:  "mosaic",
	Mode:    "mode",
	Mean:    "mean",
	Min:     "min",
	Max:     "max",
	Sum:     "sum",
	Count:   "count",
	Product: "product",
}

var labels = map[Reducer]string{
	Median:  "Median",
	Mosaic:  "Mosaic",
	Mode:    "Mode",
	Mean:    "Mean",
	Min:     "Minimum",
	Max:     "Maximum",
	Sum:     "Sum",
	Count:   "Count",
	Product: "Product",
}

// All returns the reducers in the order they are offered to users.
func All() []Reducer {
	out := make([]Reducer, len(all))
	copy(out, all)
	return out
}

func Parse(name string) (Reducer, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, r := range all {
		if names[r] == n {
			return r, nil
		}
	}
	return 0, apperr.Validationf("reducer.Parse", "unsupported reducer %q", name)
}

func (r Reducer) String() string {
	if s, ok := names[r]; ok {
		return s
	}
	return "unknown"
}

func (r Reducer) Label() string {
	return labels[r]
}

// Spatial reports whether r can aggregate the pixels of one image inside a
// geometry. Mosaic only has meaning when stacking a collection.
func (r Reducer) Spatial() bool {
	return r != Mosaic && r.Valid()
}

func (r Reducer) Valid() bool {
	_, ok := names[r]
	return ok
}

func (r Reducer) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
