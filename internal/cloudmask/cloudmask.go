// Package cloudmask holds the fixed set of per-image cloud masks. Each mask is
// a QA band plus bit tests; a pixel is kept when every test matches.
package cloudmask

import (
	"slices"
	"strings"
)

type Kind int

const (
	LandsatSR Kind = iota + 1
	Sentinel2QA60
	ModisState
)

type BitTest struct {
	Bit   uint `json:"bit"`
	Width uint `json:"width"`
	Keep  uint `json:"keep"`
}

// Mask is serialized as-is into the remote expression.
type Mask struct {
	Kind   Kind      `json:"-"`
	Name   string    `json:"name"`
	QABand string    `json:"qa_band"`
	Tests  []BitTest `json:"tests"`
}

var masks = []Mask{
	{
		Kind:   LandsatSR,
		Name:   "landsat8_sr",
		QABand: "pixel_qa",
		// cloud shadow (bit 3) and cloud (bit 5) must be unset
		Tests: []BitTest{{Bit: 3, Width: 1, Keep: 0}, {Bit: 5, Width: 1, Keep: 0}},
	},
	{
		Kind:   Sentinel2QA60,
		Name:   "sentinel2_qa60",
		QABand: "QA60",
		// opaque clouds (bit 10) and cirrus (bit 11)
		Tests: []BitTest{{Bit: 10, Width: 1, Keep: 0}, {Bit: 11, Width: 1, Keep: 0}},
	},
	{
		Kind:   ModisState,
		Name:   "modis_state_1km",
		QABand: "state_1km",
		// cloud state 00 = clear, bit 2 = cloud shadow
		Tests: []BitTest{{Bit: 0, Width: 2, Keep: 0}, {Bit: 2, Width: 1, Keep: 0}},
	},
}

// Lookup finds a mask by its catalog name.
func Lookup(name string) (Mask, bool) {
	n := strings.TrimSpace(name)
	for _, m := range masks {
		if m.Name == n {
			return m.clone(), true
		}
	}
	return Mask{}, false
}

func Names() []string {
	out := make([]string, 0, len(masks))
	for _, m := range masks {
		out = append(out, m.Name)
	}
	return out
}

func (m Mask) clone() Mask {
	m.Tests = slices.Clone(m.Tests)
	return m
}

// Clear evaluates the mask against a QA value.
func (m Mask) Clear(qa uint32) bool {
	for _, t := range m.Tests {
		field := (qa >> t.Bit) & (1<<t.Width - 1)
		if field != uint32(t.Keep) {
			return false
		}
	}
	return true
}
