// Package hotness scores how often an area of interest is requested.
package hotness

// Interface is keyed by area, normally the H3 cell holding a geometry's
// centroid.
type Interface interface {
	Inc(area string)
	Score(area string) float64
	Reset(areas ...string)
}

// IsHot reports whether area has reached threshold. A threshold <= 0 means
// nothing is ever hot.
func IsHot(h Interface, area string, threshold float64) bool {
	if h == nil || threshold <= 0 || area == "" {
		return false
	}
	return h.Score(area) >= threshold
}
