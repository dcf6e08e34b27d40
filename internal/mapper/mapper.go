// Package mapper maps geometries onto H3 cells.
package mapper

import "github.com/paulmach/orb"

type Interface interface {
	// AreaOf names the cell at res that holds g's centroid.
	AreaOf(g orb.Geometry, res int) (string, error)
}
