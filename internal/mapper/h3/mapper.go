package h3mapper

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/eo-timeseries/internal/mapper"
)

type Mapper struct{}

var _ mapper.Interface = (*Mapper)(nil)

func New() *Mapper { return &Mapper{} }

// Cell returns the cell at res containing p (lon, lat in degrees).
func (m *Mapper) Cell(p orb.Point, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	lng, lat := p.Lon(), p.Lat()
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return "", fmt.Errorf("coordinate out of range: lon=%g lat=%g", lng, lat)
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

func (m *Mapper) AreaOf(g orb.Geometry, res int) (string, error) {
	switch v := g.(type) {
	case nil:
		return "", errors.New("nil geometry")
	case orb.Point:
		return m.Cell(v, res)
	case orb.Polygon:
		if len(v) == 0 || len(v[0]) < 4 {
			return "", errors.New("outer ring has < 4 vertices")
		}
		c, area := planar.CentroidArea(v)
		if area == 0 {
			// degenerate ring: fall back to the middle of its bounds
			c = v.Bound().Center()
		}
		return m.Cell(c, res)
	default:
		return "", fmt.Errorf("unsupported geometry type: %s", g.GeoJSONType())
	}
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}
