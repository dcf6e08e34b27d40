// Package geometry decodes the caller's GeoJSON area of interest into the
// individual shapes a time series is computed over.
package geometry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/eo-timeseries/internal/core/apperr"
)

// MsgDrawArea is returned when the request carries no usable geometry input.
const MsgDrawArea = "Please draw an area of interest."

const (
	TypePoint              = "Point"
	TypePolygon            = "Polygon"
	TypeGeometryCollection = "GeometryCollection"
	TypeFeature            = "Feature"
	TypeFeatureCollection  = "FeatureCollection"
)

// Geometry is one member of the input collection. A member that could not be
// decoded keeps its index and type so the failure can be reported against it.
type Geometry struct {
	Index int
	Type  string
	Shape orb.Geometry
	err   error
}

type envelope struct {
	Type       string            `json:"type"`
	Geometries []json.RawMessage `json:"geometries"`
	Features   []json.RawMessage `json:"features"`
	Geometry   json.RawMessage   `json:"geometry"`
}

// ParseCollection splits a GeometryCollection into its members. A bare
// geometry, a Feature or a FeatureCollection is accepted too. Members are
// decoded independently; a broken member does not fail the collection.
func ParseCollection(b []byte) ([]Geometry, error) {
	const op = "geometry.ParseCollection"
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, apperr.Validation(op, MsgDrawArea)
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, &apperr.Error{Kind: apperr.KindValidation, Op: op, Msg: MsgDrawArea, Err: err}
	}

	var members []json.RawMessage
	switch env.Type {
	case TypeGeometryCollection:
		members = env.Geometries
	case TypeFeatureCollection:
		for _, f := range env.Features {
			var fe envelope
			if err := json.Unmarshal(f, &fe); err != nil {
				members = append(members, f)
				continue
			}
			members = append(members, fe.Geometry)
		}
	case TypeFeature:
		members = []json.RawMessage{env.Geometry}
	case "":
		return nil, apperr.Validation(op, MsgDrawArea)
	default:
		members = []json.RawMessage{b}
	}
	if len(members) == 0 {
		return nil, apperr.Validation(op, MsgDrawArea)
	}

	out := make([]Geometry, len(members))
	for i, raw := range members {
		out[i] = decodeMember(i, raw)
	}
	return out, nil
}

func decodeMember(i int, raw json.RawMessage) Geometry {
	g := Geometry{Index: i}
	var head struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.Type == "" {
		g.Type = "unknown"
		g.err = apperr.Validationf("geometry.decode", "geometry %d is not valid GeoJSON", i)
		return g
	}
	g.Type = head.Type
	if depth, ok := positionDepth[head.Type]; ok {
		coords := head.Coordinates
		if len(coords) == 0 {
			coords = json.RawMessage("null")
		}
		if err := checkPositions(coords, depth); err != nil {
			g.err = apperr.Validationf("geometry.decode", "geometry %d (%s): %v", i, head.Type, err)
			return g
		}
	}
	gg, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		g.err = &apperr.Error{
			Kind: apperr.KindValidation,
			Op:   "geometry.decode",
			Msg:  fmt.Sprintf("geometry %d (%s) could not be decoded", i, head.Type),
			Err:  err,
		}
		return g
	}
	g.Shape = gg.Geometry()
	return g
}

// positionDepth is how many array levels wrap each position.
var positionDepth = map[string]int{
	TypePoint:   0,
	TypePolygon: 2,
}

// checkPositions requires every position under raw to hold at least a
// longitude and a latitude. Decoding alone would fill missing values with 0.
func checkPositions(raw json.RawMessage, depth int) error {
	if depth == 0 {
		var pos []float64
		if err := json.Unmarshal(raw, &pos); err != nil {
			return fmt.Errorf("position must be an array of numbers")
		}
		if len(pos) < 2 {
			return fmt.Errorf("position needs longitude and latitude, got %d values", len(pos))
		}
		for _, v := range pos {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("position values must be finite")
			}
		}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("coordinates must be nested arrays")
	}
	for _, it := range items {
		if err := checkPositions(it, depth-1); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports whether the geometry can be sent to the remote service.
// Only points and polygons with closed rings of at least four positions
// are accepted.
func (g Geometry) Validate() error {
	const op = "geometry.Validate"
	if g.err != nil {
		return g.err
	}
	switch s := g.Shape.(type) {
	case orb.Point:
		return nil
	case orb.Polygon:
		if len(s) == 0 {
			return apperr.Validationf(op, "polygon %d has no rings", g.Index)
		}
		for r, ring := range s {
			if len(ring) < 4 {
				return apperr.Validationf(op, "polygon %d ring %d needs at least 4 positions", g.Index, r)
			}
			if !ring.Closed() {
				return apperr.Validationf(op, "polygon %d ring %d is not closed", g.Index, r)
			}
		}
		return nil
	default:
		return apperr.Validationf(op, "unsupported geometry type %s; only %s and %s are accepted",
			g.Type, TypePoint, TypePolygon)
	}
}

// GeoJSON encodes the decoded shape in canonical form.
func (g Geometry) GeoJSON() (json.RawMessage, error) {
	if g.Shape == nil {
		return nil, fmt.Errorf("geometry %d has no shape", g.Index)
	}
	b, err := geojson.NewGeometry(g.Shape).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode geometry %d: %w", g.Index, err)
	}
	return b, nil
}

// Centroid is the planar centroid in lon/lat.
func (g Geometry) Centroid() (orb.Point, bool) {
	if g.Shape == nil {
		return orb.Point{}, false
	}
	c, _ := planar.CentroidArea(g.Shape)
	return c, true
}

// Label is a short human identifier used in logs and failure reports.
func (g Geometry) Label() string {
	return fmt.Sprintf("%s #%d", strings.TrimSpace(g.Type), g.Index)
}
