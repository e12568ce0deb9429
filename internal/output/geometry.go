package output

import (
	"github.com/paulmach/orb"

	"github.com/osgeonepal/obe/internal/core/model"
)

type layerKind int

const (
	kindPoint layerKind = iota
	kindPolygon
	kindMultiPolygon
)

func (k layerKind) String() string {
	switch k {
	case kindPoint:
		return "Point"
	case kindMultiPolygon:
		return "MultiPolygon"
	default:
		return "Polygon"
	}
}

// kindOf picks the single geometry type of a layer. A polygon layer with at
// least one multipolygon is written as MultiPolygon throughout.
func kindOf(c *model.ResultCollection) layerKind {
	if c.Schema.Geometry == model.GeometryPoint {
		return kindPoint
	}
	for _, r := range c.Records {
		if _, ok := r.Geometry.(orb.MultiPolygon); ok {
			return kindMultiPolygon
		}
	}
	return kindPolygon
}

// conform converts g to the layer kind. ok is false for geometries the
// layer cannot hold.
func conform(g orb.Geometry, k layerKind) (orb.Geometry, bool) {
	switch k {
	case kindPoint:
		switch v := g.(type) {
		case orb.Point:
			return v, true
		case nil:
			return nil, false
		default:
			return g.Bound().Center(), true
		}
	case kindMultiPolygon:
		switch v := g.(type) {
		case orb.Polygon:
			return orb.MultiPolygon{v}, true
		case orb.MultiPolygon:
			return v, true
		}
	default:
		switch v := g.(type) {
		case orb.Polygon:
			return v, true
		case orb.Ring:
			return orb.Polygon{v}, true
		case orb.Bound:
			return v.ToPolygon(), true
		}
	}
	return nil, false
}

// geometryTypes lists the distinct GeoJSON type names present in c.
func geometryTypes(c *model.ResultCollection) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range c.Records {
		if r.Geometry == nil {
			continue
		}
		n := r.Geometry.GeoJSONType()
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
