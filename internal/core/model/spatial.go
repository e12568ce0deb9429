package model

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Contains reports whether p lies in any AOI polygon, boundary included.
func (a *AreaOfInterest) Contains(p orb.Point) bool {
	if !a.bound.Contains(p) {
		return false
	}
	for _, poly := range a.polygons {
		if planar.PolygonContains(poly, p) {
			return true
		}
	}
	return false
}

// Intersects reports whether g shares at least one point with the AOI.
func (a *AreaOfInterest) Intersects(g orb.Geometry) bool {
	if g == nil || !a.bound.Intersects(g.Bound()) {
		return false
	}
	switch v := g.(type) {
	case orb.Point:
		return a.Contains(v)
	case orb.MultiPoint:
		for _, p := range v {
			if a.Contains(p) {
				return true
			}
		}
	case orb.Bound:
		return a.intersectsPolygon(v.ToPolygon())
	case orb.Ring:
		return a.intersectsPolygon(orb.Polygon{v})
	case orb.Polygon:
		return a.intersectsPolygon(v)
	case orb.MultiPolygon:
		for _, p := range v {
			if a.intersectsPolygon(p) {
				return true
			}
		}
	case orb.LineString:
		return a.intersectsLine(v)
	case orb.MultiLineString:
		for _, ls := range v {
			if a.intersectsLine(ls) {
				return true
			}
		}
	case orb.Collection:
		for _, c := range v {
			if a.Intersects(c) {
				return true
			}
		}
	}
	return false
}

func (a *AreaOfInterest) intersectsPolygon(p orb.Polygon) bool {
	for _, ap := range a.polygons {
		if PolygonsIntersect(ap, p) {
			return true
		}
	}
	return false
}

func (a *AreaOfInterest) intersectsLine(ls orb.LineString) bool {
	for _, p := range ls {
		if a.Contains(p) {
			return true
		}
	}
	for _, ap := range a.polygons {
		for _, r := range ap {
			if pathsCross(r, ls) {
				return true
			}
		}
	}
	return false
}

// PolygonsIntersect is a planar test for two polygons with holes: either
// polygon has a vertex inside the other, or any pair of edges crosses.
func PolygonsIntersect(a, b orb.Polygon) bool {
	if len(a) == 0 || len(b) == 0 || !a.Bound().Intersects(b.Bound()) {
		return false
	}
	for _, p := range b[0] {
		if planar.PolygonContains(a, p) {
			return true
		}
	}
	for _, p := range a[0] {
		if planar.PolygonContains(b, p) {
			return true
		}
	}
	for _, ra := range a {
		for _, rb := range b {
			if pathsCross(ra, rb) {
				return true
			}
		}
	}
	return false
}

func pathsCross[A, B ~[]orb.Point](a A, b B) bool {
	for i := 1; i < len(a); i++ {
		for j := 1; j < len(b); j++ {
			if segmentsIntersect(a[i-1], a[i], b[j-1], b[j]) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := orient(q1, q2, p1)
	d2 := orient(q1, q2, p2)
	d3 := orient(p1, p2, q1)
	d4 := orient(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}

func orient(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

func onSegment(a, b, p orb.Point) bool {
	return min(a[0], b[0]) <= p[0] && p[0] <= max(a[0], b[0]) &&
		min(a[1], b[1]) <= p[1] && p[1] <= max(a[1], b[1])
}

// ValidGeometry rejects nil geometries and polygons without a usable shell.
func ValidGeometry(g orb.Geometry) bool {
	switch v := g.(type) {
	case nil:
		return false
	case orb.Point:
		return true
	case orb.Polygon:
		return len(v) > 0 && len(v[0]) >= 4
	case orb.MultiPolygon:
		if len(v) == 0 {
			return false
		}
		for _, p := range v {
			if !ValidGeometry(p) {
				return false
			}
		}
		return true
	default:
		return true
	}
}
