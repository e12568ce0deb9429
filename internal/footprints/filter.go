package footprints

import (
	"github.com/paulmach/orb"

	"github.com/osgeonepal/obe/internal/core/model"
)

// Keep reports whether r belongs to the AOI. Points must fall inside an AOI
// polygon; every other geometry must intersect one.
func Keep(a *model.AreaOfInterest, r model.BuildingRecord) bool {
	if !model.ValidGeometry(r.Geometry) {
		return false
	}
	switch g := r.Geometry.(type) {
	case orb.Point:
		return a.Contains(g)
	case orb.MultiPoint:
		for _, p := range g {
			if a.Contains(p) {
				return true
			}
		}
		return false
	default:
		return a.Intersects(g)
	}
}

// Filter returns the records of recs kept by Keep, in their original order.
// recs is not modified.
func Filter(a *model.AreaOfInterest, recs []model.BuildingRecord) []model.BuildingRecord {
	out := make([]model.BuildingRecord, 0, len(recs))
	for _, r := range recs {
		if Keep(a, r) {
			out = append(out, r)
		}
	}
	return out
}
