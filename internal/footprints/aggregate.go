package footprints

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/osgeonepal/obe/internal/core/model"
)

// Aggregate merges partition results, in the order given, into one
// collection. Records are normalized to schema and, when schema.Key is set,
// only the first record per key is kept, unless schema.MergeFragments is set,
// in which case later polygons are merged into the first record's geometry.
// Records with no key value are never dropped.
func Aggregate(source string, schema model.Schema, results []PartitionResult) *model.ResultCollection {
	out := model.NewResultCollection(source, schema)
	var seen map[string]int
	if schema.Key != "" {
		seen = make(map[string]int)
	}
	for _, pr := range results {
		for _, r := range pr.Records {
			n := schema.Normalize(r)
			if seen != nil {
				if v := n.Properties[schema.Key]; v != nil {
					k := fmt.Sprint(v)
					if i, dup := seen[k]; dup {
						if schema.MergeFragments {
							first := &out.Records[i]
							first.Geometry = mergePolygons(first.Geometry, n.Geometry)
						}
						continue
					}
					seen[k] = len(out.Records)
				}
			}
			out.Append(n)
		}
	}
	return out
}

// mergePolygons joins the polygonal parts of a and b. Anything else in b is
// ignored; a non-polygonal a is returned unchanged.
func mergePolygons(a, b orb.Geometry) orb.Geometry {
	pa, ok := polygons(a)
	if !ok {
		return a
	}
	pb, ok := polygons(b)
	if !ok || len(pb) == 0 {
		return a
	}
	mp := make(orb.MultiPolygon, 0, len(pa)+len(pb))
	mp = append(mp, pa...)
	return append(mp, pb...)
}

func polygons(g orb.Geometry) ([]orb.Polygon, bool) {
	switch v := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{v}, true
	case orb.MultiPolygon:
		return v, true
	default:
		return nil, false
	}
}
