// Package model defines core domain types shared across the extractor.
package model

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// CRS of every geometry handled by the extractor (lon/lat).
const CRS = "EPSG:4326"

// AreaOfInterest is an immutable set of polygons in EPSG:4326.
type AreaOfInterest struct {
	polygons []orb.Polygon
	bound    orb.Bound
}

// NewAreaOfInterest validates and copies polys. Open rings are closed;
// rings with fewer than four positions or a zero-area bound are rejected.
func NewAreaOfInterest(polys []orb.Polygon) (*AreaOfInterest, error) {
	if len(polys) == 0 {
		return nil, fmt.Errorf("%w: no polygons", ErrInvalidInputKind)
	}
	out := make([]orb.Polygon, 0, len(polys))
	for i, p := range polys {
		if len(p) == 0 {
			return nil, fmt.Errorf("%w: polygon %d has no rings", ErrInvalidInputKind, i)
		}
		cp := make(orb.Polygon, 0, len(p))
		for j, r := range p {
			ring := closeRing(r)
			if len(ring) < 4 {
				return nil, fmt.Errorf("%w: polygon %d ring %d has %d positions", ErrInvalidInputKind, i, j, len(ring))
			}
			cp = append(cp, ring)
		}
		b := cp.Bound()
		if b.Max.X() <= b.Min.X() || b.Max.Y() <= b.Min.Y() {
			return nil, fmt.Errorf("%w: polygon %d is degenerate", ErrInvalidInputKind, i)
		}
		out = append(out, cp)
	}

	bound := out[0].Bound()
	for _, p := range out[1:] {
		bound = bound.Union(p.Bound())
	}
	return &AreaOfInterest{polygons: out, bound: bound}, nil
}

func closeRing(r orb.Ring) orb.Ring {
	cp := append(orb.Ring(nil), r...)
	if len(cp) > 0 && !cp.Closed() {
		cp = append(cp, cp[0])
	}
	return cp
}

// Polygons returns the AOI polygons. Callers must not modify them.
func (a *AreaOfInterest) Polygons() []orb.Polygon { return a.polygons }

// Bound is the total bounds of all polygons (minx, miny, maxx, maxy).
func (a *AreaOfInterest) Bound() orb.Bound { return a.bound }

func (a *AreaOfInterest) CRS() string { return CRS }

// MultiPolygon returns a copy of the AOI as a single geometry.
func (a *AreaOfInterest) MultiPolygon() orb.MultiPolygon {
	mp := make(orb.MultiPolygon, len(a.polygons))
	for i, p := range a.polygons {
		mp[i] = p.Clone()
	}
	return mp
}

// PartitionDescriptor is one remotely addressable unit of a source dataset.
type PartitionDescriptor struct {
	// ID is stable across invocations: tile url, quadkey, h3 cell, z/x/y.
	ID       string
	URL      string
	Coverage orb.Geometry
	// Extent is the AOI bound clipped to Coverage. Adapters may skip payload
	// rows outside it before the exact filter runs.
	Extent orb.Bound
	Meta   map[string]string
}

type BuildingRecord struct {
	Geometry   orb.Geometry
	Properties map[string]any
}

// Feature converts the record to a GeoJSON feature.
func (r BuildingRecord) Feature() *geojson.Feature {
	f := geojson.NewFeature(r.Geometry)
	for k, v := range r.Properties {
		f.Properties[k] = v
	}
	return f
}

// ResultCollection is the merged output of one retrieval. An empty
// collection still carries its schema and CRS.
type ResultCollection struct {
	Source  string
	Schema  Schema
	CRS     string
	Records []BuildingRecord
}

func NewResultCollection(source string, schema Schema) *ResultCollection {
	return &ResultCollection{Source: source, Schema: schema, CRS: CRS, Records: []BuildingRecord{}}
}

func (c *ResultCollection) Len() int { return len(c.Records) }

func (c *ResultCollection) Append(r BuildingRecord) { c.Records = append(c.Records, r) }

// Bound returns the bounds of all record geometries; ok is false when empty.
func (c *ResultCollection) Bound() (orb.Bound, bool) {
	if len(c.Records) == 0 {
		return orb.Bound{}, false
	}
	b := c.Records[0].Geometry.Bound()
	for _, r := range c.Records[1:] {
		b = b.Union(r.Geometry.Bound())
	}
	return b, true
}

// FeatureCollection renders the collection as GeoJSON. Every feature
// carries every schema field so an empty or sparse result keeps its columns.
func (c *ResultCollection) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Features = make([]*geojson.Feature, 0, len(c.Records))
	for _, r := range c.Records {
		f := r.Feature()
		for _, fld := range c.Schema.Fields {
			if _, ok := f.Properties[fld.Name]; !ok {
				f.Properties[fld.Name] = nil
			}
		}
		fc.Append(f)
	}
	return fc
}
