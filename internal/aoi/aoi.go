// Package aoi turns user input into a validated AreaOfInterest.
package aoi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/osgeonepal/obe/internal/core/model"
)

// Load accepts a path to a GeoJSON file, GeoJSON text, raw GeoJSON bytes, a
// decoded map, an orb geometry or a *geojson.FeatureCollection.
func Load(input any) (*model.AreaOfInterest, error) {
	switch v := input.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil input", model.ErrInvalidInputKind)
	case *model.AreaOfInterest:
		if v == nil {
			return nil, fmt.Errorf("%w: nil area of interest", model.ErrInvalidInputKind)
		}
		return v, nil
	case string:
		if s := strings.TrimSpace(v); strings.HasPrefix(s, "{") {
			return Parse([]byte(s))
		}
		return LoadFile(v)
	case []byte:
		return Parse(v)
	case json.RawMessage:
		return Parse(v)
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidInputKind, err)
		}
		return Parse(b)
	case *geojson.FeatureCollection:
		return FromFeatureCollection(v)
	case geojson.FeatureCollection:
		return FromFeatureCollection(&v)
	case *geojson.Feature:
		if v == nil {
			return nil, fmt.Errorf("%w: nil feature", model.ErrInvalidInputKind)
		}
		return fromGeometries([]orb.Geometry{v.Geometry})
	case orb.Geometry:
		return fromGeometries([]orb.Geometry{v})
	default:
		return nil, fmt.Errorf("%w: unsupported input %T", model.ErrInvalidInputKind, input)
	}
}

// LoadFile reads a .geojson or .json file.
func LoadFile(path string) (*model.AreaOfInterest, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
	default:
		return nil, fmt.Errorf("%w: %q is not a GeoJSON file", model.ErrInvalidInputKind, path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q does not exist", model.ErrInvalidInputKind, path)
		}
		return nil, fmt.Errorf("read aoi: %w", err)
	}
	return Parse(b)
}

// Parse decodes a FeatureCollection, Feature or bare Geometry.
func Parse(b []byte) (*model.AreaOfInterest, error) {
	b = bytes.TrimSpace(b)
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, fmt.Errorf("%w: not GeoJSON: %v", model.ErrInvalidInputKind, err)
	}

	switch hdr.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidInputKind, err)
		}
		return FromFeatureCollection(fc)
	case "Feature":
		f, err := geojson.UnmarshalFeature(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidInputKind, err)
		}
		return fromGeometries([]orb.Geometry{f.Geometry})
	case "":
		return nil, fmt.Errorf("%w: missing GeoJSON type", model.ErrInvalidInputKind)
	default:
		g, err := geojson.UnmarshalGeometry(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidInputKind, err)
		}
		return fromGeometries([]orb.Geometry{g.Geometry()})
	}
}

func FromFeatureCollection(fc *geojson.FeatureCollection) (*model.AreaOfInterest, error) {
	if fc == nil {
		return nil, fmt.Errorf("%w: nil feature collection", model.ErrInvalidInputKind)
	}
	geoms := make([]orb.Geometry, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f != nil {
			geoms = append(geoms, f.Geometry)
		}
	}
	return fromGeometries(geoms)
}

// fromGeometries keeps the polygonal parts; points and lines are ignored.
func fromGeometries(geoms []orb.Geometry) (*model.AreaOfInterest, error) {
	var polys []orb.Polygon
	var walk func(g orb.Geometry)
	walk = func(g orb.Geometry) {
		switch v := g.(type) {
		case orb.Polygon:
			polys = append(polys, v)
		case orb.MultiPolygon:
			polys = append(polys, v...)
		case orb.Bound:
			polys = append(polys, v.ToPolygon())
		case orb.Collection:
			for _, c := range v {
				walk(c)
			}
		}
	}
	for _, g := range geoms {
		walk(g)
	}
	if len(polys) == 0 {
		return nil, fmt.Errorf("%w: no polygonal geometry", model.ErrInvalidInputKind)
	}
	return model.NewAreaOfInterest(polys)
}
