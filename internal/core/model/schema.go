package model

import (
	"fmt"
	"math"
	"strconv"
)

type FieldType int

const (
	FieldString FieldType = iota
	FieldFloat
	FieldInt
)

func (t FieldType) String() string {
	switch t {
	case FieldFloat:
		return "float"
	case FieldInt:
		return "int"
	default:
		return "string"
	}
}

type GeometryKind int

const (
	GeometryPolygon GeometryKind = iota
	GeometryPoint
)

func (k GeometryKind) String() string {
	if k == GeometryPoint {
		return "Point"
	}
	return "Polygon"
}

type Field struct {
	Name string
	Type FieldType
}

// Schema is the attribute set of a source. Key names the identity field
// used to drop duplicates when partitions overlap; empty disables it.
// MergeFragments makes records sharing a key pieces of one feature (tiled
// sources cut buildings at tile edges): their polygons are merged into a
// MultiPolygon instead of the later ones being dropped.
type Schema struct {
	Fields         []Field
	Geometry       GeometryKind
	Key            string
	MergeFragments bool
}

func (s Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Normalize returns a copy of r whose properties hold exactly the schema
// fields, coerced to the field type. Missing or unparsable values become nil.
func (s Schema) Normalize(r BuildingRecord) BuildingRecord {
	props := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		props[f.Name] = coerce(f.Type, r.Properties[f.Name])
	}
	return BuildingRecord{Geometry: r.Geometry, Properties: props}
}

func coerce(t FieldType, v any) any {
	if v == nil {
		return nil
	}
	switch t {
	case FieldFloat:
		f, ok := toFloat(v)
		if !ok || math.IsNaN(f) {
			return nil
		}
		return f
	case FieldInt:
		f, ok := toFloat(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return int64(f)
	default:
		switch x := v.(type) {
		case string:
			return x
		case fmt.Stringer:
			return x.String()
		default:
			return fmt.Sprint(x)
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case uint32:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
