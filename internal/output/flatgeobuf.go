package output

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"

	"github.com/osgeonepal/obe/internal/core/model"
)

// writeFlatGeobuf writes a single-type layer with schema columns and an
// EPSG:4326 CRS. The packed R-tree is only built for non-empty layers.
func writeFlatGeobuf(w io.Writer, c *model.ResultCollection) error {
	kind := kindOf(c)
	b := flatbuffers.NewBuilder(4096)

	header := writer.NewHeader(b)
	header.SetName(layerName(c))
	header.SetGeometryType(fgbType(kind))

	cols := make([]*writer.Column, 0, len(c.Schema.Fields))
	for _, f := range c.Schema.Fields {
		col := writer.NewColumn(b)
		col.SetName(f.Name)
		col.SetTitle(f.Name)
		col.SetType(fgbColumnType(f.Type))
		col.SetNullable(true)
		cols = append(cols, col)
	}
	if len(cols) > 0 {
		header.SetColumns(cols)
	}

	crs := writer.NewCrs(b)
	crs.SetOrg("EPSG")
	crs.SetCode(wgs84SRSID)
	crs.SetName("WGS 84")
	header.SetCrs(crs)

	gen := &fgbFeatures{c: c, kind: kind}
	fw := writer.NewWriter(header, c.Len() > 0, gen, nil)
	if _, err := fw.Write(w); err != nil {
		return fmt.Errorf("write flatgeobuf: %w", err)
	}
	return nil
}

type fgbFeatures struct {
	c    *model.ResultCollection
	kind layerKind
	i    int
}

func (g *fgbFeatures) Generate() *writer.Feature {
	for g.i < len(g.c.Records) {
		r := g.c.Records[g.i]
		g.i++
		geom, ok := conform(r.Geometry, g.kind)
		if !ok {
			continue
		}
		b := flatbuffers.NewBuilder(1024)
		f := writer.NewFeature(b)
		f.SetGeometry(fgbGeometry(b, geom))
		if props := fgbProperties(g.c.Schema, r.Properties); len(props) > 0 {
			f.SetProperties(props)
		}
		return f
	}
	return nil
}

func fgbType(k layerKind) flattypes.GeometryType {
	switch k {
	case kindPoint:
		return flattypes.GeometryTypePoint
	case kindMultiPolygon:
		return flattypes.GeometryTypeMultiPolygon
	default:
		return flattypes.GeometryTypePolygon
	}
}

func fgbColumnType(t model.FieldType) flattypes.ColumnType {
	switch t {
	case model.FieldFloat:
		return flattypes.ColumnTypeDouble
	case model.FieldInt:
		return flattypes.ColumnTypeLong
	default:
		return flattypes.ColumnTypeString
	}
}

func fgbGeometry(b *flatbuffers.Builder, g orb.Geometry) *writer.Geometry {
	out := writer.NewGeometry(b)
	switch v := g.(type) {
	case orb.Point:
		out.SetType(flattypes.GeometryTypePoint)
		out.SetXY([]float64{v[0], v[1]})
	case orb.Polygon:
		out.SetType(flattypes.GeometryTypePolygon)
		xy, ends := polygonXYEnds(v)
		out.SetXY(xy)
		out.SetEnds(ends)
	case orb.MultiPolygon:
		out.SetType(flattypes.GeometryTypeMultiPolygon)
		parts := make([]writer.Geometry, 0, len(v))
		for _, p := range v {
			parts = append(parts, *fgbGeometry(b, p))
		}
		out.SetParts(parts)
	}
	return out
}

func polygonXYEnds(p orb.Polygon) ([]float64, []uint32) {
	var xy []float64
	ends := make([]uint32, 0, len(p))
	var n uint32
	for _, r := range p {
		for _, pt := range r {
			xy = append(xy, pt[0], pt[1])
		}
		n += uint32(len(r))
		ends = append(ends, n)
	}
	return xy, ends
}

// fgbProperties encodes non-null values as a little-endian uint16 column
// index followed by the value; strings carry a uint32 byte length.
func fgbProperties(s model.Schema, props map[string]any) []byte {
	var out []byte
	for i, f := range s.Fields {
		v := props[f.Name]
		if v == nil {
			continue
		}
		switch f.Type {
		case model.FieldFloat:
			x, ok := v.(float64)
			if !ok {
				continue
			}
			out = binary.LittleEndian.AppendUint16(out, uint16(i))
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(x))
		case model.FieldInt:
			x, ok := v.(int64)
			if !ok {
				continue
			}
			out = binary.LittleEndian.AppendUint16(out, uint16(i))
			out = binary.LittleEndian.AppendUint64(out, uint64(x))
		default:
			str := fmt.Sprint(v)
			out = binary.LittleEndian.AppendUint16(out, uint16(i))
			out = binary.LittleEndian.AppendUint32(out, uint32(len(str)))
			out = append(out, str...)
		}
	}
	return out
}
