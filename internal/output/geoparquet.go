package output

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/parquet-go/parquet-go"

	"github.com/osgeonepal/obe/internal/core/model"
)

const geoColumn = "geometry"

type geoMetadata struct {
	Version       string                 `json:"version"`
	PrimaryColumn string                 `json:"primary_column"`
	Columns       map[string]geoColumnMD `json:"columns"`
}

type geoColumnMD struct {
	Encoding      string    `json:"encoding"`
	GeometryTypes []string  `json:"geometry_types"`
	BBox          []float64 `json:"bbox,omitempty"`
}

// writeGeoParquet writes GeoParquet 1.0: one WKB geometry column plus one
// optional column per schema field. Parquet orders group columns by name.
func writeGeoParquet(w io.Writer, c *model.ResultCollection) error {
	group := parquet.Group{geoColumn: parquet.Leaf(parquet.ByteArrayType)}
	for _, f := range c.Schema.Fields {
		group[f.Name] = parquet.Optional(parquetNode(f.Type))
	}
	schema := parquet.NewSchema(layerName(c), group)

	col := geoColumnMD{Encoding: "WKB", GeometryTypes: geometryTypes(c)}
	if col.GeometryTypes == nil {
		col.GeometryTypes = []string{}
	}
	if b, ok := c.Bound(); ok {
		col.BBox = []float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()}
	}
	md := geoMetadata{Version: "1.0.0", PrimaryColumn: geoColumn, Columns: map[string]geoColumnMD{geoColumn: col}}
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("geoparquet metadata: %w", err)
	}

	pw := parquet.NewWriter(w, schema, parquet.KeyValueMetadata("geo", string(mdJSON)))

	names := make([]string, 0, len(group))
	for n := range group {
		names = append(names, n)
	}
	sort.Strings(names)

	const batch = 1024
	rows := make([]parquet.Row, 0, batch)
	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if _, err := pw.WriteRows(rows); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		rows = rows[:0]
		return nil
	}

	for n, r := range c.Records {
		if r.Geometry == nil {
			continue
		}
		g, err := wkb.Marshal(r.Geometry, binary.LittleEndian)
		if err != nil {
			return fmt.Errorf("record %d: wkb: %w", n, err)
		}
		row := make(parquet.Row, len(names))
		for i, name := range names {
			if name == geoColumn {
				row[i] = parquet.ByteArrayValue(g).Level(0, 0, i)
				continue
			}
			f, _ := c.Schema.Field(name)
			if v := parquetValue(f.Type, r.Properties[name]); v.IsNull() {
				row[i] = v.Level(0, 0, i)
			} else {
				row[i] = v.Level(0, 1, i)
			}
		}
		rows = append(rows, row)
		if len(rows) == batch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func parquetNode(t model.FieldType) parquet.Node {
	switch t {
	case model.FieldFloat:
		return parquet.Leaf(parquet.DoubleType)
	case model.FieldInt:
		return parquet.Int(64)
	default:
		return parquet.String()
	}
}

func parquetValue(t model.FieldType, v any) parquet.Value {
	if v == nil {
		return parquet.NullValue()
	}
	switch t {
	case model.FieldFloat:
		if f, ok := v.(float64); ok {
			return parquet.DoubleValue(f)
		}
	case model.FieldInt:
		if n, ok := v.(int64); ok {
			return parquet.Int64Value(n)
		}
	default:
		if s, ok := v.(string); ok {
			return parquet.ByteArrayValue([]byte(s))
		}
		return parquet.ByteArrayValue(fmt.Append(nil, v))
	}
	return parquet.NullValue()
}
