package output

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/osgeonepal/obe/internal/core/model"
)

// dBase limits field names to 10 bytes.
const dbfNameLen = 10

var shapefileMembers = []string{".shp", ".shx", ".dbf", ".prj", ".cpg"}

// writeShapefile writes path (ending in .shp) and its sidecar files.
func writeShapefile(path string, c *model.ResultCollection) error {
	kind := kindOf(c)
	var st shp.ShapeType = shp.POLYGON
	if kind == kindPoint {
		st = shp.POINT
	}

	w, err := shp.Create(path, st)
	if err != nil {
		return fmt.Errorf("create shapefile: %w", err)
	}

	fields := make([]shp.Field, len(c.Schema.Fields))
	for i, f := range dbfNames(c.Schema) {
		switch c.Schema.Fields[i].Type {
		case model.FieldFloat:
			fields[i] = shp.FloatField(f, 24, 8)
		case model.FieldInt:
			fields[i] = shp.NumberField(f, 18)
		default:
			fields[i] = shp.StringField(f, 254)
		}
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return fmt.Errorf("shapefile fields: %w", err)
	}

	for _, r := range c.Records {
		g, ok := conform(r.Geometry, kind)
		if !ok {
			continue
		}
		row := int(w.Write(shpShape(g)))
		for i, f := range c.Schema.Fields {
			if err := w.WriteAttribute(row, i, dbfValue(r.Properties[f.Name])); err != nil {
				w.Close()
				return fmt.Errorf("shapefile attribute %s: %w", f.Name, err)
			}
		}
	}
	w.Close()

	base := strings.TrimSuffix(path, filepath.Ext(path))
	if err := fixDBFName(base); err != nil {
		return err
	}
	if err := os.WriteFile(base+".prj", []byte(wgs84WKT), 0o644); err != nil {
		return fmt.Errorf("write prj: %w", err)
	}
	if err := os.WriteFile(base+".cpg", []byte("UTF-8"), 0o644); err != nil {
		return fmt.Errorf("write cpg: %w", err)
	}
	return nil
}

// fixDBFName moves <base>dbf to <base>.dbf; go-shp v0.1.1 drops the dot
// when it creates the attribute table.
func fixDBFName(base string) error {
	if _, err := os.Stat(base + ".dbf"); err == nil {
		return nil
	}
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		return fmt.Errorf("shapefile dbf: %w", err)
	}
	return nil
}

// writeShapefileZip packages the shapefile members into one zip archive.
func writeShapefileZip(w io.Writer, c *model.ResultCollection) error {
	dir, err := os.MkdirTemp("", "obe-shp-*")
	if err != nil {
		return fmt.Errorf("temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	name := layerName(c)
	if err := writeShapefile(filepath.Join(dir, name+".shp"), c); err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for _, ext := range shapefileMembers {
		if err := addZipMember(zw, filepath.Join(dir, name+ext)); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return nil
}

func addZipMember(zw *zip.Writer, path string) error {
	fh, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = fh.Close() }()

	dst, err := zw.Create(filepath.Base(path))
	if err != nil {
		return fmt.Errorf("zip %s: %w", filepath.Base(path), err)
	}
	if _, err := io.Copy(dst, fh); err != nil {
		return fmt.Errorf("zip %s: %w", filepath.Base(path), err)
	}
	return nil
}

// dbfNames truncates field names to the dBase limit, suffixing a counter
// when two names collide after truncation.
func dbfNames(s model.Schema) []string {
	out := make([]string, len(s.Fields))
	used := map[string]bool{}
	for i, f := range s.Fields {
		n := f.Name
		if len(n) > dbfNameLen {
			n = n[:dbfNameLen]
		}
		for k := 1; used[n]; k++ {
			suffix := strconv.Itoa(k)
			n = n[:min(len(n), dbfNameLen-len(suffix))] + suffix
		}
		used[n] = true
		out[i] = n
	}
	return out
}

func dbfValue(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case int64:
		return int(x)
	case float64, string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func shpShape(g orb.Geometry) shp.Shape {
	switch v := g.(type) {
	case orb.Point:
		return &shp.Point{X: v[0], Y: v[1]}
	case orb.Polygon:
		return shpPolygon(orb.MultiPolygon{v})
	case orb.MultiPolygon:
		return shpPolygon(v)
	}
	return &shp.Null{}
}

// shpPolygon flattens rings into parts. Shapefile outer rings run
// clockwise and holes counter-clockwise.
func shpPolygon(mp orb.MultiPolygon) *shp.Polygon {
	var parts [][]shp.Point
	for _, p := range mp {
		for i, r := range p {
			ring := append(orb.Ring(nil), r...)
			outer := i == 0
			if (outer && ring.Orientation() == orb.CCW) || (!outer && ring.Orientation() == orb.CW) {
				ring.Reverse()
			}
			pts := make([]shp.Point, len(ring))
			for j, pt := range ring {
				pts[j] = shp.Point{X: pt[0], Y: pt[1]}
			}
			parts = append(parts, pts)
		}
	}
	poly := shp.Polygon(*shp.NewPolyLine(parts))
	return &poly
}
