// Package output encodes a ResultCollection into the supported vector
// file formats.
package output

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/osgeonepal/obe/internal/core/model"
)

type Format string

const (
	GeoJSON    Format = "geojson"
	GeoJSONSeq Format = "geojsonseq"
	GeoParquet Format = "geoparquet"
	GeoPackage Format = "geopackage"
	Shapefile  Format = "shapefile"
	FlatGeobuf Format = "flatgeobuf"
)

var ErrUnknownFormat = fmt.Errorf("%w: unknown output format", model.ErrInvalidInputKind)

var aliases = map[string]Format{
	"geojson":    GeoJSON,
	"json":       GeoJSON,
	"geojsonseq": GeoJSONSeq,
	"geojsonl":   GeoJSONSeq,
	"ndjson":     GeoJSONSeq,
	"geoparquet": GeoParquet,
	"parquet":    GeoParquet,
	"geopackage": GeoPackage,
	"gpkg":       GeoPackage,
	"shapefile":  Shapefile,
	"shp":        Shapefile,
	"flatgeobuf": FlatGeobuf,
	"fgb":        FlatGeobuf,
}

func Formats() []Format {
	return []Format{GeoJSON, GeoJSONSeq, GeoParquet, GeoPackage, Shapefile, FlatGeobuf}
}

func ParseFormat(s string) (Format, error) {
	if f, ok := aliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w %q (want one of %v)", ErrUnknownFormat, s, Formats())
}

// Ext is the file extension without the dot. Shapefiles are packaged as a
// zip of the .shp/.shx/.dbf/.prj/.cpg members.
func (f Format) Ext() string {
	switch f {
	case GeoJSONSeq:
		return "geojsonl"
	case GeoParquet:
		return "parquet"
	case GeoPackage:
		return "gpkg"
	case Shapefile:
		return "shp.zip"
	case FlatGeobuf:
		return "fgb"
	default:
		return "geojson"
	}
}

func (f Format) ContentType() string {
	switch f {
	case GeoJSONSeq:
		return "application/geo+json-seq"
	case GeoParquet:
		return "application/vnd.apache.parquet"
	case GeoPackage:
		return "application/geopackage+sqlite3"
	case Shapefile:
		return "application/zip"
	case FlatGeobuf:
		return "application/flatgeobuf"
	default:
		return "application/geo+json"
	}
}

// DefaultPath derives <input stem>_<source>_buildings.<ext> in the current
// directory. An empty input yields the stem "output".
func DefaultPath(input, source string, f Format) string {
	stem := "output"
	if input != "" && !strings.HasPrefix(strings.TrimSpace(input), "{") {
		base := filepath.Base(input)
		stem = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return fmt.Sprintf("%s_%s_buildings.%s", stem, source, f.Ext())
}

// layerName is the table / layer name used by formats that carry one.
func layerName(c *model.ResultCollection) string {
	if c.Source == "" {
		return "buildings"
	}
	return c.Source + "_buildings"
}

// WriteFile writes c to path. For shapefiles a path ending in .shp writes
// the loose member files next to it; any other path gets the zip package.
func WriteFile(path string, f Format, c *model.ResultCollection) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	switch f {
	case GeoPackage:
		_ = os.Remove(path)
		return writeGeoPackage(path, c)
	case Shapefile:
		if strings.EqualFold(filepath.Ext(path), ".shp") {
			return writeShapefile(path, c)
		}
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := Write(out, f, c); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// Write encodes c to w. File-backed formats (GeoPackage, Shapefile) are
// built in a temporary directory first.
func Write(w io.Writer, f Format, c *model.ResultCollection) error {
	switch f {
	case GeoJSON:
		return writeGeoJSON(w, c)
	case GeoJSONSeq:
		return writeGeoJSONSeq(w, c)
	case GeoParquet:
		return writeGeoParquet(w, c)
	case FlatGeobuf:
		return writeFlatGeobuf(w, c)
	case GeoPackage:
		return viaTempFile(w, "out.gpkg", func(p string) error { return writeGeoPackage(p, c) })
	case Shapefile:
		return writeShapefileZip(w, c)
	default:
		return fmt.Errorf("%w %q", ErrUnknownFormat, f)
	}
}

// Encode is Write into memory.
func Encode(f Format, c *model.ResultCollection) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, f, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func viaTempFile(w io.Writer, name string, build func(path string) error) error {
	dir, err := os.MkdirTemp("", "obe-*")
	if err != nil {
		return fmt.Errorf("temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	p := filepath.Join(dir, name)
	if err := build(p); err != nil {
		return err
	}
	fh, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("reopen %s: %w", name, err)
	}
	defer func() { _ = fh.Close() }()
	if _, err := io.Copy(w, fh); err != nil {
		return fmt.Errorf("copy %s: %w", name, err)
	}
	return nil
}
