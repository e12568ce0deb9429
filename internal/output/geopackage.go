package output

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	// sqlite driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/osgeonepal/obe/internal/core/model"
)

const (
	gpkgApplicationID = 0x47504B47 // "GPKG"
	gpkgUserVersion   = 10300
	wgs84SRSID        = 4326
	wgs84WKT          = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`
)

var gpkgCore = []string{
	`CREATE TABLE gpkg_spatial_ref_sys (
		srs_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL PRIMARY KEY,
		organization TEXT NOT NULL,
		organization_coordsys_id INTEGER NOT NULL,
		definition TEXT NOT NULL,
		description TEXT)`,
	`CREATE TABLE gpkg_contents (
		table_name TEXT NOT NULL PRIMARY KEY,
		data_type TEXT NOT NULL,
		identifier TEXT UNIQUE,
		description TEXT DEFAULT '',
		last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
		srs_id INTEGER,
		CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id))`,
	`CREATE TABLE gpkg_geometry_columns (
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		geometry_type_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL,
		z TINYINT NOT NULL,
		m TINYINT NOT NULL,
		CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
		CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
		CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys (srs_id))`,
	`INSERT INTO gpkg_spatial_ref_sys VALUES
		('Undefined cartesian SRS', -1, 'NONE', -1, 'undefined', 'undefined cartesian coordinate reference system'),
		('Undefined geographic SRS', 0, 'NONE', 0, 'undefined', 'undefined geographic coordinate reference system')`,
}

// writeGeoPackage creates a GeoPackage with one feature table named after
// the source. The table always has every schema column, even when empty.
func writeGeoPackage(path string, c *model.ResultCollection) (err error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("open geopackage: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close geopackage: %w", cerr)
		}
	}()
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		fmt.Sprintf("PRAGMA application_id = %d", gpkgApplicationID),
		fmt.Sprintf("PRAGMA user_version = %d", gpkgUserVersion),
	} {
		if _, err = db.Exec(p); err != nil {
			return fmt.Errorf("geopackage header: %w", err)
		}
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, s := range gpkgCore {
		if _, err = tx.Exec(s); err != nil {
			return fmt.Errorf("geopackage core tables: %w", err)
		}
	}
	if _, err = tx.Exec(`INSERT INTO gpkg_spatial_ref_sys VALUES ('WGS 84 geodetic', ?, 'EPSG', 4326, ?, 'longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid')`,
		wgs84SRSID, wgs84WKT); err != nil {
		return fmt.Errorf("geopackage srs: %w", err)
	}

	table := layerName(c)
	kind := kindOf(c)
	geomType := strings.ToUpper(kind.String())

	cols := []string{"fid INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL", "geom " + geomType}
	for _, f := range c.Schema.Fields {
		cols = append(cols, quoteIdent(f.Name)+" "+sqliteType(f.Type))
	}
	if _, err = tx.Exec(fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(cols, ", "))); err != nil {
		return fmt.Errorf("create feature table: %w", err)
	}

	var minX, minY, maxX, maxY any
	if b, ok := c.Bound(); ok {
		minX, minY, maxX, maxY = b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()
	}
	if _, err = tx.Exec(`INSERT INTO gpkg_contents (table_name, data_type, identifier, min_x, min_y, max_x, max_y, srs_id) VALUES (?, 'features', ?, ?, ?, ?, ?, ?)`,
		table, table, minX, minY, maxX, maxY, wgs84SRSID); err != nil {
		return fmt.Errorf("gpkg_contents: %w", err)
	}
	if _, err = tx.Exec(`INSERT INTO gpkg_geometry_columns VALUES (?, 'geom', ?, ?, 0, 0)`, table, geomType, wgs84SRSID); err != nil {
		return fmt.Errorf("gpkg_geometry_columns: %w", err)
	}

	names := make([]string, 0, len(c.Schema.Fields)+1)
	marks := make([]string, 0, len(c.Schema.Fields)+1)
	names = append(names, "geom")
	marks = append(marks, "?")
	for _, f := range c.Schema.Fields {
		names = append(names, quoteIdent(f.Name))
		marks = append(marks, "?")
	}
	ins, err := tx.Prepare(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(names, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = ins.Close() }()

	args := make([]any, len(names))
	for i, r := range c.Records {
		g, ok := conform(r.Geometry, kind)
		if !ok {
			continue
		}
		blob, gerr := gpkgBlob(g)
		if gerr != nil {
			err = fmt.Errorf("record %d: %w", i, gerr)
			return err
		}
		args[0] = blob
		for j, f := range c.Schema.Fields {
			args[j+1] = r.Properties[f.Name]
		}
		if _, err = ins.Exec(args...); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// gpkgBlob encodes g as a GeoPackage binary: "GP" magic, version 0,
// little-endian flags with an xy envelope, srs id, then standard WKB.
func gpkgBlob(g orb.Geometry) ([]byte, error) {
	body, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("wkb: %w", err)
	}
	b := g.Bound()
	out := make([]byte, 8, 8+32+len(body))
	out[0], out[1], out[2], out[3] = 'G', 'P', 0, 0x03
	binary.LittleEndian.PutUint32(out[4:], wgs84SRSID)
	for _, v := range []float64{b.Min.X(), b.Max.X(), b.Min.Y(), b.Max.Y()} {
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
	}
	return append(out, body...), nil
}

func sqliteType(t model.FieldType) string {
	switch t {
	case model.FieldFloat:
		return "DOUBLE"
	case model.FieldInt:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
