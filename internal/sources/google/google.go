// Package google reads Google Open Buildings v3: a global tile-boundary
// catalog (tiles.geojson) pointing at gzip CSV files, one per S2 level-6 cell.
package google

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"

	"github.com/osgeonepal/obe/internal/catalog"
	"github.com/osgeonepal/obe/internal/core/executor"
	"github.com/osgeonepal/obe/internal/core/model"
	"github.com/osgeonepal/obe/internal/sources"
)

const Name = "google"

const (
	colLatitude = iota
	colLongitude
	colArea
	colConfidence
	colGeometry
	colPlusCode
	numCols
)

const (
	GeometryPoint   = "point"
	GeometryPolygon = "polygon"
)

type Adapter struct {
	logger   *slog.Logger
	exec     executor.Interface
	catalog  *catalog.Loader
	tilesURL string
	polygons bool
}

func init() {
	sources.Register(Name, func(d sources.Deps) (sources.Adapter, error) {
		return New(d)
	})
}

func New(d sources.Deps) (*Adapter, error) {
	mode := d.Config.Google.Geometry
	switch mode {
	case "", GeometryPoint, GeometryPolygon:
	default:
		return nil, fmt.Errorf("google: unknown geometry mode %q (want point or polygon)", mode)
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		logger:   logger,
		exec:     d.Exec,
		catalog:  d.Catalog,
		tilesURL: d.Config.Google.TilesURL,
		polygons: mode == GeometryPolygon,
	}, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Schema() model.Schema {
	g := model.GeometryPoint
	if a.polygons {
		g = model.GeometryPolygon
	}
	return model.Schema{
		Geometry: g,
		Fields: []model.Field{
			{Name: "latitude", Type: model.FieldFloat},
			{Name: "longitude", Type: model.FieldFloat},
			{Name: "area_in_meters", Type: model.FieldFloat},
			{Name: "confidence", Type: model.FieldFloat},
			{Name: "full_plus_code", Type: model.FieldString},
		},
	}
}

func (a *Adapter) Validate(sources.Params) error {
	if a.tilesURL == "" {
		return fmt.Errorf("%w: google tiles url is empty", model.ErrSourceNotConfigured)
	}
	return nil
}

func (a *Adapter) ResolvePartitions(ctx context.Context, area *model.AreaOfInterest, _ sources.Params) ([]model.PartitionDescriptor, error) {
	b, err := a.catalog.Fetch(ctx, Name, a.tilesURL)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("decode google tile catalog: %w", err)
	}

	seen := make(map[string]struct{})
	var out []model.PartitionDescriptor
	for _, f := range fc.Features {
		tileURL := f.Properties.MustString("tile_url", "")
		if tileURL == "" || f.Geometry == nil {
			continue
		}
		if _, dup := seen[tileURL]; dup {
			continue
		}
		if !area.Intersects(f.Geometry) {
			continue
		}
		seen[tileURL] = struct{}{}
		out = append(out, model.PartitionDescriptor{
			ID:       tileURL,
			URL:      tileURL,
			Coverage: f.Geometry,
			Extent:   clip(area.Bound(), f.Geometry.Bound()),
		})
	}
	a.logger.DebugContext(ctx, "google tiles resolved", "catalog_tiles", len(fc.Features), "selected", len(out))
	return out, nil
}

func (a *Adapter) FetchAndParse(ctx context.Context, p model.PartitionDescriptor) ([]model.BuildingRecord, error) {
	rc, err := a.exec.Open(ctx, "google_tile", p.URL)
	if err != nil {
		return nil, model.FetchError(p.ID, err)
	}
	defer func() { _ = rc.Close() }()

	recs, err := a.parse(rc, p.Extent)
	if err != nil {
		if ctx.Err() != nil {
			return nil, model.FetchError(p.ID, ctx.Err())
		}
		return nil, model.ParseError(p.ID, err)
	}
	return recs, nil
}

// parse reads a headerless tile CSV. A header row, if present, is skipped.
// Rows outside extent are dropped early; an empty extent keeps everything.
func (a *Adapter) parse(r io.Reader, extent orb.Bound) ([]model.BuildingRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numCols
	cr.ReuseRecord = true

	prefilter := !extent.IsZero()
	var out []model.BuildingRecord
	for line := 1; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(row[colLatitude]), "latitude") {
			continue
		}

		lat, err1 := strconv.ParseFloat(row[colLatitude], 64)
		lon, err2 := strconv.ParseFloat(row[colLongitude], 64)
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		var geom orb.Geometry = orb.Point{lon, lat}
		if a.polygons {
			g, err := wkt.Unmarshal(row[colGeometry])
			if err != nil {
				return nil, fmt.Errorf("line %d: geometry: %w", line, err)
			}
			geom = g
		}
		if prefilter && !extent.Intersects(geom.Bound()) {
			continue
		}

		out = append(out, model.BuildingRecord{
			Geometry: geom,
			Properties: map[string]any{
				"latitude":       lat,
				"longitude":      lon,
				"area_in_meters": parseFloat(row[colArea]),
				"confidence":     parseFloat(row[colConfidence]),
				"full_plus_code": row[colPlusCode],
			},
		})
	}
}

func parseFloat(s string) any {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return f
}

func clip(a, b orb.Bound) orb.Bound {
	if !a.Intersects(b) {
		return orb.Bound{}
	}
	return orb.Bound{
		Min: orb.Point{max(a.Min.X(), b.Min.X()), max(a.Min.Y(), b.Min.Y())},
		Max: orb.Point{min(a.Max.X(), b.Max.X()), min(a.Max.Y(), b.Max.Y())},
	}
}
