// Package microsoft reads Microsoft Global ML Building Footprints. The
// dataset-links.csv catalog lists one gzip GeoJSONL file per
// (location, zoom-9 quadkey).
package microsoft

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/osgeonepal/obe/internal/catalog"
	"github.com/osgeonepal/obe/internal/core/executor"
	"github.com/osgeonepal/obe/internal/core/model"
	"github.com/osgeonepal/obe/internal/sources"
)

const Name = "microsoft"

type Adapter struct {
	logger   *slog.Logger
	exec     executor.Interface
	catalog  *catalog.Loader
	linksURL string
	qkZoom   int
}

func init() {
	sources.Register(Name, func(d sources.Deps) (sources.Adapter, error) {
		return New(d), nil
	})
}

func New(d sources.Deps) *Adapter {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		logger:   logger,
		exec:     d.Exec,
		catalog:  d.Catalog,
		linksURL: d.Config.Microsoft.LinksURL,
		qkZoom:   d.Config.Microsoft.QuadkeyZoom,
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Schema() model.Schema {
	return model.Schema{
		Geometry: model.GeometryPolygon,
		Key:      "id",
		Fields: []model.Field{
			{Name: "id", Type: model.FieldString},
			{Name: "height", Type: model.FieldFloat},
			{Name: "confidence", Type: model.FieldFloat},
			{Name: "quadkey", Type: model.FieldString},
		},
	}
}

func (a *Adapter) Validate(p sources.Params) error {
	if p.Get(sources.ParamLocation) == "" {
		return fmt.Errorf("%w: location is required for the microsoft source", model.ErrMissingLocationParameter)
	}
	if a.linksURL == "" {
		return fmt.Errorf("%w: microsoft dataset links url is empty", model.ErrSourceNotConfigured)
	}
	return nil
}

func normalizeLocation(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

func (a *Adapter) ResolvePartitions(ctx context.Context, area *model.AreaOfInterest, p sources.Params) ([]model.PartitionDescriptor, error) {
	if err := a.Validate(p); err != nil {
		return nil, err
	}
	loc := p.Get(sources.ParamLocation)
	want := normalizeLocation(loc)

	b, err := a.catalog.Fetch(ctx, Name, a.linksURL)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(bytes.NewReader(b))
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read dataset links header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	iLoc, ok1 := idx["location"]
	iQK, ok2 := idx["quadkey"]
	iURL, ok3 := idx["url"]
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("dataset links: missing Location/QuadKey/Url columns in %v", header)
	}
	need := max(iLoc, iQK, iURL)

	var (
		out      []model.PartitionDescriptor
		seen     = map[string]struct{}{}
		matched  int
		badRows  int
		aoiBound = area.Bound()
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read dataset links: %w", err)
		}
		if len(row) <= need || normalizeLocation(row[iLoc]) != want {
			continue
		}
		matched++
		qk := padQuadkey(row[iQK], a.qkZoom)
		tile, err := tileFromQuadkey(qk)
		if err != nil {
			badRows++
			continue
		}
		u := strings.TrimSpace(row[iURL])
		if _, dup := seen[u]; dup || u == "" {
			continue
		}
		cov := tile.Bound()
		if !area.Intersects(cov) {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, model.PartitionDescriptor{
			ID:       qk,
			URL:      u,
			Coverage: cov,
			Extent:   intersect(aoiBound, cov),
			Meta:     map[string]string{"quadkey": qk, "location": row[iLoc]},
		})
	}

	if matched == 0 {
		a.logger.WarnContext(ctx, "no dataset rows for location", "location", loc)
	}
	if badRows > 0 {
		a.logger.WarnContext(ctx, "skipped rows with bad quadkeys", "location", loc, "rows", badRows)
	}
	return out, nil
}

func (a *Adapter) FetchAndParse(ctx context.Context, p model.PartitionDescriptor) ([]model.BuildingRecord, error) {
	rc, err := a.exec.Open(ctx, "microsoft_partition", p.URL)
	if err != nil {
		return nil, model.FetchError(p.ID, err)
	}
	defer func() { _ = rc.Close() }()

	recs, err := parseLines(rc, p.Meta["quadkey"], p.Extent)
	if err != nil {
		if ctx.Err() != nil {
			return nil, model.FetchError(p.ID, ctx.Err())
		}
		return nil, model.ParseError(p.ID, err)
	}
	return recs, nil
}

// parseLines reads GeoJSONL. Each record id is the xxhash of its line, so it
// is stable for a given dataset release.
func parseLines(r io.Reader, quadkey string, extent orb.Bound) ([]model.BuildingRecord, error) {
	br := bufio.NewReaderSize(r, 256<<10)
	prefilter := !extent.IsZero()

	var out []model.BuildingRecord
	for n := 1; ; n++ {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			line = bytes.TrimSpace(line)
			f, perr := geojson.UnmarshalFeature(line)
			if perr != nil {
				return nil, fmt.Errorf("line %d: %w", n, perr)
			}
			if f.Geometry == nil {
				return nil, fmt.Errorf("line %d: feature without geometry", n)
			}
			if !prefilter || extent.Intersects(f.Geometry.Bound()) {
				out = append(out, model.BuildingRecord{
					Geometry: f.Geometry,
					Properties: map[string]any{
						"id":         fmt.Sprintf("%016x", xxhash.Sum64(line)),
						"height":     f.Properties["height"],
						"confidence": f.Properties["confidence"],
						"quadkey":    quadkey,
					},
				})
			}
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
	}
}

func intersect(a, b orb.Bound) orb.Bound {
	if !a.Intersects(b) {
		return orb.Bound{}
	}
	return orb.Bound{
		Min: orb.Point{max(a.Min.X(), b.Min.X()), max(a.Min.Y(), b.Min.Y())},
		Max: orb.Point{min(a.Max.X(), b.Max.X()), min(a.Max.Y(), b.Max.Y())},
	}
}
