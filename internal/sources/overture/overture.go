// Package overture reads Overture Maps buildings from an XYZ vector tile
// endpoint. Partitions are computed from the AOI bound, no catalog needed.
package overture

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/maptile"

	"github.com/osgeonepal/obe/internal/core/executor"
	"github.com/osgeonepal/obe/internal/core/model"
	"github.com/osgeonepal/obe/internal/sources"
)

const Name = "overture"

// above this many tiles the zoom is too fine for the AOI
const maxTiles = 4096

type Adapter struct {
	logger   *slog.Logger
	exec     executor.Interface
	template string
	zoom     maptile.Zoom
	layer    string
}

func init() {
	sources.Register(Name, func(d sources.Deps) (sources.Adapter, error) {
		return New(d), nil
	})
}

func New(d sources.Deps) *Adapter {
	cfg := d.Config.Overture
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	layer := cfg.Layer
	if layer == "" {
		layer = "building"
	}
	return &Adapter{
		logger:   logger,
		exec:     d.Exec,
		template: cfg.TileURL,
		zoom:     maptile.Zoom(cfg.Zoom),
		layer:    layer,
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Schema() model.Schema {
	return model.Schema{
		Geometry:       model.GeometryPolygon,
		Key:            "id",
		MergeFragments: true,
		Fields: []model.Field{
			{Name: "id", Type: model.FieldString},
			{Name: "height", Type: model.FieldFloat},
			{Name: "num_floors", Type: model.FieldInt},
			{Name: "class", Type: model.FieldString},
			{Name: "subtype", Type: model.FieldString},
		},
	}
}

func (a *Adapter) Validate(sources.Params) error {
	t := a.template
	if t == "" {
		return fmt.Errorf("%w: set OVERTURE_TILE_URL to an XYZ template such as https://host/buildings/{z}/{x}/{y}.mvt", model.ErrSourceNotConfigured)
	}
	for _, ph := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(t, ph) {
			return fmt.Errorf("%w: overture tile url %q lacks %s", model.ErrSourceNotConfigured, t, ph)
		}
	}
	return nil
}

func (a *Adapter) tileURL(t maptile.Tile) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(int(t.Z)),
		"{x}", strconv.FormatUint(uint64(t.X), 10),
		"{y}", strconv.FormatUint(uint64(t.Y), 10),
	).Replace(a.template)
}

// ResolvePartitions walks the tile range under the AOI bound and keeps the
// tiles that intersect an AOI polygon, ordered by x then y.
func (a *Adapter) ResolvePartitions(ctx context.Context, area *model.AreaOfInterest, _ sources.Params) ([]model.PartitionDescriptor, error) {
	b := area.Bound()
	nw := maptile.At(orb.Point{b.Min.X(), b.Max.Y()}, a.zoom)
	se := maptile.At(orb.Point{b.Max.X(), b.Min.Y()}, a.zoom)

	if n := (uint64(se.X-nw.X) + 1) * (uint64(se.Y-nw.Y) + 1); n > maxTiles {
		return nil, fmt.Errorf("overture: aoi spans %d tiles at zoom %d (max %d); lower OVERTURE_ZOOM", n, a.zoom, maxTiles)
	}

	var tiles []maptile.Tile
	for x := nw.X; x <= se.X; x++ {
		for y := nw.Y; y <= se.Y; y++ {
			t := maptile.New(x, y, a.zoom)
			if area.Intersects(t.Bound()) {
				tiles = append(tiles, t)
			}
		}
	}
	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].X != tiles[j].X {
			return tiles[i].X < tiles[j].X
		}
		return tiles[i].Y < tiles[j].Y
	})

	out := make([]model.PartitionDescriptor, 0, len(tiles))
	for _, t := range tiles {
		out = append(out, model.PartitionDescriptor{
			ID:       fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y),
			URL:      a.tileURL(t),
			Coverage: t.Bound(),
			Extent:   t.Bound(),
			Meta: map[string]string{
				"z": strconv.Itoa(int(t.Z)),
				"x": strconv.FormatUint(uint64(t.X), 10),
				"y": strconv.FormatUint(uint64(t.Y), 10),
			},
		})
	}
	a.logger.DebugContext(ctx, "overture tiles resolved", "zoom", a.zoom, "tiles", len(out))
	return out, nil
}

func (a *Adapter) FetchAndParse(ctx context.Context, p model.PartitionDescriptor) ([]model.BuildingRecord, error) {
	tile, err := tileFromMeta(p.Meta)
	if err != nil {
		return nil, model.ParseError(p.ID, err)
	}
	b, err := a.exec.Get(ctx, "overture_tile", p.URL)
	if err != nil {
		return nil, model.FetchError(p.ID, err)
	}
	recs, err := a.decode(b, tile)
	if err != nil {
		return nil, model.ParseError(p.ID, err)
	}
	return recs, nil
}

// decode unmarshals an MVT tile (already gunzipped by the executor) and
// projects the building layer to lon/lat. Geometry is clipped to the tile
// so the buffered edges of neighbouring tiles do not overlap once fragments
// of one building are merged.
func (a *Adapter) decode(b []byte, tile maptile.Tile) ([]model.BuildingRecord, error) {
	if len(b) == 0 {
		return nil, nil
	}
	layers, err := mvt.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("decode mvt: %w", err)
	}
	layers.ProjectToWGS84(tile)
	tb := tile.Bound()

	var out []model.BuildingRecord
	for _, l := range layers {
		if l.Name != a.layer {
			continue
		}
		for _, f := range l.Features {
			switch f.Geometry.(type) {
			case orb.Polygon, orb.MultiPolygon:
			default:
				continue
			}
			g := clip.Geometry(tb, f.Geometry)
			if g == nil {
				continue
			}
			props := map[string]any{
				"height":     f.Properties["height"],
				"num_floors": f.Properties["num_floors"],
				"class":      f.Properties["class"],
				"subtype":    f.Properties["subtype"],
			}
			switch {
			case f.Properties["id"] != nil:
				props["id"] = f.Properties["id"]
			case f.ID != nil:
				props["id"] = fmt.Sprint(f.ID)
			}
			out = append(out, model.BuildingRecord{Geometry: g, Properties: props})
		}
	}
	return out, nil
}

func tileFromMeta(m map[string]string) (maptile.Tile, error) {
	z, err1 := strconv.ParseUint(m["z"], 10, 8)
	x, err2 := strconv.ParseUint(m["x"], 10, 32)
	y, err3 := strconv.ParseUint(m["y"], 10, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		return maptile.Tile{}, fmt.Errorf("partition is missing tile coordinates: %v", m)
	}
	return maptile.New(uint32(x), uint32(y), maptile.Zoom(z)), nil
}
