// Package osm queries OpenStreetMap buildings through the Overpass API.
package osm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/osgeonepal/obe/internal/core/executor"
	"github.com/osgeonepal/obe/internal/core/model"
	h3mapper "github.com/osgeonepal/obe/internal/mapper/h3"
	"github.com/osgeonepal/obe/internal/sources"
)

const Name = "osm"

type Adapter struct {
	logger      *slog.Logger
	exec        executor.Interface
	overpassURL string
	limiter     *rate.Limiter
	splitRes    int
	timeout     time.Duration
	mapr        *h3mapper.Mapper
}

func init() {
	sources.Register(Name, func(d sources.Deps) (sources.Adapter, error) {
		return New(d), nil
	})
}

func New(d sources.Deps) *Adapter {
	cfg := d.Config.OSM
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Adapter{
		logger:      logger,
		exec:        d.Exec,
		overpassURL: cfg.OverpassURL,
		limiter:     rate.NewLimiter(limit, max(cfg.Burst, 1)),
		splitRes:    cfg.SplitRes,
		timeout:     timeout,
		mapr:        h3mapper.New(),
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Schema() model.Schema {
	return model.Schema{
		Geometry: model.GeometryPolygon,
		Key:      "osm_id",
		Fields: []model.Field{
			{Name: "osm_id", Type: model.FieldString},
			{Name: "osm_type", Type: model.FieldString},
			{Name: "building", Type: model.FieldString},
			{Name: "name", Type: model.FieldString},
			{Name: "height", Type: model.FieldFloat},
			{Name: "building_levels", Type: model.FieldInt},
			{Name: "area_in_meters", Type: model.FieldFloat},
		},
	}
}

func (a *Adapter) Validate(sources.Params) error {
	if a.overpassURL == "" {
		return fmt.Errorf("%w: overpass url is empty", model.ErrSourceNotConfigured)
	}
	return nil
}

// ResolvePartitions issues one query per AOI polygon bbox, or one per H3 cell
// when a positive split resolution is configured. Resolution 0 cells span
// whole subcontinents, so 0 means no split. Split cells overlap polygon
// boundaries, so records are de-duplicated on osm_id downstream.
func (a *Adapter) ResolvePartitions(ctx context.Context, area *model.AreaOfInterest, _ sources.Params) ([]model.PartitionDescriptor, error) {
	if a.splitRes > 0 {
		cells, err := a.mapr.CellsForAOI(area, a.splitRes)
		if err != nil {
			return nil, fmt.Errorf("split aoi into h3 cells: %w", err)
		}
		out := make([]model.PartitionDescriptor, 0, len(cells))
		for _, c := range cells {
			poly, err := a.mapr.CellPolygon(c)
			if err != nil {
				return nil, err
			}
			out = append(out, model.PartitionDescriptor{
				ID:       "h3:" + c,
				URL:      a.overpassURL,
				Coverage: poly,
				Extent:   poly.Bound(),
				Meta:     map[string]string{"h3": c},
			})
		}
		a.logger.DebugContext(ctx, "osm split partitions", "res", a.splitRes, "cells", len(out))
		return out, nil
	}

	seen := map[string]struct{}{}
	var out []model.PartitionDescriptor
	for _, p := range area.Polygons() {
		b := p.Bound()
		id := fmt.Sprintf("bbox:%.7f,%.7f,%.7f,%.7f", b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y())
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, model.PartitionDescriptor{
			ID:       id,
			URL:      a.overpassURL,
			Coverage: b,
			Extent:   b,
		})
	}
	return out, nil
}

func (a *Adapter) FetchAndParse(ctx context.Context, p model.PartitionDescriptor) ([]model.BuildingRecord, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, model.FetchError(p.ID, err)
	}
	q := query(p.Extent, int(a.timeout/time.Second))
	b, err := a.exec.PostForm(ctx, "overpass", p.URL, url.Values{"data": {q}})
	if err != nil {
		var se *executor.StatusError
		if errors.As(err, &se) && (se.Code == http.StatusTooManyRequests || se.Code == http.StatusGatewayTimeout) {
			a.logger.WarnContext(ctx, "overpass is throttling", "partition", p.ID, "status", se.Code)
		}
		return nil, model.FetchError(p.ID, err)
	}
	recs, err := decode(b)
	if err != nil {
		return nil, model.ParseError(p.ID, err)
	}
	return recs, nil
}
