// Package h3mapper covers an AreaOfInterest with H3 cells.
package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"

	"github.com/osgeonepal/obe/internal/core/model"
)

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// CellsForAOI returns the sorted cells at res whose boundary intersects the
// AOI. Polyfill only selects cells whose centre is inside a polygon, so the
// fill is widened by one ring and by the cells holding each vertex, then
// trimmed back by an exact intersection test.
func (m *Mapper) CellsForAOI(a *model.AreaOfInterest, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}

	candidates := make(map[h3.Cell]struct{})
	for i, p := range a.Polygons() {
		outer := toLoop(p[0])
		if len(outer) < 3 {
			return nil, fmt.Errorf("polygon %d outer ring has < 3 vertices", i)
		}
		var holes []h3.GeoLoop
		for _, r := range p[1:] {
			if h := toLoop(r); len(h) >= 3 {
				holes = append(holes, h)
			}
		}
		filled, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer, Holes: holes}, res)
		if err != nil {
			return nil, fmt.Errorf("h3 polyfill: %w", err)
		}
		for _, ll := range outer {
			c, err := h3.LatLngToCell(ll, res)
			if err != nil {
				return nil, fmt.Errorf("h3 vertex cell: %w", err)
			}
			filled = append(filled, c)
		}
		for _, c := range filled {
			disk, err := c.GridDisk(1)
			if err != nil {
				return nil, fmt.Errorf("h3 grid disk: %w", err)
			}
			for _, d := range disk {
				candidates[d] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(candidates))
	for c := range candidates {
		poly, err := cellPolygon(c)
		if err != nil {
			return nil, err
		}
		if a.Intersects(poly) {
			out = append(out, c.String())
		}
	}
	sort.Strings(out)
	return out, nil
}

// CellPolygon returns the closed boundary ring of cell in lon/lat.
func (m *Mapper) CellPolygon(cell string) (orb.Polygon, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return nil, fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return nil, fmt.Errorf("invalid h3 cell %q", cell)
	}
	return cellPolygon(c)
}

func cellPolygon(c h3.Cell) (orb.Polygon, error) {
	b, err := c.Boundary()
	if err != nil {
		return nil, fmt.Errorf("h3 boundary: %w", err)
	}
	if len(b) < 3 {
		return nil, errors.New("h3 boundary has < 3 vertices")
	}
	ring := make(orb.Ring, 0, len(b)+1)
	for _, ll := range b {
		ring = append(ring, orb.Point{ll.Lng, ll.Lat})
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}, nil
}

// --- helpers ---

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// Convert a ring to an h3.GeoLoop (in degrees), dropping the closing vertex.
func toLoop(r orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, p := range r {
		loop = append(loop, h3.LatLng{Lat: p.Y(), Lng: p.X()})
	}
	if len(loop) >= 2 && loop[0] == loop[len(loop)-1] {
		loop = loop[:len(loop)-1]
	}
	return loop
}
