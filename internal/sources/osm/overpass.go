package osm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"github.com/osgeonepal/obe/internal/core/model"
)

// query selects building ways and multipolygon relations in a bbox and asks
// Overpass to inline member geometry.
func query(b orb.Bound, timeoutSec int) string {
	bbox := fmt.Sprintf("%.7f,%.7f,%.7f,%.7f", b.Min.Y(), b.Min.X(), b.Max.Y(), b.Max.X())
	return fmt.Sprintf(`[out:json][timeout:%d];(way["building"](%s);relation["building"]["type"="multipolygon"](%s););out geom;`,
		timeoutSec, bbox, bbox)
}

type response struct {
	Remark   string    `json:"remark"`
	Elements []element `json:"elements"`
}

type element struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Tags     map[string]string `json:"tags"`
	Geometry []latLon          `json:"geometry"`
	Members  []member          `json:"members"`
}

type member struct {
	Type     string   `json:"type"`
	Role     string   `json:"role"`
	Geometry []latLon `json:"geometry"`
}

type latLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func decode(b []byte) ([]model.BuildingRecord, error) {
	var resp response
	if err := json.Unmarshal(b, &resp); err != nil {
		return nil, fmt.Errorf("decode overpass json: %w", err)
	}
	// Overpass reports query timeouts as a 200 with a remark.
	if r := strings.ToLower(resp.Remark); strings.Contains(r, "runtime error") || strings.Contains(r, "timed out") {
		return nil, fmt.Errorf("overpass: %s", resp.Remark)
	}

	out := make([]model.BuildingRecord, 0, len(resp.Elements))
	for _, el := range resp.Elements {
		var g orb.Geometry
		switch el.Type {
		case "way":
			ring := toRing(el.Geometry)
			if len(ring) < 4 || !ring.Closed() {
				continue
			}
			g = orb.Polygon{ring}
		case "relation":
			mp := assemble(el.Members)
			switch len(mp) {
			case 0:
				continue
			case 1:
				g = mp[0]
			default:
				g = mp
			}
		default:
			continue
		}
		out = append(out, model.BuildingRecord{Geometry: g, Properties: properties(el, g)})
	}
	return out, nil
}

func properties(el element, g orb.Geometry) map[string]any {
	p := map[string]any{
		"osm_id":         el.Type + "/" + strconv.FormatInt(el.ID, 10),
		"osm_type":       el.Type,
		"building":       el.Tags["building"],
		"area_in_meters": geo.Area(g),
	}
	if v := el.Tags["name"]; v != "" {
		p["name"] = v
	}
	if h, ok := parseMeters(el.Tags["height"]); ok {
		p["height"] = h
	}
	if n, err := strconv.Atoi(strings.TrimSpace(el.Tags["building:levels"])); err == nil {
		p["building_levels"] = n
	}
	return p
}

// parseMeters accepts "12", "12.5 m" and "12,5".
func parseMeters(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "m"))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	return f, err == nil
}

func toRing(pts []latLon) orb.Ring {
	r := make(orb.Ring, 0, len(pts))
	for _, p := range pts {
		r = append(r, orb.Point{p.Lon, p.Lat})
	}
	return r
}

// assemble joins relation member ways into rings and nests inner rings in
// the outer polygon that contains them.
func assemble(members []member) orb.MultiPolygon {
	var outerWays, innerWays [][]orb.Point
	for _, m := range members {
		if m.Type != "way" || len(m.Geometry) < 2 {
			continue
		}
		pts := []orb.Point(toRing(m.Geometry))
		if m.Role == "inner" {
			innerWays = append(innerWays, pts)
		} else {
			outerWays = append(outerWays, pts)
		}
	}

	var mp orb.MultiPolygon
	for _, r := range joinRings(outerWays) {
		mp = append(mp, orb.Polygon{r})
	}
	for _, hole := range joinRings(innerWays) {
		for i := range mp {
			if planar.RingContains(mp[i][0], hole[0]) {
				mp[i] = append(mp[i], hole)
				break
			}
		}
	}
	return mp
}

// joinRings stitches open ways end to end. Ways that never close are dropped.
func joinRings(ways [][]orb.Point) []orb.Ring {
	var rings []orb.Ring
	pending := append([][]orb.Point(nil), ways...)
	for len(pending) > 0 {
		cur := append([]orb.Point(nil), pending[0]...)
		pending = pending[1:]
		for !orb.Ring(cur).Closed() {
			joined := false
			for i, w := range pending {
				last := cur[len(cur)-1]
				switch {
				case w[0] == last:
					cur = append(cur, w[1:]...)
				case w[len(w)-1] == last:
					cur = append(cur, reversed(w)[1:]...)
				default:
					continue
				}
				pending = append(pending[:i], pending[i+1:]...)
				joined = true
				break
			}
			if !joined {
				break
			}
		}
		if r := orb.Ring(cur); len(r) >= 4 && r.Closed() {
			rings = append(rings, r)
		}
	}
	return rings
}

func reversed(w []orb.Point) []orb.Point {
	out := make([]orb.Point, len(w))
	for i, p := range w {
		out[len(w)-1-i] = p
	}
	return out
}
