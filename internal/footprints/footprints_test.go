package footprints

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"

	"github.com/osgeonepal/obe/internal/core/config"
	"github.com/osgeonepal/obe/internal/core/executor"
	"github.com/osgeonepal/obe/internal/core/model"
	"github.com/osgeonepal/obe/internal/events"
	"github.com/osgeonepal/obe/internal/sources"
	_ "github.com/osgeonepal/obe/internal/sources/all"
)

const pokharaJSON = `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},
"geometry":{"type":"Polygon","coordinates":[[
[83.96184435207743,28.212767538129086],[83.96184435207743,28.20236573207498],
[83.97605449676462,28.20236573207498],[83.97605449676462,28.212767538129086],
[83.96184435207743,28.212767538129086]]]}}]}`

// inside and outside the Pokhara rectangle
var (
	in1 = orb.Point{83.965, 28.205}
	in2 = orb.Point{83.970, 28.210}
	in3 = orb.Point{83.975, 28.208}
	out = orb.Point{84.5, 28.5}
)

type fakeAdapter struct {
	name    string
	parts   []model.PartitionDescriptor
	payload map[string][]model.BuildingRecord
	fail    map[string]error
	panicOn string
	calls   atomic.Int32
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Schema() model.Schema {
	return model.Schema{
		Key:      "id",
		Geometry: model.GeometryPoint,
		Fields:   []model.Field{{Name: "id", Type: model.FieldString}, {Name: "height", Type: model.FieldFloat}},
	}
}
func (f *fakeAdapter) Validate(sources.Params) error { return nil }
func (f *fakeAdapter) ResolvePartitions(context.Context, *model.AreaOfInterest, sources.Params) ([]model.PartitionDescriptor, error) {
	return f.parts, nil
}
func (f *fakeAdapter) FetchAndParse(_ context.Context, p model.PartitionDescriptor) ([]model.BuildingRecord, error) {
	f.calls.Add(1)
	if p.ID == f.panicOn {
		panic("corrupt payload")
	}
	if err := f.fail[p.ID]; err != nil {
		return nil, err
	}
	return f.payload[p.ID], nil
}

func register(t *testing.T, f *fakeAdapter) {
	t.Helper()
	f.name = strings.ToLower(strings.NewReplacer("/", "-", " ", "-").Replace(t.Name()))
	sources.Register(f.name, func(sources.Deps) (sources.Adapter, error) { return f, nil })
}

func rec(id string, p orb.Point) model.BuildingRecord {
	return model.BuildingRecord{Geometry: p, Properties: map[string]any{"id": id, "height": "3.5", "extra": true}}
}

func threePartitions() *fakeAdapter {
	return &fakeAdapter{
		parts: []model.PartitionDescriptor{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}},
		payload: map[string][]model.BuildingRecord{
			"p1": {rec("a", in1), rec("x", out)},
			"p2": {rec("b", in2)},
			"p3": {rec("c", in3)},
		},
		fail: map[string]error{},
	}
}

func ids(c *model.ResultCollection) []string {
	out := make([]string, 0, c.Len())
	for _, r := range c.Records {
		out = append(out, fmt.Sprint(r.Properties["id"]))
	}
	return out
}

func newService(cfg config.Config, opts ...Option) *Service {
	return New(cfg, nil, executor.New(nil, nil), nil, opts...)
}

func TestRetrieve_AllPartitionsSucceed(t *testing.T) {
	fa := threePartitions()
	register(t, fa)

	res, err := newService(config.Config{FetchWorkers: 2}).Retrieve(context.Background(),
		Request{Source: fa.name, AOI: []byte(pokharaJSON)})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got := fmt.Sprint(ids(res.Collection)); got != "[a b c]" {
		t.Fatalf("ids = %s", got)
	}
	s := res.Summary
	if s.Partitions != 3 || s.Succeeded != 3 || s.Failed != 0 || s.Fetched != 4 || s.Records != 3 {
		t.Fatalf("summary = %+v", s)
	}
	if s.Outcome() != "ok" || res.RunID == "" {
		t.Fatalf("outcome = %s run = %q", s.Outcome(), res.RunID)
	}
	r := res.Collection.Records[0]
	if r.Properties["height"] != 3.5 {
		t.Fatalf("height not normalized: %#v", r.Properties["height"])
	}
	if _, ok := r.Properties["extra"]; ok {
		t.Fatalf("unknown attribute kept: %v", r.Properties)
	}
}

func TestRetrieve_PartialFailureKeepsOtherPartitions(t *testing.T) {
	for _, kind := range []string{"fetch", "parse", "plain", "panic"} {
		t.Run(kind, func(t *testing.T) {
			fa := threePartitions()
			switch kind {
			case "fetch":
				fa.fail["p2"] = model.FetchError("p2", errors.New("503"))
			case "parse":
				fa.fail["p2"] = model.ParseError("p2", errors.New("bad csv"))
			case "plain":
				fa.fail["p2"] = errors.New("connection reset")
			case "panic":
				fa.panicOn = "p2"
			}
			register(t, fa)

			res, err := newService(config.Config{FetchWorkers: 3}).Retrieve(context.Background(),
				Request{Source: fa.name, AOI: []byte(pokharaJSON)})
			if err != nil {
				t.Fatalf("Retrieve: %v", err)
			}
			if got := fmt.Sprint(ids(res.Collection)); got != "[a c]" {
				t.Fatalf("ids = %s, want partitions 1 and 3", got)
			}
			s := res.Summary
			if s.Failed != 1 || s.Succeeded != 2 || s.Outcome() != "partial" {
				t.Fatalf("summary = %+v", s)
			}
			pe := s.Failures[0]
			if pe.Partition != "p2" {
				t.Fatalf("failure = %+v", pe)
			}
			wantPhase := "fetch"
			if kind == "parse" {
				wantPhase = "parse"
			}
			if pe.Phase() != wantPhase {
				t.Fatalf("phase = %s, want %s", pe.Phase(), wantPhase)
			}
		})
	}
}

func TestRetrieve_AllFailed(t *testing.T) {
	fa := threePartitions()
	for _, id := range []string{"p1", "p2", "p3"} {
		fa.fail[id] = errors.New("down")
	}
	register(t, fa)

	res, err := newService(config.Config{}).Retrieve(context.Background(),
		Request{Source: fa.name, AOI: []byte(pokharaJSON)})
	if err != nil {
		t.Fatalf("default all-failed should succeed: %v", err)
	}
	if res.Collection.Len() != 0 || !res.Summary.AllFailed || res.Summary.Outcome() != "failed" {
		t.Fatalf("result = %+v", res.Summary)
	}
	if len(res.Collection.Schema.Fields) != 2 || res.Collection.CRS != model.CRS {
		t.Fatalf("empty collection lost its schema: %+v", res.Collection)
	}

	_, err = newService(config.Config{FailOnAllFailed: true}).Retrieve(context.Background(),
		Request{Source: fa.name, AOI: []byte(pokharaJSON)})
	if !errors.Is(err, model.ErrAllPartitionsFailed) {
		t.Fatalf("err = %v, want ErrAllPartitionsFailed", err)
	}
}

func TestRetrieve_NoPartitionsIsEmptyResult(t *testing.T) {
	fa := &fakeAdapter{}
	register(t, fa)

	res, err := newService(config.Config{FailOnAllFailed: true}).Retrieve(context.Background(),
		Request{Source: fa.name, AOI: []byte(pokharaJSON)})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Collection.Len() != 0 || res.Summary.Outcome() != "empty" || res.Summary.AllFailed {
		t.Fatalf("summary = %+v", res.Summary)
	}
}

func TestRetrieve_CanceledContext(t *testing.T) {
	fa := threePartitions()
	register(t, fa)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newService(config.Config{}).Retrieve(ctx, Request{Source: fa.name, AOI: []byte(pokharaJSON)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := fa.calls.Load(); n != 0 {
		t.Fatalf("%d partitions dispatched after cancel", n)
	}
}

type countingExec struct{ n atomic.Int32 }

func (c *countingExec) Open(context.Context, string, string) (io.ReadCloser, error) {
	c.n.Add(1)
	return nil, errors.New("unexpected")
}
func (c *countingExec) Get(context.Context, string, string) ([]byte, error) {
	c.n.Add(1)
	return nil, errors.New("unexpected")
}
func (c *countingExec) PostForm(context.Context, string, string, url.Values) ([]byte, error) {
	c.n.Add(1)
	return nil, errors.New("unexpected")
}

func TestRetrieve_RequestErrorsBeforeIO(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"unknown source", Request{Source: "bogus", AOI: []byte(pokharaJSON)}, model.ErrUnknownSource},
		{"microsoft without location", Request{Source: "microsoft", AOI: []byte(pokharaJSON)}, model.ErrMissingLocationParameter},
		{"invalid aoi", Request{Source: "google", AOI: 42}, model.ErrInvalidInputKind},
		{"point aoi", Request{Source: "google", AOI: []byte(`{"type":"Point","coordinates":[1,2]}`)}, model.ErrInvalidInputKind},
		{"overture unconfigured", Request{Source: "overture", AOI: []byte(pokharaJSON)}, model.ErrSourceNotConfigured},
	}
	for _, tc := range cases {
		ex := &countingExec{}
		svc := New(config.FromEnv(), nil, ex, nil)
		_, err := svc.Retrieve(context.Background(), tc.req)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
		if tc.want != model.ErrSourceNotConfigured && !IsInputError(err) {
			t.Fatalf("%s: not classified as an input error", tc.name)
		}
		if ex.n.Load() != 0 {
			t.Fatalf("%s: %d upstream calls", tc.name, ex.n.Load())
		}
	}
}

type capturePublisher struct {
	mu  sync.Mutex
	evs []events.Event
}

func (c *capturePublisher) Publish(ev events.Event) {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
}

func TestRetrieve_PublishesRunEvent(t *testing.T) {
	fa := threePartitions()
	fa.fail["p3"] = errors.New("timeout")
	register(t, fa)

	pub := &capturePublisher{}
	_, err := newService(config.Config{}, WithPublisher(pub)).Retrieve(context.Background(),
		Request{Source: fa.name, AOI: []byte(pokharaJSON)})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(pub.evs) != 1 {
		t.Fatalf("events = %d", len(pub.evs))
	}
	ev := pub.evs[0]
	if ev.Source != fa.name || ev.Outcome != "partial" || ev.Records != 2 || len(ev.Bound) != 4 {
		t.Fatalf("event = %+v", ev)
	}
	if fmt.Sprint(ev.Failures) != "[p3]" {
		t.Fatalf("failures = %v", ev.Failures)
	}
}

// End-to-end runs against httptest fixtures.

func TestRetrieve_GoogleEndToEnd(t *testing.T) {
	csv := strings.Join([]string{
		// latitude,longitude,area_in_meters,confidence,geometry,full_plus_code
		`28.2050,83.9650,85.2,0.81,"POLYGON((83.9649 28.2049, 83.9651 28.2049, 83.9651 28.2051, 83.9649 28.2051, 83.9649 28.2049))",7MV7633P+2X`,
		`28.2100,83.9700,40.0,0.74,"POLYGON((83.9699 28.2099, 83.9701 28.2099, 83.9701 28.2101, 83.9699 28.2101, 83.9699 28.2099))",7MV7663C+22`,
		`28.3000,83.9700,12.0,0.66,"POLYGON((83.9699 28.2999, 83.9701 28.2999, 83.9701 28.3001, 83.9699 28.3001, 83.9699 28.2999))",7MV78633+22`,
	}, "\n") + "\n"

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tiles.geojson":
			_, _ = fmt.Fprintf(w, `{"type":"FeatureCollection","features":[
			{"type":"Feature","properties":{"tile_id":"3bd","tile_url":"%[1]s/v3/polygons_s2_level_6_gzip_no_header/3bd_buildings.csv.gz"},
			 "geometry":{"type":"Polygon","coordinates":[[[83,27],[85,27],[85,29],[83,29],[83,27]]]}},
			{"type":"Feature","properties":{"tile_id":"0a1","tile_url":"%[1]s/v3/polygons_s2_level_6_gzip_no_header/0a1_buildings.csv.gz"},
			 "geometry":{"type":"Polygon","coordinates":[[[10,10],[11,10],[11,11],[10,11],[10,10]]]}}]}`, srv.URL)
		case "/v3/polygons_s2_level_6_gzip_no_header/3bd_buildings.csv.gz":
			_, _ = io.WriteString(w, csv)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := config.FromEnv()
	cfg.Google.TilesURL = srv.URL + "/tiles.geojson"
	res, err := New(cfg, nil, nil, nil).Retrieve(context.Background(),
		Request{Source: "Google", AOI: []byte(pokharaJSON)})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Summary.Partitions != 1 || res.Summary.Failed != 0 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	if res.Collection.Len() != 2 {
		t.Fatalf("records = %d, want the two inside the aoi", res.Collection.Len())
	}
	bound := res.AOI.Bound()
	for _, r := range res.Collection.Records {
		if !bound.Contains(r.Geometry.Bound().Center()) || !res.AOI.Intersects(r.Geometry) {
			t.Fatalf("record outside aoi: %v", r.Geometry)
		}
		if r.Properties["area_in_meters"] == nil || r.Properties["confidence"] == nil {
			t.Fatalf("missing attributes: %v", r.Properties)
		}
	}
}

func quadkey(t maptile.Tile) string {
	var b strings.Builder
	for i := t.Z; i > 0; i-- {
		d := byte('0')
		mask := uint32(1) << (i - 1)
		if t.X&mask != 0 {
			d++
		}
		if t.Y&mask != 0 {
			d += 2
		}
		b.WriteByte(d)
	}
	return b.String()
}

func TestRetrieve_MicrosoftEndToEnd(t *testing.T) {
	tile := maptile.At(orb.Point{83.969, 28.207}, 9)
	qk := quadkey(tile)

	feature := func(p orb.Point, h float64) string {
		f := geojson.NewFeature(orb.Bound{Min: orb.Point{p.X() - 0.0001, p.Y() - 0.0001}, Max: orb.Point{p.X() + 0.0001, p.Y() + 0.0001}}.ToPolygon())
		f.Properties["height"] = h
		f.Properties["confidence"] = -1
		b, _ := f.MarshalJSON()
		return string(b)
	}
	lines := strings.Join([]string{feature(in1, 6.2), feature(in2, -1), feature(out, 4)}, "\n")

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dataset-links.csv":
			_, _ = fmt.Fprintf(w, "Location,QuadKey,Url,Size,UploadDate\nNepal,%[2]s,%[1]s/Nepal/%[2]s.csv.gz,10KB,2023-05-01\n", srv.URL, qk)
		case "/Nepal/" + qk + ".csv.gz":
			_, _ = io.WriteString(w, lines)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := config.FromEnv()
	cfg.Microsoft.LinksURL = srv.URL + "/dataset-links.csv"
	res, err := New(cfg, nil, nil, nil).Retrieve(context.Background(), Request{
		Source: "microsoft",
		AOI:    []byte(pokharaJSON),
		Params: sources.Params{sources.ParamLocation: "Nepal"},
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Collection.Len() != 2 {
		t.Fatalf("records = %d, want 2", res.Collection.Len())
	}
	for _, r := range res.Collection.Records {
		for _, k := range []string{"height", "confidence", "id"} {
			if r.Properties[k] == nil {
				t.Fatalf("record missing %s: %v", k, r.Properties)
			}
		}
		if r.Properties["quadkey"] != qk {
			t.Fatalf("quadkey = %v", r.Properties["quadkey"])
		}
	}
}

func TestRetrieve_DisjointAOIIsEmpty(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"tile_url":"%s/t.csv.gz"},
		 "geometry":{"type":"Polygon","coordinates":[[[10,10],[11,10],[11,11],[10,11],[10,10]]]}}]}`, srv.URL)
	}))
	defer srv.Close()

	cfg := config.FromEnv()
	cfg.Google.TilesURL = srv.URL
	res, err := New(cfg, nil, nil, nil).Retrieve(context.Background(), Request{Source: "google", AOI: []byte(pokharaJSON)})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Summary.Partitions != 0 || res.Collection.Len() != 0 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	names := res.Collection.Schema.Names()
	if len(names) == 0 || names[0] != "latitude" {
		t.Fatalf("schema = %v", names)
	}
}
