package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/osgeonepal/obe/internal/cache/keys"
	"github.com/osgeonepal/obe/internal/core/model"
	"github.com/osgeonepal/obe/internal/footprints"
)

const pokhara = `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{},
"geometry":{"type":"Polygon","coordinates":[[
[83.96184435207743,28.212767538129086],[83.96184435207743,28.20236573207498],
[83.97605449676462,28.20236573207498],[83.97605449676462,28.212767538129086],
[83.96184435207743,28.212767538129086]]]}}]}`

func writeAOI(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "pokhara.geojson")
	if err := os.WriteFile(p, []byte(pokhara), 0o600); err != nil {
		t.Fatalf("write aoi: %v", err)
	}
	return p
}

func testEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CATALOG_CACHE", "none")
	t.Setenv("EVENTS_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "error")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	testEnv(t)
	return executeWithEnv(t, args...)
}

// executeWithEnv runs the root command with whatever env the test set.
func executeWithEnv(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBBox(t *testing.T) {
	out, err := execute(t, "bbox", writeAOI(t))
	if err != nil {
		t.Fatalf("bbox: %v", err)
	}
	want := "83.96184435207743,28.20236573207498,83.97605449676462,28.212767538129086\n"
	if out != want {
		t.Fatalf("out = %q, want %q", out, want)
	}
}

func TestBBox_JSON(t *testing.T) {
	out, err := execute(t, "bbox", "--json", writeAOI(t))
	if err != nil {
		t.Fatalf("bbox: %v", err)
	}
	var got struct {
		BBox     []float64 `json:"bbox"`
		Polygons int       `json:"polygons"`
		CRS      string    `json:"crs"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(got.BBox) != 4 || got.Polygons != 1 || got.CRS != model.CRS {
		t.Fatalf("got %+v", got)
	}
}

func TestBBox_NotGeoJSON(t *testing.T) {
	p := filepath.Join(t.TempDir(), "area.kml")
	if err := os.WriteFile(p, []byte("<kml/>"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := execute(t, "bbox", p)
	if !errors.Is(err, model.ErrInvalidInputKind) {
		t.Fatalf("err = %v, want ErrInvalidInputKind", err)
	}
}

func TestSources_JSON(t *testing.T) {
	out, err := execute(t, "sources", "--json")
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	var infos []struct {
		Name             string `json:"name"`
		RequiresLocation bool   `json:"requires_location"`
	}
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := map[string]bool{}
	for _, in := range infos {
		got[in.Name] = in.RequiresLocation
	}
	if len(got) != 4 {
		t.Fatalf("sources = %v", got)
	}
	if !got["microsoft"] || got["google"] {
		t.Fatalf("requires_location = %v", got)
	}
}

func TestSources_Table(t *testing.T) {
	out, err := execute(t, "sources")
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if !strings.HasPrefix(out, "NAME") || !strings.Contains(out, "overture") {
		t.Fatalf("table = %q", out)
	}
}

func TestDownload_Google(t *testing.T) {
	csv := strings.Join([]string{
		`28.2050,83.9650,85.2,0.81,"POLYGON((83.9649 28.2049, 83.9651 28.2049, 83.9651 28.2051, 83.9649 28.2051, 83.9649 28.2049))",7MV7633P+2X`,
		`28.2100,83.9700,40.0,0.74,"POLYGON((83.9699 28.2099, 83.9701 28.2099, 83.9701 28.2101, 83.9699 28.2101, 83.9699 28.2099))",7MV7663C+22`,
		`28.3000,83.9700,12.0,0.66,"POLYGON((83.9699 28.2999, 83.9701 28.2999, 83.9701 28.3001, 83.9699 28.3001, 83.9699 28.2999))",7MV78633+22`,
	}, "\n") + "\n"

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tiles.geojson":
			_, _ = fmt.Fprintf(w, `{"type":"FeatureCollection","features":[
			{"type":"Feature","properties":{"tile_id":"3bd","tile_url":"%s/3bd_buildings.csv.gz"},
			 "geometry":{"type":"Polygon","coordinates":[[[83,27],[85,27],[85,29],[83,29],[83,27]]]}}]}`, srv.URL)
		case "/3bd_buildings.csv.gz":
			_, _ = io.WriteString(w, csv)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	t.Setenv("GOOGLE_TILES_URL", srv.URL+"/tiles.geojson")

	dst := filepath.Join(t.TempDir(), "out.geojson")
	out, err := execute(t, "download", "-s", "google", "-i", writeAOI(t), "-o", dst)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if !strings.Contains(out, "google: 2 buildings from 1/1 partitions") {
		t.Fatalf("summary = %q", out)
	}

	b, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features = %d, want 2", len(fc.Features))
	}
}

func TestDownload_MicrosoftNeedsLocation(t *testing.T) {
	_, err := execute(t, "download", "-s", "microsoft", "-i", writeAOI(t), "-o", filepath.Join(t.TempDir(), "x.geojson"))
	if !errors.Is(err, model.ErrMissingLocationParameter) || !footprints.IsInputError(err) {
		t.Fatalf("err = %v, want ErrMissingLocationParameter", err)
	}
}

func TestDownload_InputErrorsBeforeCacheIO(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	testEnv(t)
	t.Setenv("CATALOG_CACHE", "redis")
	t.Setenv("REDIS_ADDR", mr.Addr())
	area := writeAOI(t)

	_, err = executeWithEnv(t, "download", "-s", "bogus", "-i", area)
	if !errors.Is(err, model.ErrUnknownSource) {
		t.Fatalf("err = %v, want ErrUnknownSource", err)
	}
	_, err = executeWithEnv(t, "download", "-s", "microsoft", "-i", area)
	if !errors.Is(err, model.ErrMissingLocationParameter) {
		t.Fatalf("err = %v, want ErrMissingLocationParameter", err)
	}
	if n := mr.CommandCount(); n != 0 {
		t.Fatalf("redis saw %d commands before input validation", n)
	}

	// an unreachable cache must not mask the input error
	down, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Setenv("REDIS_ADDR", down.Addr())
	down.Close()
	_, err = executeWithEnv(t, "download", "-s", "bogus", "-i", area)
	if !footprints.IsInputError(err) {
		t.Fatalf("err = %v, want input error", err)
	}
}

func TestDownload_UnknownFormat(t *testing.T) {
	_, err := execute(t, "download", "-s", "google", "-i", writeAOI(t), "-f", "kml")
	if !footprints.IsInputError(err) {
		t.Fatalf("err = %v, want input error", err)
	}
}

func TestDownload_RequiresFlags(t *testing.T) {
	if _, err := execute(t, "download", "-s", "google"); err == nil {
		t.Fatal("expected missing --input error")
	}
}

func TestCachePurge(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	testEnv(t)
	t.Setenv("REDIS_ADDR", mr.Addr())

	google := keys.Catalog("google", "https://example.test/tiles.geojson")
	microsoft := keys.Catalog("microsoft", "https://example.test/links.csv")
	for _, k := range []string{google, microsoft, "unrelated"} {
		if err := mr.Set(k, "x"); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}

	out, err := executeWithEnv(t, "cache", "purge", "google")
	if err != nil {
		t.Fatalf("purge google: %v", err)
	}
	if !strings.Contains(out, "purged 1 ") || mr.Exists(google) || !mr.Exists(microsoft) {
		t.Fatalf("purge google: out %q, keys %v", out, mr.Keys())
	}

	if out, err = executeWithEnv(t, "cache", "purge"); err != nil {
		t.Fatalf("purge all: %v", err)
	}
	if !strings.Contains(out, "purged 1 ") || mr.Exists(microsoft) || !mr.Exists("unrelated") {
		t.Fatalf("purge all: out %q, keys %v", out, mr.Keys())
	}

	if _, err := executeWithEnv(t, "cache", "purge", "bogus"); !errors.Is(err, model.ErrUnknownSource) {
		t.Fatalf("err = %v, want ErrUnknownSource", err)
	}
}
