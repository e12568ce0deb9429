package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/osgeonepal/obe/internal/aoi"
	"github.com/osgeonepal/obe/internal/core/config"
	"github.com/osgeonepal/obe/internal/core/model"
	"github.com/osgeonepal/obe/internal/footprints"
	"github.com/osgeonepal/obe/internal/sources"
)

const squareAOI = `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`

type fakeExtractor struct {
	last footprints.Request
	err  error
}

func (f *fakeExtractor) Retrieve(_ context.Context, req footprints.Request) (*footprints.Result, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	a, err := aoi.Load(req.AOI)
	if err != nil {
		return nil, err
	}
	c := model.NewResultCollection(strings.ToLower(req.Source), model.Schema{
		Fields: []model.Field{{Name: "id", Type: model.FieldString}},
	})
	c.Append(model.BuildingRecord{Geometry: orb.Point{0.5, 0.5}, Properties: map[string]any{"id": "x"}})
	return &footprints.Result{
		RunID:      "run-1",
		AOI:        a,
		Collection: c,
		Summary:    footprints.Summary{Partitions: 3, Succeeded: 2, Failed: 1, Records: 1},
	}, nil
}

func (f *fakeExtractor) Sources() []sources.Info {
	return []sources.Info{{Name: "google", Geometry: "Point"}}
}

func newHandler(ex Extractor) http.HandlerFunc {
	return HandleExtract(slog.New(slog.NewTextHandler(io.Discard, nil)), config.Config{MaxBodyBytes: 1 << 20}, ex)
}

func TestHandleExtract_OK(t *testing.T) {
	ex := &fakeExtractor{}
	req := httptest.NewRequest(http.MethodPost, "/v1/extract?source=Microsoft&location=Nepal&format=geojson", strings.NewReader(squareAOI))
	rr := httptest.NewRecorder()
	newHandler(ex)(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if ex.last.Source != "Microsoft" || ex.last.Params.Get(sources.ParamLocation) != "Nepal" {
		t.Fatalf("request = %+v", ex.last)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Fatalf("content-type = %q", ct)
	}
	if got := rr.Header().Get("X-OBE-AOI-BBox"); got != "0,0,1,1" {
		t.Fatalf("bbox header = %q", got)
	}
	if rr.Header().Get("X-OBE-Partitions-Failed") != "1" || rr.Header().Get("X-OBE-Run-ID") != "run-1" {
		t.Fatalf("headers = %v", rr.Header())
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "output_microsoft_buildings.geojson") {
		t.Fatalf("content-disposition = %q", cd)
	}
	var fc struct {
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &fc); err != nil || len(fc.Features) != 1 {
		t.Fatalf("body = %s (%v)", rr.Body.String(), err)
	}
}

func TestHandleExtract_BadRequests(t *testing.T) {
	cases := []struct {
		name, url, body string
	}{
		{"missing source", "/v1/extract", squareAOI},
		{"bad format", "/v1/extract?source=google&format=kml", squareAOI},
		{"empty body", "/v1/extract?source=google", "  "},
	}
	for _, tc := range cases {
		ex := &fakeExtractor{}
		rr := httptest.NewRecorder()
		newHandler(ex)(rr, httptest.NewRequest(http.MethodPost, tc.url, strings.NewReader(tc.body)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", tc.name, rr.Code)
		}
		if ex.last.Source != "" {
			t.Fatalf("%s: extractor was called", tc.name)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("x: %w", model.ErrUnknownSource):            http.StatusBadRequest,
		model.ErrMissingLocationParameter:                       http.StatusBadRequest,
		model.ErrInvalidInputKind:                               http.StatusBadRequest,
		model.ErrSourceNotConfigured:                            http.StatusNotImplemented,
		fmt.Errorf("x: %w", model.ErrAllPartitionsFailed):       http.StatusBadGateway,
		fmt.Errorf("resolve: %w", context.DeadlineExceeded):     http.StatusGatewayTimeout,
		errors.New("catalog fetch: upstream status 500: broken"): http.StatusBadGateway,
	}
	for err, want := range cases {
		if got := StatusFor(err); got != want {
			t.Fatalf("StatusFor(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestHandleExtract_ErrorStatus(t *testing.T) {
	ex := &fakeExtractor{err: fmt.Errorf("%w: location is required", model.ErrMissingLocationParameter)}
	rr := httptest.NewRecorder()
	newHandler(ex)(rr, httptest.NewRequest(http.MethodPost, "/v1/extract?source=microsoft", strings.NewReader(squareAOI)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || !strings.Contains(body["error"], "location") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestHandleBBox(t *testing.T) {
	rr := httptest.NewRecorder()
	HandleBBox(config.Config{})(rr, httptest.NewRequest(http.MethodPost, "/v1/bbox", strings.NewReader(squareAOI)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var out struct {
		BBox []float64 `json:"bbox"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil || fmt.Sprint(out.BBox) != "[0 0 1 1]" {
		t.Fatalf("body = %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	HandleBBox(config.Config{})(rr, httptest.NewRequest(http.MethodPost, "/v1/bbox", strings.NewReader(`{"type":"Point","coordinates":[0,0]}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("point aoi status=%d", rr.Code)
	}
}

func TestHandleSources(t *testing.T) {
	rr := httptest.NewRecorder()
	HandleSources(&fakeExtractor{})(rr, httptest.NewRequest(http.MethodGet, "/v1/sources", nil))
	if !strings.Contains(rr.Body.String(), `"google"`) || !strings.Contains(rr.Body.String(), `"geopackage"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}
