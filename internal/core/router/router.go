// Package router holds the /v1 HTTP handlers of the extraction server.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/osgeonepal/obe/internal/aoi"
	"github.com/osgeonepal/obe/internal/core/config"
	"github.com/osgeonepal/obe/internal/core/model"
	"github.com/osgeonepal/obe/internal/core/observability"
	"github.com/osgeonepal/obe/internal/footprints"
	"github.com/osgeonepal/obe/internal/output"
	"github.com/osgeonepal/obe/internal/sources"
)

// Extractor runs one retrieval; *footprints.Service implements it.
type Extractor interface {
	Retrieve(ctx context.Context, req footprints.Request) (*footprints.Result, error)
	Sources() []sources.Info
}

// ExtractRequest is a parsed POST /v1/extract call.
type ExtractRequest struct {
	Source   string
	Format   output.Format
	Location string
	AOI      []byte
}

// HandleExtract runs a retrieval for the GeoJSON AOI in the body and
// replies with the encoded file.
func HandleExtract(logger *slog.Logger, cfg config.Config, ex Extractor) http.HandlerFunc {
	const route = "/v1/extract"
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
		}()

		req, err := ParseExtractRequest(r, cfg.MaxBodyBytes)
		if err != nil {
			writeError(sw, http.StatusBadRequest, err)
			return
		}

		res, err := ex.Retrieve(r.Context(), footprints.Request{
			Source: req.Source,
			AOI:    req.AOI,
			Params: sources.Params{sources.ParamLocation: req.Location},
		})
		if err != nil {
			code := StatusFor(err)
			logger.WarnContext(r.Context(), "extract failed", "source", req.Source, "status", code, "err", err)
			writeError(sw, code, err)
			return
		}

		body, err := output.Encode(req.Format, res.Collection)
		if err != nil {
			logger.ErrorContext(r.Context(), "encode failed", "format", req.Format, "err", err)
			writeError(sw, http.StatusInternalServerError, err)
			return
		}

		b := res.AOI.Bound()
		h := sw.Header()
		h.Set("Content-Type", req.Format.ContentType())
		h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", output.DefaultPath("", res.Collection.Source, req.Format)))
		h.Set("X-OBE-Run-ID", res.RunID)
		h.Set("X-OBE-Records", strconv.Itoa(res.Summary.Records))
		h.Set("X-OBE-Partitions", strconv.Itoa(res.Summary.Partitions))
		h.Set("X-OBE-Partitions-Failed", strconv.Itoa(res.Summary.Failed))
		h.Set("X-OBE-AOI-BBox", formatBound(b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()))
		sw.WriteHeader(http.StatusOK)
		_, _ = sw.Write(body)
	}
}

// HandleSources lists the registered sources and their schemas.
func HandleSources(ex Extractor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sources": ex.Sources(),
			"formats": output.Formats(),
		})
		observability.ObserveHTTP(r.Method, "/v1/sources", http.StatusOK, time.Since(start).Seconds())
	}
}

// HandleBBox returns the bounding box of the posted AOI.
func HandleBBox(cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/v1/bbox", sw.code, time.Since(start).Seconds())
		}()

		body, err := readBody(r, cfg.MaxBodyBytes)
		if err != nil {
			writeError(sw, http.StatusBadRequest, err)
			return
		}
		a, err := aoi.Load(body)
		if err != nil {
			writeError(sw, http.StatusBadRequest, err)
			return
		}
		b := a.Bound()
		sw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(sw).Encode(map[string]any{
			"bbox":     []float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()},
			"polygons": len(a.Polygons()),
			"crs":      a.CRS(),
		})
	}
}

func ParseExtractRequest(r *http.Request, maxBody int64) (ExtractRequest, error) {
	q := r.URL.Query()

	src := strings.TrimSpace(q.Get("source"))
	if src == "" {
		return ExtractRequest{}, errors.New("missing required parameter: source")
	}

	format := output.GeoJSON
	if raw := strings.TrimSpace(q.Get("format")); raw != "" {
		f, err := output.ParseFormat(raw)
		if err != nil {
			return ExtractRequest{}, err
		}
		format = f
	}

	body, err := readBody(r, maxBody)
	if err != nil {
		return ExtractRequest{}, err
	}

	return ExtractRequest{
		Source:   src,
		Format:   format,
		Location: strings.TrimSpace(q.Get("location")),
		AOI:      body,
	}, nil
}

func readBody(r *http.Request, maxBody int64) ([]byte, error) {
	if maxBody <= 0 {
		maxBody = 16 << 20
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(b)) > maxBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBody)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, errors.New("missing GeoJSON area of interest in request body")
	}
	return b, nil
}

// StatusFor maps a retrieval error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case footprints.IsInputError(err):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrSourceNotConfigured):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func formatBound(v ...float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
