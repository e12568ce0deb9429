// Package executor performs upstream HTTP requests for catalogs and partitions.
package executor

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/osgeonepal/obe/internal/core/observability"
)

type Interface interface {
	// Open streams the response body, transparently gunzipping gzip payloads.
	Open(ctx context.Context, upstream, rawURL string) (io.ReadCloser, error)
	Get(ctx context.Context, upstream, rawURL string) ([]byte, error)
	PostForm(ctx context.Context, upstream, rawURL string, form url.Values) ([]byte, error)
}

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Upstream string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Upstream, e.Code, e.Body)
}

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		logger:   logger,
		client:   client,
		startNow: time.Now,
	}
}

func (e *Executor) Open(ctx context.Context, upstream, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return e.do(req, upstream)
}

func (e *Executor) Get(ctx context.Context, upstream, rawURL string) ([]byte, error) {
	rc, err := e.Open(ctx, upstream, rawURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

func (e *Executor) PostForm(ctx context.Context, upstream, rawURL string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rc, err := e.do(req, upstream)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

func (e *Executor) do(req *http.Request, upstream string) (io.ReadCloser, error) {
	start := e.startNow()
	resp, err := e.client.Do(req)
	dur := time.Since(start)
	observability.ObserveUpstreamLatency(upstream, dur.Seconds())
	if err != nil {
		observability.IncUpstreamError(upstream)
		return nil, fmt.Errorf("do request: %w", err)
	}

	e.logger.Debug("upstream response",
		"upstream", upstream,
		"url", req.URL.Redacted(),
		"status", resp.StatusCode,
		"duration", dur.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		_ = resp.Body.Close()
		observability.IncUpstreamError(upstream)
		return nil, &StatusError{Upstream: upstream, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	body, err := decode(resp.Body)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return body, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// decode sniffs the gzip magic so callers never care whether a host set
// Content-Encoding or just served a .gz object.
func decode(body io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(body, 64<<10)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &readCloser{Reader: zr, closers: []io.Closer{zr, body}}, nil
	}
	return &readCloser{Reader: br, closers: []io.Closer{body}}, nil
}
