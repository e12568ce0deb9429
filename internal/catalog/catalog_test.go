package catalog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/osgeonepal/obe/internal/cache/keys"
	"github.com/osgeonepal/obe/internal/cache/redisstore"
	"github.com/osgeonepal/obe/internal/core/executor"
)

func countingUpstream(t *testing.T, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetch_NoStoreAlwaysHitsUpstream(t *testing.T) {
	srv, hits := countingUpstream(t, "catalog")
	l := NewLoader(executor.New(nil, nil), nil, time.Hour, nil)

	for range 2 {
		b, err := l.Fetch(context.Background(), "google", srv.URL)
		if err != nil || string(b) != "catalog" {
			t.Fatalf("Fetch = %q, %v", b, err)
		}
	}
	if hits.Load() != 2 {
		t.Fatalf("upstream hits = %d, want 2", hits.Load())
	}
}

func TestFetch_MemoryStoreServesSecondCall(t *testing.T) {
	srv, hits := countingUpstream(t, "catalog")
	l := NewLoader(executor.New(nil, nil), NewMemoryStore(4, time.Hour), time.Hour, nil)

	for range 3 {
		if _, err := l.Fetch(context.Background(), "google", srv.URL); err != nil {
			t.Fatalf("Fetch: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("upstream hits = %d, want 1", hits.Load())
	}
}

func TestFetch_RedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	srv, hits := countingUpstream(t, "Location,QuadKey,Url\n")
	l := NewLoader(executor.New(nil, nil), NewRedisStore(rc), 10*time.Minute, nil)

	if _, err := l.Fetch(context.Background(), "microsoft", srv.URL); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	key := keys.Catalog("microsoft", srv.URL)
	if !mr.Exists(key) {
		t.Fatalf("catalog not written to redis under %s", key)
	}
	if ttl := mr.TTL(key); ttl != 10*time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}

	if _, err := l.Fetch(context.Background(), "microsoft", srv.URL); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("upstream hits = %d, want 1", hits.Load())
	}
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("down")
}
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("down")
}

func TestFetch_StoreFailureFallsThrough(t *testing.T) {
	srv, _ := countingUpstream(t, "catalog")
	l := NewLoader(executor.New(nil, nil), brokenStore{}, time.Hour, nil)
	b, err := l.Fetch(context.Background(), "google", srv.URL)
	if err != nil || string(b) != "catalog" {
		t.Fatalf("Fetch = %q, %v", b, err)
	}
}

func TestFetch_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	l := NewLoader(executor.New(nil, nil), nil, time.Hour, nil)
	_, err := l.Fetch(context.Background(), "google", srv.URL)
	var se *executor.StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("err = %v", err)
	}
}
