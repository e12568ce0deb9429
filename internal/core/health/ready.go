package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// Pinger is a dependency the server needs before taking traffic, such as
// the redis catalog cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Readiness pings every dependency and answers 503 when any of them fails.
func Readiness(deps map[string]Pinger, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status string            `json:"status"`
			Deps   map[string]string `json:"deps,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		names := make([]string, 0, len(deps))
		for n := range deps {
			names = append(names, n)
		}
		sort.Strings(names)

		out := resp{Status: "ready", Deps: map[string]string{}}
		for _, n := range names {
			if err := deps[n].Ping(ctx); err != nil {
				out.Status = "not_ready"
				out.Deps[n] = err.Error()
				continue
			}
			out.Deps[n] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
