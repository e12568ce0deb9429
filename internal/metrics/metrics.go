// Package metrics owns the Prometheus registry exposed by obe-server.
package metrics

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/osgeonepal/obe/internal/core/observability"
)

type BuildInfo struct {
	Version   string
	Revision  string
	BuildDate string
}

// Provider is a private registry holding the runtime collectors, the
// extractor's own vectors and obe_build_info.
type Provider struct {
	reg *prometheus.Registry
}

func New(build BuildInfo) (*Provider, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if build.Version == "" {
		build.Version = "dev"
	}
	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "obe_build_info",
		Help: "Build of the running obe binary (value is always 1).",
	}, []string{"version", "revision", "build_date", "go_version"})
	reg.MustRegister(info)
	info.WithLabelValues(build.Version, build.Revision, build.BuildDate, runtime.Version()).Set(1)

	if err := observability.Init(reg); err != nil {
		return nil, fmt.Errorf("register extractor metrics: %w", err)
	}
	return &Provider{reg: reg}, nil
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

// Register adds collectors owned by other packages.
func (p *Provider) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := p.reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
