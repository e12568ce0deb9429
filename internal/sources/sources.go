// Package sources defines the adapter contract every building-footprint
// dataset implements, plus the name -> factory registry used to dispatch a
// retrieval to exactly one adapter.
package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/osgeonepal/obe/internal/catalog"
	"github.com/osgeonepal/obe/internal/core/config"
	"github.com/osgeonepal/obe/internal/core/executor"
	"github.com/osgeonepal/obe/internal/core/model"
)

// Params are per-request source options such as the Microsoft location.
type Params map[string]string

const ParamLocation = "location"

func (p Params) Get(k string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p[k])
}

type Adapter interface {
	Name() string
	Schema() model.Schema
	// Validate runs before any network I/O.
	Validate(params Params) error
	// ResolvePartitions returns the ordered, de-duplicated partitions whose
	// coverage intersects the AOI. No match is an empty slice, not an error.
	ResolvePartitions(ctx context.Context, a *model.AreaOfInterest, params Params) ([]model.PartitionDescriptor, error)
	// FetchAndParse returns the records of one partition in payload order.
	// Errors should be classified with model.FetchError / model.ParseError.
	FetchAndParse(ctx context.Context, p model.PartitionDescriptor) ([]model.BuildingRecord, error)
}

// Deps are shared by every adapter built for one retrieval.
type Deps struct {
	Config  config.Config
	Logger  *slog.Logger
	Exec    executor.Interface
	Catalog *catalog.Loader
}

type Factory func(d Deps) (Adapter, error)

var reg = map[string]Factory{}

func Register(name string, f Factory) {
	reg[strings.ToLower(name)] = f
}

func New(name string, d Deps) (Adapter, error) {
	f, ok := reg[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", model.ErrUnknownSource, name, strings.Join(Names(), ", "))
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	return f(d)
}

// Check resolves name and validates params without building any network
// dependency. Callers that set up caches or producers run it first so input
// errors surface before any I/O.
func Check(name string, cfg config.Config, params Params) error {
	ad, err := New(name, Deps{Config: cfg})
	if err != nil {
		return err
	}
	return ad.Validate(params)
}

func Names() []string {
	out := make([]string, 0, len(reg))
	for k := range reg {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type FieldInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Info struct {
	Name             string      `json:"name"`
	Geometry         string      `json:"geometry"`
	Fields           []FieldInfo `json:"fields"`
	RequiresLocation bool        `json:"requires_location"`
	Configured       bool        `json:"configured"`
}

// Describe lists every registered source. Building an adapter does no I/O.
func Describe(d Deps) []Info {
	var out []Info
	for _, name := range Names() {
		ad, err := New(name, d)
		if err != nil {
			out = append(out, Info{Name: name})
			continue
		}
		s := ad.Schema()
		info := Info{Name: ad.Name(), Geometry: s.Geometry.String()}
		for _, f := range s.Fields {
			info.Fields = append(info.Fields, FieldInfo{Name: f.Name, Type: f.Type.String()})
		}
		verr := ad.Validate(nil)
		info.RequiresLocation = errors.Is(verr, model.ErrMissingLocationParameter)
		info.Configured = !errors.Is(verr, model.ErrSourceNotConfigured)
		out = append(out, info)
	}
	return out
}
