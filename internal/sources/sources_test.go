package sources_test

import (
	"context"
	"errors"
	"testing"

	"github.com/osgeonepal/obe/internal/core/config"
	"github.com/osgeonepal/obe/internal/core/model"
	"github.com/osgeonepal/obe/internal/sources"
)

type stub struct{ needsLocation bool }

func (stub) Name() string { return "stub" }
func (stub) Schema() model.Schema {
	return model.Schema{Fields: []model.Field{{Name: "id"}, {Name: "height", Type: model.FieldFloat}}}
}
func (s stub) Validate(p sources.Params) error {
	if s.needsLocation && p.Get(sources.ParamLocation) == "" {
		return model.ErrMissingLocationParameter
	}
	return nil
}
func (stub) ResolvePartitions(context.Context, *model.AreaOfInterest, sources.Params) ([]model.PartitionDescriptor, error) {
	return nil, nil
}
func (stub) FetchAndParse(context.Context, model.PartitionDescriptor) ([]model.BuildingRecord, error) {
	return nil, nil
}

func init() {
	sources.Register("Stub", func(sources.Deps) (sources.Adapter, error) { return stub{needsLocation: true}, nil })
}

func TestNew_UnknownSource(t *testing.T) {
	_, err := sources.New("bogus", sources.Deps{})
	if !errors.Is(err, model.ErrUnknownSource) {
		t.Fatalf("err = %v, want ErrUnknownSource", err)
	}
}

func TestNew_CaseInsensitive(t *testing.T) {
	ad, err := sources.New(" STUB ", sources.Deps{})
	if err != nil || ad.Name() != "stub" {
		t.Fatalf("New = %v, %v", ad, err)
	}
}

func TestDescribe(t *testing.T) {
	var found bool
	for _, info := range sources.Describe(sources.Deps{}) {
		if info.Name != "stub" {
			continue
		}
		found = true
		if !info.RequiresLocation || !info.Configured {
			t.Fatalf("info = %+v", info)
		}
		if len(info.Fields) != 2 || info.Fields[1].Type != "float" {
			t.Fatalf("fields = %+v", info.Fields)
		}
	}
	if !found {
		t.Fatalf("registered stub missing from Describe")
	}
}

func TestCheck(t *testing.T) {
	var cfg config.Config
	if err := sources.Check("bogus", cfg, nil); !errors.Is(err, model.ErrUnknownSource) {
		t.Fatalf("err = %v, want ErrUnknownSource", err)
	}
	if err := sources.Check("stub", cfg, nil); !errors.Is(err, model.ErrMissingLocationParameter) {
		t.Fatalf("err = %v, want ErrMissingLocationParameter", err)
	}
	if err := sources.Check("stub", cfg, sources.Params{sources.ParamLocation: "Nepal"}); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestParamsGet(t *testing.T) {
	var p sources.Params
	if p.Get("x") != "" {
		t.Fatalf("nil params should read empty")
	}
	p = sources.Params{"location": "  Nepal "}
	if p.Get(sources.ParamLocation) != "Nepal" {
		t.Fatalf("Get did not trim")
	}
}
