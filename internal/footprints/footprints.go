// Package footprints runs one building-footprint retrieval: it dispatches to
// the source adapter, resolves partitions, fetches them on a bounded worker
// pool, filters records to the AOI and merges them into one collection.
package footprints

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/osgeonepal/obe/internal/aoi"
	"github.com/osgeonepal/obe/internal/catalog"
	"github.com/osgeonepal/obe/internal/core/config"
	"github.com/osgeonepal/obe/internal/core/executor"
	"github.com/osgeonepal/obe/internal/core/model"
	"github.com/osgeonepal/obe/internal/core/observability"
	"github.com/osgeonepal/obe/internal/events"
	"github.com/osgeonepal/obe/internal/logger"
	"github.com/osgeonepal/obe/internal/sources"
)

// Request selects a source and an AOI. AOI accepts whatever aoi.Load does:
// a GeoJSON file path, raw GeoJSON bytes, a decoded map or a
// *geojson.FeatureCollection.
type Request struct {
	Source string
	AOI    any
	Params sources.Params
}

// PartitionResult is the outcome of one partition. Records are the ones
// retained by the filter; Fetched counts what the payload held.
type PartitionResult struct {
	Partition model.PartitionDescriptor
	Records   []model.BuildingRecord
	Fetched   int
	Err       *model.PartitionError
	Duration  time.Duration
}

// Summary counts partitions, fetched and kept records, and failures of one run.
type Summary struct {
	Partitions int
	Succeeded  int
	Failed     int
	Fetched    int
	Records    int
	Failures   []*model.PartitionError
	Duration   time.Duration
	// AllFailed is set when there was at least one partition and none succeeded.
	AllFailed bool
}

// Outcome is "ok", "partial", "failed" or "empty" (no partitions matched).
func (s Summary) Outcome() string {
	switch {
	case s.Partitions == 0:
		return "empty"
	case s.AllFailed:
		return "failed"
	case s.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}

// Result is the output of Retrieve: the normalized collection plus its run summary.
type Result struct {
	RunID      string
	AOI        *model.AreaOfInterest
	Collection *model.ResultCollection
	Summary    Summary
}

// Service resolves, fetches, filters and aggregates buildings for a Request.
type Service struct {
	cfg       config.Config
	logger    *slog.Logger
	exec      executor.Interface
	catalog   *catalog.Loader
	publisher events.Publisher
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sends a run event for every retrieval that completes its
// partitions; nil keeps the no-op publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// New builds a Service. cat may be nil for an uncached catalog loader.
func New(cfg config.Config, lg *slog.Logger, exec executor.Interface, cat *catalog.Loader, opts ...Option) *Service {
	if lg == nil {
		lg = slog.New(slog.DiscardHandler)
	}
	if exec == nil {
		exec = executor.New(lg, nil)
	}
	if cat == nil {
		cat = catalog.NewLoader(exec, nil, cfg.Catalog.TTL, lg)
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 4
	}
	s := &Service{cfg: cfg, logger: lg, exec: exec, catalog: cat, publisher: events.Nop{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) deps() sources.Deps {
	return sources.Deps{Config: s.cfg, Logger: s.logger, Exec: s.exec, Catalog: s.catalog}
}

// Adapter builds the adapter registered under name with the service deps.
func (s *Service) Adapter(name string) (sources.Adapter, error) {
	return sources.New(name, s.deps())
}

// Sources describes every registered source as configured for this service.
func (s *Service) Sources() []sources.Info {
	return sources.Describe(s.deps())
}

// Retrieve runs one extraction. Unknown sources, invalid parameters and
// invalid AOI input fail before any network call. Per-partition failures are
// recorded in the summary and never abort the run; a cancelled context
// returns the context error.
func (s *Service) Retrieve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	ad, err := s.Adapter(req.Source)
	if err != nil {
		return nil, err
	}
	if err := ad.Validate(req.Params); err != nil {
		return nil, err
	}
	area, err := aoi.Load(req.AOI)
	if err != nil {
		return nil, err
	}

	runID := logger.RequestID(ctx)
	if runID == "" {
		runID = logger.NewID()
		ctx = logger.WithRequestID(ctx, runID)
	}
	ctx = logger.WithSource(ctx, ad.Name())

	parts, err := ad.ResolvePartitions(ctx, area, req.Params)
	if err != nil {
		observability.ObserveRun(ad.Name(), "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("resolve %s partitions: %w", ad.Name(), err)
	}
	s.logger.InfoContext(ctx, "partitions resolved", "partitions", len(parts))

	results, err := s.fetchAll(ctx, ad, area, parts)
	if err != nil {
		observability.ObserveRun(ad.Name(), "canceled", time.Since(start).Seconds())
		return nil, err
	}

	coll := Aggregate(ad.Name(), ad.Schema(), results)
	sum := summarize(results, coll.Len())
	sum.Duration = time.Since(start)

	observability.ObserveRun(ad.Name(), sum.Outcome(), sum.Duration.Seconds())
	observability.AddRecords(ad.Name(), "fetched", sum.Fetched)
	observability.AddRecords(ad.Name(), "retained", sum.Records)

	s.logger.InfoContext(ctx, "retrieval finished",
		"outcome", sum.Outcome(),
		"partitions", sum.Partitions, "succeeded", sum.Succeeded, "failed", sum.Failed,
		"fetched", sum.Fetched, "records", sum.Records,
		"duration", sum.Duration.String())

	s.publisher.Publish(runEvent(runID, ad.Name(), area, sum))

	if sum.AllFailed && s.cfg.FailOnAllFailed {
		return nil, fmt.Errorf("%w: %d of %d partitions failed, first: %v",
			model.ErrAllPartitionsFailed, sum.Failed, sum.Partitions, sum.Failures[0])
	}
	return &Result{RunID: runID, AOI: area, Collection: coll, Summary: sum}, nil
}

// fetchAll runs FetchAndParse plus the filter for every partition on the
// worker pool. Results keep the partition order.
func (s *Service) fetchAll(ctx context.Context, ad sources.Adapter, area *model.AreaOfInterest, parts []model.PartitionDescriptor) ([]PartitionResult, error) {
	results := make([]PartitionResult, len(parts))
	if len(parts) == 0 {
		return results, ctx.Err()
	}

	jobs := make(chan int)
	workerN := min(s.cfg.FetchWorkers, len(parts))

	var wg sync.WaitGroup
	wg.Add(workerN)
	for range workerN {
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = s.fetchOne(ctx, ad, area, parts[i])
			}
		}()
	}

	var canceled error
dispatch:
	for i := range parts {
		if err := ctx.Err(); err != nil {
			canceled = err
			break
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			canceled = ctx.Err()
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if canceled != nil {
		s.logger.WarnContext(ctx, "retrieval canceled", "err", canceled)
		return nil, canceled
	}
	return results, nil
}

func (s *Service) fetchOne(ctx context.Context, ad sources.Adapter, area *model.AreaOfInterest, p model.PartitionDescriptor) (pr PartitionResult) {
	start := time.Now()
	pr.Partition = p
	ctx = logger.WithPartition(ctx, p.ID)

	defer func() {
		if r := recover(); r != nil {
			pr.Records = nil
			pr.Err = model.AsPartitionError(p.ID, fmt.Errorf("panic: %v", r))
		}
		pr.Duration = time.Since(start)
		if pr.Err != nil {
			observability.IncPartition(ad.Name(), pr.Err.Phase()+"_error")
			s.logger.WarnContext(ctx, "partition failed",
				"phase", pr.Err.Phase(), "err", pr.Err.Err, "duration", pr.Duration.String())
			return
		}
		observability.IncPartition(ad.Name(), "ok")
		s.logger.DebugContext(ctx, "partition done",
			"fetched", pr.Fetched, "kept", len(pr.Records), "duration", pr.Duration.String())
	}()

	pctx := ctx
	if s.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
	}

	recs, err := ad.FetchAndParse(pctx, p)
	if err != nil {
		pr.Err = model.AsPartitionError(p.ID, err)
		return pr
	}
	pr.Fetched = len(recs)
	pr.Records = Filter(area, recs)
	return pr
}

func summarize(results []PartitionResult, records int) Summary {
	sum := Summary{Partitions: len(results), Records: records}
	for _, r := range results {
		if r.Err != nil {
			sum.Failed++
			sum.Failures = append(sum.Failures, r.Err)
			continue
		}
		sum.Succeeded++
		sum.Fetched += r.Fetched
	}
	sum.AllFailed = sum.Partitions > 0 && sum.Succeeded == 0
	return sum
}

func runEvent(runID, source string, area *model.AreaOfInterest, sum Summary) events.Event {
	b := area.Bound()
	ev := events.Event{
		RunID:      runID,
		Source:     source,
		Outcome:    sum.Outcome(),
		Partitions: sum.Partitions,
		Succeeded:  sum.Succeeded,
		Failed:     sum.Failed,
		Fetched:    sum.Fetched,
		Records:    sum.Records,
		Bound:      []float64{b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y()},
		DurationMS: sum.Duration.Milliseconds(),
		TS:         time.Now().UTC(),
	}
	for _, f := range sum.Failures {
		ev.Failures = append(ev.Failures, f.Partition)
	}
	return ev
}

// IsInputError reports whether err was caused by the caller's request rather
// than an upstream.
func IsInputError(err error) bool {
	return errors.Is(err, model.ErrInvalidInputKind) ||
		errors.Is(err, model.ErrUnknownSource) ||
		errors.Is(err, model.ErrMissingLocationParameter)
}
