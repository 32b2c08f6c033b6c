// Package pipeline turns a list of publication identifiers into enriched GEO
// dataset rows.
//
// A run moves through three remote stages separated by full barriers:
//
//	identifiers --Resolve--> dataset indices --Info--> records --Design--> designs
//
// Each stage deduplicates its keys before fetching, so an index reached from
// several identifiers is fetched once and an accession shared by several
// records is fetched once. All calls of all stages share one permit pool.
// A key that cannot be fetched becomes a FailureRecord and is left out of
// later stages; it never aborts the run. The joiner emits one row per
// (identifier, index) pair whose record and design are both known.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/geo-enrich/pkg/batch"
	"github.com/Sternrassler/geo-enrich/pkg/eutils"
	"github.com/Sternrassler/geo-enrich/pkg/logging"
	"github.com/Sternrassler/geo-enrich/pkg/ratelimit"
	"github.com/rs/zerolog"
)

var (
	// ErrEmptyInput is returned when Run is called without identifiers.
	ErrEmptyInput = errors.New("no identifiers supplied")

	// ErrInvalidIdentifier is returned for identifiers <= 0.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// Fetcher performs single-attempt remote lookups. *eutils.Client implements it.
type Fetcher interface {
	Resolve(ctx context.Context, id int) ([]int, error)
	Info(ctx context.Context, idx int) (eutils.Summary, error)
	Design(ctx context.Context, accession string) (string, error)
}

// Pipeline runs enrichment jobs. It is safe for concurrent use; concurrent
// runs share the permit pool.
type Pipeline struct {
	fetcher  Fetcher
	config   Config
	pool     *ratelimit.PermitPool
	observer Observer
	logger   zerolog.Logger

	executors map[Stage]*ratelimit.Executor
	chunked   *batch.Runner
	unchunked *batch.Runner
}

// New creates a pipeline around fetcher.
func New(fetcher Fetcher, cfg Config, opts ...Option) (*Pipeline, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.MinRows < 0 {
		return nil, fmt.Errorf("min_rows must be >= 0 (got %d)", cfg.MinRows)
	}
	cfg = cfg.withDefaults()

	p := &Pipeline{
		fetcher: fetcher,
		config:  cfg,
		logger:  logging.NewLogger("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.pool == nil {
		p.pool = ratelimit.NewPermitPool(cfg.Concurrency)
	}

	execLogger := logging.NewLogger("ratelimit")
	p.executors = make(map[Stage]*ratelimit.Executor, 3)
	for _, stage := range []Stage{StageResolve, StageInfo, StageDesign} {
		p.executors[stage] = ratelimit.NewExecutor(p.pool, cfg.policyFor(stage), logging.WithStage(execLogger, string(stage)))
	}

	batchLogger := logging.NewLogger("batch")
	p.chunked = batch.NewRunner(batch.Config{ChunkSize: cfg.ChunkSize, ChunkDelay: cfg.ChunkDelay}, batchLogger)
	p.unchunked = batch.NewRunner(batch.Config{}, batchLogger)

	return p, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.config
}

// Pool returns the permit pool shared by all stages.
func (p *Pipeline) Pool() *ratelimit.PermitPool {
	return p.pool
}

// Run enriches ids. It returns an error only for invalid input, before any
// remote call; every per-key failure is reported inside the Result.
// Duplicate identifiers are collapsed, keeping the first occurrence.
func (p *Pipeline) Run(ctx context.Context, ids []Identifier, opts ...RunOption) (*Result, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyInput
	}
	for _, id := range ids {
		if id <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidIdentifier, id)
		}
	}

	settings := runSettings{minRows: p.config.MinRows, observer: p.observer}
	for _, opt := range opts {
		opt(&settings)
	}

	start := time.Now()
	ids = dedupe(ids)
	r := newRun(p, settings, len(ids))
	defer r.finish(p.config.NotifyDrainTimeout)

	p.logger.Info().
		Int("identifiers", len(ids)).
		Int("permits", p.pool.Size()).
		Int("min_rows", settings.minRows).
		Msg("Pipeline run started")

	r.advance(StateResolving)
	resolved, resolveFailures := p.resolve(ctx, r, ids)

	r.advance(StateEnriching)
	indices := distinctIndices(ids, resolved)
	records, infoFailures := p.enrich(ctx, r, indices)

	r.advance(StateFetchingDesign)
	codes, missing := distinctAccessions(indices, records)
	for _, f := range missing {
		p.reportFailure(r, f)
	}
	designs, designFailures := p.fetchDesigns(ctx, r, codes)
	designFailures = append(missing, designFailures...)

	r.advance(StateJoining)
	rows := join(ids, resolved, records, designs)

	result := &Result{
		Rows:            rows,
		MinRows:         settings.minRows,
		BelowThreshold:  len(rows) < settings.minRows,
		ResolveFailures: resolveFailures,
		InfoFailures:    infoFailures,
		DesignFailures:  designFailures,
		Stats: Stats{
			Identifiers:    len(ids),
			DatasetIndices: len(indices),
			Accessions:     len(codes),
			Duration:       time.Since(start),
		},
	}

	rowsEmittedTotal.Add(float64(len(rows)))
	if result.BelowThreshold {
		belowThresholdTotal.Inc()
		p.logger.Warn().
			Int("rows", len(rows)).
			Int("min_rows", settings.minRows).
			Msg("Result below row threshold")
	}

	r.advance(StateCompleted)
	result.State = r.current()

	p.logger.Info().
		Int("rows", len(rows)).
		Int("resolve_failures", len(resolveFailures)).
		Int("info_failures", len(infoFailures)).
		Int("design_failures", len(designFailures)).
		Dur("duration", result.Stats.Duration).
		Msg("Pipeline run completed")

	return result, nil
}

// run carries the per-run mutable state.
type run struct {
	notify *notifier

	mu       sync.Mutex
	state    State
	total    int
	resolved int
}

func newRun(p *Pipeline, s runSettings, total int) *run {
	return &run{
		notify: newNotifier(s.observer, p.logger),
		state:  StateCreated,
		total:  total,
	}
}

func (r *run) advance(to State) {
	r.mu.Lock()
	r.state = to
	r.mu.Unlock()
	r.notify.state(to)
}

func (r *run) current() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// identifierDone counts one finished identifier and posts the new fraction.
// Posting under the lock keeps reported fractions monotonic.
func (r *run) identifierDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved++
	fraction := 1.0
	if r.total > 0 {
		fraction = float64(r.resolved) / float64(r.total)
	}
	r.notify.progress(fraction)
}

func (r *run) finish(timeout time.Duration) {
	r.notify.close(timeout)
}

// failureFrom converts a failed call result into a FailureRecord.
func failureFrom[T any](stage Stage, res ratelimit.Result[T]) FailureRecord {
	return FailureRecord{
		Stage:    stage,
		Key:      res.Key,
		Reason:   res.Err.Error(),
		Attempts: res.Attempts,
		Class:    ratelimit.ClassOf(res.Err),
	}
}

func dedupe[K comparable](keys []K) []K {
	seen := make(map[K]struct{}, len(keys))
	out := make([]K, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
