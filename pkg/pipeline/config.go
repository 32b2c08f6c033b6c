package pipeline

import (
	"time"

	"github.com/Sternrassler/geo-enrich/pkg/ratelimit"
	"github.com/rs/zerolog"
)

// Config holds pipeline configuration.
type Config struct {
	// Concurrency sizes the permit pool when no pool is supplied with WithPermitPool.
	Concurrency int

	// Retry is the policy used by every stage without an entry in StageRetry.
	Retry ratelimit.RetryPolicy

	// StageRetry overrides Retry per stage.
	StageRetry map[Stage]ratelimit.RetryPolicy

	// ChunkSize groups identifiers in the resolve stage. Later stages dispatch
	// their whole key set at once.
	ChunkSize int

	// ChunkDelay is the pause between two resolve chunks.
	ChunkDelay time.Duration

	// MinRows is the row count below which a result is flagged. Zero selects
	// the default; use WithMinRows(0) to disable the flag for a run.
	MinRows int

	// NotifyDrainTimeout bounds how long Run waits for the observer to catch up.
	NotifyDrainTimeout time.Duration
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:        ratelimit.DefaultPermits,
		Retry:              ratelimit.DefaultRetryPolicy(),
		ChunkSize:          10,
		ChunkDelay:         100 * time.Millisecond,
		MinRows:            10,
		NotifyDrainTimeout: time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.ChunkDelay < 0 {
		c.ChunkDelay = 0
	}
	if c.MinRows <= 0 {
		c.MinRows = def.MinRows
	}
	if c.NotifyDrainTimeout <= 0 {
		c.NotifyDrainTimeout = def.NotifyDrainTimeout
	}
	return c
}

func (c Config) policyFor(stage Stage) ratelimit.RetryPolicy {
	if p, ok := c.StageRetry[stage]; ok {
		return p
	}
	return c.Retry
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver sets the default observer for every run.
func WithObserver(obs Observer) Option {
	return func(p *Pipeline) {
		p.observer = obs
	}
}

// WithPermitPool shares an existing permit pool, e.g. between pipelines
// talking to the same upstream.
func WithPermitPool(pool *ratelimit.PermitPool) Option {
	return func(p *Pipeline) {
		p.pool = pool
	}
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// RunOption adjusts a single Run.
type RunOption func(*runSettings)

type runSettings struct {
	minRows  int
	observer Observer
}

// WithMinRows overrides Config.MinRows for one run. Zero disables the
// below-threshold flag; negative values are ignored.
func WithMinRows(n int) RunOption {
	return func(s *runSettings) {
		if n >= 0 {
			s.minRows = n
		}
	}
}

// WithRunObserver replaces the pipeline observer for one run.
func WithRunObserver(obs Observer) RunOption {
	return func(s *runSettings) {
		s.observer = obs
	}
}
