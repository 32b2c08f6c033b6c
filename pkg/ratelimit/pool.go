package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

// DefaultPermits is the process-wide concurrency limit used when none is configured.
const DefaultPermits = 10

var (
	permitsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "geo_permits_in_use",
		Help: "Number of permits currently held by in-flight calls",
	})

	permitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "geo_permit_wait_seconds",
		Help:    "Time spent waiting for a permit",
		Buckets: prometheus.DefBuckets,
	})
)

// PermitPool bounds the number of remote calls in flight across all stages.
// A single pool is meant to be shared by every Executor in a process.
type PermitPool struct {
	sem   *semaphore.Weighted
	size  int64
	inUse atomic.Int64
}

// NewPermitPool creates a pool with size permits. A size <= 0 uses DefaultPermits.
func NewPermitPool(size int) *PermitPool {
	if size <= 0 {
		size = DefaultPermits
	}
	return &PermitPool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

// Acquire blocks until a permit is available or ctx is done.
func (p *PermitPool) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	permitWaitSeconds.Observe(time.Since(start).Seconds())
	p.inUse.Add(1)
	permitsInUse.Inc()
	return nil
}

// Release returns a permit to the pool.
func (p *PermitPool) Release() {
	p.inUse.Add(-1)
	permitsInUse.Dec()
	p.sem.Release(1)
}

// Size returns the total number of permits.
func (p *PermitPool) Size() int {
	return int(p.size)
}

// InUse returns the number of permits currently held.
func (p *PermitPool) InUse() int {
	return int(p.inUse.Load())
}
