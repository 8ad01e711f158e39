// Package scheduler bounds the number of concurrent API calls a
// traversal may have in flight, independent of how many goroutines the
// tree walk spawns.
package scheduler

import (
	"context"
	"fmt"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

// Concurrency bounds. Limits are clamped into [MinLimit, MaxLimit];
// DefaultLimit additionally caps at defaultCap so an unconfigured run on
// a large host stays polite to the API.
const (
	MinLimit   = 1
	MaxLimit   = 32
	defaultCap = 24
)

var inFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "notion_scheduler_in_flight",
	Help: "Number of API calls currently holding a scheduler slot",
})

// Scheduler is a weighted-semaphore concurrency limiter. All fetches of
// one pipeline run share a single Scheduler.
type Scheduler struct {
	sem   *semaphore.Weighted
	limit int
}

// DefaultLimit derives a concurrency limit from the host CPU count:
// at least 4, at most 24.
func DefaultLimit() int {
	n := runtime.NumCPU()
	if n < 4 {
		n = 4
	}
	if n > defaultCap {
		n = defaultCap
	}
	return n
}

// New creates a scheduler admitting at most limit concurrent calls.
// Out-of-range limits are clamped rather than rejected.
func New(limit int) *Scheduler {
	if limit < MinLimit {
		limit = MinLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return &Scheduler{
		sem:   semaphore.NewWeighted(int64(limit)),
		limit: limit,
	}
}

// Limit reports the configured concurrency limit.
func (s *Scheduler) Limit() int { return s.limit }

// Acquire blocks until a slot is free or ctx is done.
func (s *Scheduler) Acquire(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire scheduler slot: %w", err)
	}
	inFlight.Inc()
	return nil
}

// Release returns a slot acquired with Acquire.
func (s *Scheduler) Release() {
	inFlight.Dec()
	s.sem.Release(1)
}

// Do runs fn while holding a slot.
func (s *Scheduler) Do(ctx context.Context, fn func() error) error {
	if err := s.Acquire(ctx); err != nil {
		return err
	}
	defer s.Release()
	return fn()
}
