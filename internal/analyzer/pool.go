package analyzer

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/UsamaTufail31/Urban-Green-Spaces-Tracker/internal/core/model"
)

// Pool bounds how many analyses run at once. Analyses are CPU bound and hold
// whole rasters in memory, so callers share one Pool.
type Pool struct {
	a   *Analyzer
	sem *semaphore.Weighted
}

// NewPool defaults workers to GOMAXPROCS when workers <= 0.
func NewPool(a *Analyzer, workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{a: a, sem: semaphore.NewWeighted(int64(workers))}
}

// Run waits for a free slot, then runs the full pipeline. The analysis itself
// is not interruptible once started.
func (p *Pool) Run(ctx context.Context, req Request) (model.CoverageResult, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return model.CoverageResult{}, err
	}
	defer p.sem.Release(1)
	return p.a.FullPipeline(req)
}

func (p *Pool) Analyzer() *Analyzer { return p.a }
