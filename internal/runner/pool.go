package runner

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

type Job func(ctx context.Context) error

// RunPool executes jobs with at most maxWorkers concurrently. A failing job
// does not stop the others. Returns all errors. Jobs not yet started when
// ctx ends are skipped and ctx's error is reported once.
func RunPool(ctx context.Context, maxWorkers int, jobs []Job) []error {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(maxWorkers)
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := job(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

// RunWaves splits jobs into consecutive waves of at most width jobs. Each
// wave drains completely before between is called with its index and the
// next wave starts. An error from between is recorded and does not stop
// later waves.
func RunWaves(ctx context.Context, width int, jobs []Job, between func(ctx context.Context, wave int) error) []error {
	if width < 1 {
		width = 1
	}
	var errs []error
	for wave, start := 0, 0; start < len(jobs); wave, start = wave+1, start+width {
		end := min(start+width, len(jobs))
		errs = append(errs, RunPool(ctx, width, jobs[start:end])...)
		if ctx.Err() != nil {
			break
		}
		if between != nil && end < len(jobs) {
			if err := between(ctx, wave); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}
