// Package schedule runs the daemon's periodic background jobs: pattern
// extraction and federation sync. Jobs run on fixed intervals, never
// overlap with themselves, and a failing run only logs; the next tick
// tries again.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner executes jobs until its context is cancelled.
type Runner struct {
	jobs []Job
}

// NewRunner creates a Runner. Jobs with a non-positive interval are
// dropped with a warning.
func NewRunner(jobs ...Job) *Runner {
	kept := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Interval <= 0 {
			slog.Warn("schedule: dropping job with non-positive interval", "job", j.Name)
			continue
		}
		kept = append(kept, j)
	}
	return &Runner{jobs: kept}
}

// Run blocks until ctx is cancelled, running each job on its own interval.
// The first run of each job happens one interval after start, so a daemon
// restart doesn't trigger a burst of background work.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range r.jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runJob(ctx, job)
		}()
	}
	wg.Wait()
}

func (r *Runner) runJob(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		if err := job.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("scheduled job failed", "job", job.Name, "error", err)
			continue
		}
		slog.Debug("scheduled job complete", "job", job.Name, "duration", time.Since(start))
	}
}
