// Package jobs runs the agent's periodic work on a gocron scheduler.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

type Runner struct {
	scheduler gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewRunner() (*Runner, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{scheduler: sched, ctx: ctx, cancel: cancel}, nil
}

// Every schedules fn every interval. A run that is still going when the next
// one is due is not doubled up.
func (r *Runner) Every(name string, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	_, err := r.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			fn(r.ctx)
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	log.Printf("[JOBS] Scheduled %s every %s", name, interval)
	return nil
}

func (r *Runner) Start() {
	r.scheduler.Start()
}

// Shutdown cancels running jobs' context and waits for them to return.
func (r *Runner) Shutdown() error {
	r.cancel()
	return r.scheduler.Shutdown()
}
