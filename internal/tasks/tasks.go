// Package tasks runs named periodic jobs under a shared context instead of
// raw uncancelable interval timers.
package tasks

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one periodic job.
type Task struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context)
}

// Runner drives a set of tasks until its context is cancelled.
type Runner struct {
	log   *zap.Logger
	tasks []Task
	wg    sync.WaitGroup
}

// NewRunner constructs a runner over the given tasks.
func NewRunner(log *zap.Logger, tasks ...Task) *Runner {
	return &Runner{log: log, tasks: tasks}
}

// Start launches one goroutine per task. It returns immediately; call Wait
// after cancelling the context to drain.
func (r *Runner) Start(ctx context.Context) {
	for _, t := range r.tasks {
		if t.Every <= 0 || t.Run == nil {
			continue
		}
		r.wg.Add(1)
		go r.loop(ctx, t)
	}
}

// Wait blocks until all task goroutines have stopped.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) loop(ctx context.Context, t Task) {
	defer r.wg.Done()
	ticker := time.NewTicker(t.Every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOne(ctx, t)
		}
	}
}

func (r *Runner) runOne(ctx context.Context, t Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("task panic",
				zap.String("task", t.Name),
				zap.Any("reason", rec),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	t.Run(ctx)
}
