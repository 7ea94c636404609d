// Package work runs independent pipeline units (sheet syncs, collection
// loads) on a bounded worker pool.
package work

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edwardbensa/storiedbc-db/internal/logging"
)

// Task is one unit of pipeline work.
type Task struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Result reports one finished task.
type Result struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Stats summarizes pool activity across runs.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
}

// Pool limits how many tasks execute concurrently. The pool is
// stateless between runs apart from its counters.
type Pool struct {
	workers int

	submitted int64
	completed int64
	failed    int64
}

// NewPool creates a pool with the specified number of workers.
// If workers <= 0, uses runtime.NumCPU().
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: workers}
}

// Workers returns the concurrency bound.
func (p *Pool) Workers() int { return p.workers }

// Run executes all tasks with bounded concurrency and waits for them to
// finish. Results come back in task order. A panicking task is recorded
// as failed without taking down its worker.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	logging.Info("Work pool run starting", "tasks", len(tasks), "workers", p.workers)
	atomic.AddInt64(&p.submitted, int64(len(tasks)))

	results := make([]Result, len(tasks))
	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup

	for i, task := range tasks {
		select {
		case <-ctx.Done():
			results[i] = Result{Name: task.Name, Err: ctx.Err()}
			atomic.AddInt64(&p.failed, 1)
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			defer func() { <-sem }()

			started := time.Now()
			err := p.execute(ctx, task)
			results[i] = Result{Name: task.Name, Err: err, Duration: time.Since(started)}

			if err != nil {
				atomic.AddInt64(&p.failed, 1)
				logging.Error("Task failed", "task", task.Name, "err", err)
				return
			}
			atomic.AddInt64(&p.completed, 1)
			logging.Debug("Task completed", "task", task.Name, "duration", results[i].Duration)
		}(i, task)
	}

	wg.Wait()
	logging.Info("Work pool run finished",
		"tasks", len(tasks),
		"completed", atomic.LoadInt64(&p.completed),
		"failed", atomic.LoadInt64(&p.failed))
	return results
}

func (p *Pool) execute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Task panicked", "task", task.Name, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if task.Fn == nil {
		return fmt.Errorf("no work function")
	}
	return task.Fn(ctx)
}

// Stats returns the pool's lifetime counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: atomic.LoadInt64(&p.submitted),
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
	}
}

// FirstError returns the first non-nil error among results, or nil.
func FirstError(results []Result) error {
	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("%s: %w", r.Name, r.Err)
		}
	}
	return nil
}
