package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestRunResultsInTaskOrder(t *testing.T) {
	var tasks []Task
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("task-%d", i)
		tasks = append(tasks, Task{Name: name, Fn: func(ctx context.Context) error { return nil }})
	}

	results := NewPool(3).Run(context.Background(), tasks)
	if len(results) != len(tasks) {
		t.Fatalf("got %d results, want %d", len(results), len(tasks))
	}
	for i, r := range results {
		if r.Name != tasks[i].Name {
			t.Errorf("results[%d] = %s, want %s", i, r.Name, tasks[i].Name)
		}
		if r.Err != nil {
			t.Errorf("%s failed: %v", r.Name, r.Err)
		}
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	var active, peak int64
	var mu sync.Mutex
	block := make(chan struct{})

	fn := func(ctx context.Context) error {
		n := atomic.AddInt64(&active, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		<-block
		atomic.AddInt64(&active, -1)
		return nil
	}

	tasks := make([]Task, 6)
	for i := range tasks {
		tasks[i] = Task{Name: fmt.Sprintf("t%d", i), Fn: fn}
	}

	done := make(chan []Result)
	go func() { done <- NewPool(2).Run(context.Background(), tasks) }()
	close(block)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestRunRecoversPanics(t *testing.T) {
	tasks := []Task{
		{Name: "ok", Fn: func(ctx context.Context) error { return nil }},
		{Name: "boom", Fn: func(ctx context.Context) error { panic("kaboom") }},
		{Name: "also-ok", Fn: func(ctx context.Context) error { return nil }},
	}

	results := NewPool(1).Run(context.Background(), tasks)
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("healthy tasks failed: %v, %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Errorf("panic was not surfaced as an error")
	}
}

func TestRunNilFn(t *testing.T) {
	results := NewPool(1).Run(context.Background(), []Task{{Name: "empty"}})
	if results[0].Err == nil {
		t.Errorf("nil work function did not fail")
	}
}

func TestFirstError(t *testing.T) {
	cause := errors.New("broken")
	results := []Result{
		{Name: "a"},
		{Name: "b", Err: cause},
		{Name: "c", Err: errors.New("later")},
	}
	err := FirstError(results)
	if !errors.Is(err, cause) {
		t.Errorf("FirstError = %v, want wrapped %v", err, cause)
	}
	if FirstError([]Result{{Name: "a"}}) != nil {
		t.Errorf("FirstError on clean results is non-nil")
	}
}

func TestStatsCounters(t *testing.T) {
	p := NewPool(2)
	p.Run(context.Background(), []Task{
		{Name: "ok", Fn: func(ctx context.Context) error { return nil }},
		{Name: "bad", Fn: func(ctx context.Context) error { return errors.New("no") }},
	})

	stats := p.Stats()
	if stats.Submitted != 2 || stats.Completed != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}
