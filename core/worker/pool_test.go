package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hfujita/wastematch/infra/logger"
)

func TestPoolProcessesAllTasks(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	done := make(chan struct{}, 20)

	handler := HandlerFunc(func(_ context.Context, task Task) error {
		mu.Lock()
		seen[task.CaseID]++
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	pool, err := New(Config{Partitions: 3}, handler, logger.NopLogger{})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	for i := 0; i < 20; i++ {
		if err := pool.Enqueue(Task{Kind: KindMatchCase, CaseID: fmt.Sprintf("case-%d", i)}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	for i := 0; i < 20; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for task %d", i)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 20 {
		t.Fatalf("expected 20 distinct cases, got %d", len(seen))
	}
}

func TestPoolPerKeyOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []int
	done := make(chan struct{}, 50)

	handler := HandlerFunc(func(_ context.Context, task Task) error {
		mu.Lock()
		order = append(order, int(task.EnqueuedAt.UnixNano()))
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	pool, err := New(Config{Partitions: 4}, handler, logger.NopLogger{})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	// All tasks share one case id, so they land in one partition and must
	// execute in enqueue order.
	for i := 0; i < 50; i++ {
		task := Task{Kind: KindMatchCase, CaseID: "case-1", EnqueuedAt: time.Unix(0, int64(i))}
		if err := pool.Enqueue(task); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	for i := 0; i < 50; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out at task %d", i)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			t.Fatalf("per-key ordering violated at %d: %v", i, order)
		}
	}
}

func TestPoolRetriesFailedTasks(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})

	handler := HandlerFunc(func(_ context.Context, task Task) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			return fmt.Errorf("transient")
		}
		close(done)
		return nil
	})
	pool, err := New(Config{Partitions: 1, MaxAttempts: 3, RetryBackoffMS: 1}, handler, logger.NopLogger{})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	if err := pool.Enqueue(Task{Kind: KindCloseAuction, CaseID: "case-1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task was not retried to success")
	}
}

func TestPoolEnqueueAfterClose(t *testing.T) {
	pool, err := New(Config{}, HandlerFunc(func(context.Context, Task) error { return nil }), logger.NopLogger{})
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	pool.Close()
	if err := pool.Enqueue(Task{CaseID: "case-1"}); err == nil {
		t.Fatalf("enqueue after close should fail")
	}
}
