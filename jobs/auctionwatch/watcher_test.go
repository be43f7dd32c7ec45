package auctionwatch

import (
	"context"
	"testing"
	"time"

	"github.com/hfujita/wastematch/core/model"
	"github.com/hfujita/wastematch/core/worker"
	"github.com/hfujita/wastematch/infra/logger"
	"github.com/hfujita/wastematch/infra/store/memory"
)

type captureQueue struct {
	tasks []worker.Task
}

func (q *captureQueue) Enqueue(t worker.Task) error {
	q.tasks = append(q.tasks, t)
	return nil
}

func TestSweepEnqueuesLapsedAuctions(t *testing.T) {
	cases := memory.NewCaseStore()
	ctx := context.Background()
	now := time.Now()

	lapsed := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	seed := []model.Case{
		{ID: "lapsed-1", Status: model.CaseMatching, AuctionEnabled: true, AuctionEndAt: &lapsed},
		{ID: "lapsed-2", Status: model.CaseMatching, AuctionEnabled: true, AuctionEndAt: &lapsed},
		{ID: "still-open", Status: model.CaseMatching, AuctionEnabled: true, AuctionEndAt: &future},
		{ID: "unbounded", Status: model.CaseMatching, AuctionEnabled: true},
		{ID: "no-auction", Status: model.CaseMatching, AuctionEnabled: false, AuctionEndAt: &lapsed},
		{ID: "decided", Status: model.CaseAssigned, AuctionEnabled: true, AuctionEndAt: &lapsed},
	}
	for i := range seed {
		if _, err := cases.Save(ctx, &seed[i]); err != nil {
			t.Fatalf("seed %s: %v", seed[i].ID, err)
		}
	}

	queue := &captureQueue{}
	w, err := New(Config{}, cases, queue, logger.NopLogger{})
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	w.SetClock(func() time.Time { return now })

	n, err := w.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 || len(queue.tasks) != 2 {
		t.Fatalf("expected 2 close tasks, got %d (%+v)", n, queue.tasks)
	}
	got := map[string]bool{}
	for _, task := range queue.tasks {
		if task.Kind != worker.KindCloseAuction {
			t.Fatalf("unexpected task kind %s", task.Kind)
		}
		got[task.CaseID] = true
	}
	if !got["lapsed-1"] || !got["lapsed-2"] {
		t.Fatalf("wrong cases enqueued: %v", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	cases := memory.NewCaseStore()
	w, err := New(Config{IntervalMS: 5}, cases, &captureQueue{}, logger.NopLogger{})
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("watcher did not stop on cancel")
	}
}
