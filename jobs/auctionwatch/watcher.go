// Package auctionwatch closes lapsed auctions. A periodic scan finds MATCHING
// cases whose auction window has ended and enqueues a close task for each;
// the worker pool serializes the close with any concurrent bid or status
// writes on the same case.
package auctionwatch

import (
	"context"
	"fmt"
	"time"

	corelogger "github.com/hfujita/wastematch/core/logger"
	"github.com/hfujita/wastematch/core/store"
	"github.com/hfujita/wastematch/core/worker"
)

// Enqueuer dispatches close tasks. Implemented by worker.Pool.
type Enqueuer interface {
	Enqueue(t worker.Task) error
}

// Config sizes the scan loop.
type Config struct {
	// IntervalMS is the scan period in milliseconds.
	IntervalMS int `json:"interval_ms"`
}

// SetDefaults applies the production scan period.
func (c *Config) SetDefaults() {
	if c.IntervalMS <= 0 {
		c.IntervalMS = 30000
	}
}

// Watcher scans for lapsed auctions and enqueues close tasks.
type Watcher struct {
	cfg   Config
	cases store.CaseStore
	queue Enqueuer
	log   corelogger.Logger
	now   func() time.Time
}

// New creates a Watcher.
func New(cfg Config, cases store.CaseStore, queue Enqueuer, log corelogger.Logger) (*Watcher, error) {
	if cases == nil || queue == nil || log == nil {
		return nil, fmt.Errorf("auctionwatch: nil parameter provided to New")
	}
	cfg.SetDefaults()
	return &Watcher{cfg: cfg, cases: cases, queue: queue, log: log, now: time.Now}, nil
}

// SetClock overrides the watcher clock, for tests.
func (w *Watcher) SetClock(now func() time.Time) { w.now = now }

// Run scans at the configured interval until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(w.cfg.IntervalMS) * time.Millisecond)
	defer ticker.Stop()
	w.log.Infof("auction watcher started, interval %dms", w.cfg.IntervalMS)
	for {
		select {
		case <-ticker.C:
			if n, err := w.Sweep(ctx); err != nil {
				w.log.Errorf("auction sweep: %v", err)
			} else if n > 0 {
				w.log.Infof("auction sweep enqueued %d close tasks", n)
			}
		case <-ctx.Done():
			w.log.Infof("auction watcher stopped")
			return
		}
	}
}

// Sweep enqueues one close task per lapsed auction and returns how many it
// enqueued. Enqueueing is safe to repeat: closing is idempotent.
func (w *Watcher) Sweep(ctx context.Context) (int, error) {
	open, err := w.cases.ListOpenAuctions(ctx)
	if err != nil {
		return 0, err
	}
	now := w.now()
	enqueued := 0
	for _, cs := range open {
		if cs.AuctionEndAt == nil || now.Before(*cs.AuctionEndAt) {
			continue
		}
		task := worker.Task{Kind: worker.KindCloseAuction, CaseID: cs.ID, Actor: "system"}
		if err := w.queue.Enqueue(task); err != nil {
			w.log.Warnf("enqueue close for case %s: %v", cs.ID, err)
			continue
		}
		enqueued++
	}
	return enqueued, nil
}
