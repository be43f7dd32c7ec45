// Package worker implements the background task queue for matching and
// auction closing. Tasks are partitioned by case id onto single-consumer
// goroutines, so two tasks for the same case never run concurrently and
// always run in enqueue order. Delivery is at-least-once: failed tasks are
// retried with backoff, and handlers must be idempotent.
package worker

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	corelogger "github.com/hfujita/wastematch/core/logger"
)

// Kind names a task type.
type Kind string

const (
	KindMatchCase    Kind = "match_case"
	KindCloseAuction Kind = "close_auction"
)

// Task is one unit of background work, keyed by case id.
type Task struct {
	Kind       Kind
	CaseID     string
	Actor      string
	EnqueuedAt time.Time
	attempt    int
}

// Handler processes tasks. Implementations must be idempotent.
type Handler interface {
	Handle(ctx context.Context, t Task) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, t Task) error

func (f HandlerFunc) Handle(ctx context.Context, t Task) error { return f(ctx, t) }

// Config defines queue sizing and retry behavior.
type Config struct {
	Partitions  int `json:"partitions"`
	QueueDepth  int `json:"queue_depth"`
	MaxAttempts int `json:"max_attempts"`
	// RetryBackoffMS is the base backoff; attempt n waits n times this.
	RetryBackoffMS int `json:"retry_backoff_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Partitions <= 0 {
		c.Partitions = 4
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 128
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoffMS <= 0 {
		c.RetryBackoffMS = 100
	}
}

// Pool consumes tasks from per-partition channels.
type Pool struct {
	cfg     Config
	parts   []chan Task
	handler Handler
	log     corelogger.Logger
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

// New creates a Pool. Start must be called before tasks are processed.
func New(cfg Config, handler Handler, log corelogger.Logger) (*Pool, error) {
	if handler == nil || log == nil {
		return nil, fmt.Errorf("worker: nil parameter provided to New")
	}
	cfg.SetDefaults()
	parts := make([]chan Task, cfg.Partitions)
	for i := range parts {
		parts[i] = make(chan Task, cfg.QueueDepth)
	}
	return &Pool{cfg: cfg, parts: parts, handler: handler, log: log}, nil
}

// Start launches one consumer goroutine per partition. Consumers stop when
// the context is cancelled or the pool is closed.
func (p *Pool) Start(ctx context.Context) {
	for i := range p.parts {
		p.wg.Add(1)
		go p.consume(ctx, i)
	}
}

func (p *Pool) consume(ctx context.Context, part int) {
	defer p.wg.Done()
	for {
		select {
		case t, ok := <-p.parts[part]:
			if !ok {
				return
			}
			p.process(ctx, t)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) process(ctx context.Context, t Task) {
	for t.attempt = 1; t.attempt <= p.cfg.MaxAttempts; t.attempt++ {
		err := p.handler.Handle(ctx, t)
		if err == nil {
			return
		}
		p.log.Warnf("task %s case %s attempt %d/%d failed: %v",
			t.Kind, t.CaseID, t.attempt, p.cfg.MaxAttempts, err)
		if t.attempt == p.cfg.MaxAttempts {
			p.log.Errorf("task %s case %s dropped after %d attempts", t.Kind, t.CaseID, t.attempt)
			return
		}
		backoff := time.Duration(t.attempt*p.cfg.RetryBackoffMS) * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

// Enqueue routes the task to its case partition. It fails when the pool is
// closed or the partition buffer is full.
func (p *Pool) Enqueue(t Task) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("worker: pool closed")
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	part := p.partition(t.CaseID)
	select {
	case p.parts[part] <- t:
		return nil
	default:
		return fmt.Errorf("worker: partition %d full", part)
	}
}

func (p *Pool) partition(caseID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(caseID))
	return int(h.Sum32() % uint32(len(p.parts)))
}

// Close stops accepting tasks, drains the partitions and waits for the
// consumers to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	for _, ch := range p.parts {
		close(ch)
	}
	p.wg.Wait()
}
