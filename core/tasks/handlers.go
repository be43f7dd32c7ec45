// Package tasks implements the background task handlers consumed by the
// worker pool: matching runs and auction closes. Handlers are idempotent so
// retried deliveries are safe.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/hfujita/wastematch/core/assignment"
	"github.com/hfujita/wastematch/core/audit"
	"github.com/hfujita/wastematch/core/auction"
	"github.com/hfujita/wastematch/core/errs"
	"github.com/hfujita/wastematch/core/events"
	corelogger "github.com/hfujita/wastematch/core/logger"
	"github.com/hfujita/wastematch/core/matching"
	"github.com/hfujita/wastematch/core/metrics"
	"github.com/hfujita/wastematch/core/model"
	"github.com/hfujita/wastematch/core/store"
	"github.com/hfujita/wastematch/core/worker"
)

// Handlers routes worker tasks to the matching engine and the auction
// manager.
type Handlers struct {
	cases   store.CaseStore
	matches store.MatchStore
	coord   *assignment.Coordinator
	engine  *matching.Engine
	manager *auction.Manager
	crit    matching.Criteria
	sink    metrics.Sink
	log     corelogger.Logger
	now     func() time.Time
}

// NewHandlers creates the task handler set. The metrics sink may be nil.
func NewHandlers(
	cases store.CaseStore,
	matches store.MatchStore,
	coord *assignment.Coordinator,
	engine *matching.Engine,
	manager *auction.Manager,
	crit matching.Criteria,
	sink metrics.Sink,
	log corelogger.Logger,
) (*Handlers, error) {
	if cases == nil || matches == nil || coord == nil || engine == nil || manager == nil || log == nil {
		return nil, fmt.Errorf("tasks: nil parameter provided to NewHandlers")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Handlers{
		cases:   cases,
		matches: matches,
		coord:   coord,
		engine:  engine,
		manager: manager,
		crit:    crit,
		sink:    sink,
		log:     log,
		now:     time.Now,
	}, nil
}

// Handle implements worker.Handler.
func (h *Handlers) Handle(ctx context.Context, t worker.Task) error {
	switch t.Kind {
	case worker.KindMatchCase:
		return h.matchCase(ctx, t)
	case worker.KindCloseAuction:
		return h.closeAuction(ctx, t)
	default:
		h.log.Errorf("unknown task kind %q for case %s", t.Kind, t.CaseID)
		return nil
	}
}

// matchCase moves the case into MATCHING, computes and caches the candidate
// list, and auto-assigns the top candidate when the case asks for it and no
// auction is configured.
func (h *Handlers) matchCase(ctx context.Context, t worker.Task) error {
	cs, err := h.cases.Get(ctx, t.CaseID)
	if err != nil {
		if errs.IsNotFound(err) {
			h.log.Warnf("matching task for unknown case %s dropped", t.CaseID)
			return nil
		}
		return err
	}
	switch cs.Status {
	case model.CaseNew:
		if cs, err = h.coord.UpdateStatus(ctx, t.CaseID, model.CaseMatching, actor(t), "matching started"); err != nil {
			return err
		}
	case model.CaseMatching:
		// Retried delivery; recompute the candidate list.
	default:
		h.log.Infof("matching task for case %s skipped: case is %s", t.CaseID, cs.Status)
		return nil
	}

	started := h.now()
	results, err := h.engine.FindMatchingCarriers(ctx, t.CaseID, &h.crit)
	if err != nil {
		return err
	}
	if err := h.matches.Put(ctx, t.CaseID, matching.Candidates(results)); err != nil {
		return err
	}

	var top float64
	if len(results) > 0 {
		top = results[0].Score
	}
	now := h.now()
	h.coord.Publish(events.MatchingCompleted{
		CaseID: t.CaseID, Candidates: len(results), TopScore: top, Time: now,
	})
	h.coord.Record(t.CaseID, audit.ActionMatchingRun, actor(t), map[string]any{
		"candidates": len(results), "top_score": top,
	})
	if err := h.sink.RecordMatch(metrics.MatchEvent{
		CaseID: t.CaseID, Candidates: len(results), TopScore: top,
		Duration: now.Sub(started), Time: now,
	}); err != nil {
		h.log.Warnf("record match metric for case %s: %v", t.CaseID, err)
	}

	if cs.AutoAssign && !cs.AuctionEnabled && len(results) > 0 {
		if _, err := h.coord.Assign(ctx, t.CaseID, results[0].Carrier.ID, actor(t), "auto"); err != nil {
			// A concurrent assignment is fine; anything else retries.
			if errs.CodeOf(err) == errs.CodeInvalidState || errs.CodeOf(err) == errs.CodeConflict {
				h.log.Infof("auto-assign for case %s skipped: %v", t.CaseID, err)
				return nil
			}
			return err
		}
	}
	return nil
}

// closeAuction closes the auction. When the auction produced no winner and
// the case asks for auto-assignment, the top cached candidate gets the case
// instead.
func (h *Handlers) closeAuction(ctx context.Context, t worker.Task) error {
	winner, err := h.manager.Close(ctx, t.CaseID, actor(t))
	if err != nil {
		if errs.IsNotFound(err) || errs.CodeOf(err) == errs.CodeInvalidState {
			h.log.Warnf("auction close for case %s skipped: %v", t.CaseID, err)
			return nil
		}
		return err
	}
	if winner != nil {
		return nil
	}

	cs, err := h.cases.Get(ctx, t.CaseID)
	if err != nil {
		return err
	}
	if cs.Status != model.CaseMatching || !cs.AutoAssign {
		return nil
	}
	candidates, err := h.matches.Get(ctx, t.CaseID)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		h.log.Infof("case %s has no bids and no cached candidates; left in MATCHING", t.CaseID)
		return nil
	}
	if _, err := h.coord.Assign(ctx, t.CaseID, candidates[0].CarrierID, actor(t), "auto"); err != nil {
		if errs.CodeOf(err) == errs.CodeInvalidState || errs.CodeOf(err) == errs.CodeConflict {
			h.log.Infof("fallback auto-assign for case %s skipped: %v", t.CaseID, err)
			return nil
		}
		return err
	}
	return nil
}

func actor(t worker.Task) string {
	if t.Actor != "" {
		return t.Actor
	}
	return "system"
}
