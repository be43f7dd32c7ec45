// Package assignment owns the case status state machine. Every status write
// in the system routes through Coordinator.Transition; no other code path may
// touch case.Status.
package assignment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hfujita/wastematch/core/audit"
	"github.com/hfujita/wastematch/core/errs"
	"github.com/hfujita/wastematch/core/events"
	"github.com/hfujita/wastematch/core/geo"
	corelogger "github.com/hfujita/wastematch/core/logger"
	"github.com/hfujita/wastematch/core/metrics"
	"github.com/hfujita/wastematch/core/model"
	"github.com/hfujita/wastematch/core/store"
	"github.com/hfujita/wastematch/core/worker"
	"github.com/hfujita/wastematch/internal/eventbus"
	"github.com/hfujita/wastematch/internal/keylock"
)

// Enqueuer dispatches background tasks. Implemented by worker.Pool.
type Enqueuer interface {
	Enqueue(t worker.Task) error
}

// Coordinator validates and applies case status transitions, takes in new
// cases and performs assignments.
type Coordinator struct {
	cases store.CaseStore
	locks *keylock.KeyedMutex
	bus   *eventbus.TypedBus[events.Event]
	queue Enqueuer
	audit audit.Store
	sink  metrics.Sink
	log   corelogger.Logger
	now   func() time.Time
}

// NewCoordinator creates a Coordinator. The queue may be nil for read-mostly
// wiring (no case intake); the audit store may be nil to disable auditing.
func NewCoordinator(
	cases store.CaseStore,
	locks *keylock.KeyedMutex,
	bus *eventbus.TypedBus[events.Event],
	queue Enqueuer,
	auditStore audit.Store,
	sink metrics.Sink,
	log corelogger.Logger,
) (*Coordinator, error) {
	if cases == nil || locks == nil || bus == nil || log == nil {
		return nil, fmt.Errorf("assignment: nil parameter provided to NewCoordinator")
	}
	if auditStore == nil {
		auditStore = audit.NopStore{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Coordinator{
		cases: cases,
		locks: locks,
		bus:   bus,
		queue: queue,
		audit: auditStore,
		sink:  sink,
		log:   log,
		now:   time.Now,
	}, nil
}

// SetClock overrides the coordinator clock, for tests.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// SetQueue attaches the task queue. The worker pool depends on the
// coordinator through its handlers, so wiring sets the queue after both
// exist.
func (c *Coordinator) SetQueue(q Enqueuer) { c.queue = q }

// Transition validates the status change against the lifecycle table and
// applies it to the in-memory case. The caller must hold the case lock and
// persist the case afterwards. Transitioning to CANCELLED releases the
// assigned carrier so that the carrier field stays set exactly in the
// assigned states.
func (c *Coordinator) Transition(cs *model.Case, target model.CaseStatus, actor, reason string) error {
	if !CanTransition(cs.Status, target) {
		return errs.InvalidTransition(string(cs.Status), string(target))
	}
	if target == model.CaseAssigned && cs.AssignedCarrierID == "" {
		return errs.InvalidState("case %s cannot be assigned without a carrier", cs.ID)
	}
	from := cs.Status
	cs.Status = target
	if target == model.CaseCancelled {
		cs.AssignedCarrierID = ""
	}
	cs.UpdatedAt = c.now()

	c.publish(events.StatusChanged{
		CaseID: cs.ID, From: string(from), To: string(target),
		Actor: actor, Reason: reason, Time: cs.UpdatedAt,
	})
	c.record(cs.ID, audit.ActionStatusChanged, actor, map[string]any{
		"from": string(from), "to": string(target), "reason": reason,
	})
	return nil
}

// UpdateStatus loads the case, validates and applies the transition under the
// per-case lock and persists the result.
func (c *Coordinator) UpdateStatus(ctx context.Context, caseID string, target model.CaseStatus, actor, reason string) (*model.Case, error) {
	unlock := c.locks.Lock(caseID)
	defer unlock()

	cs, err := c.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if err := c.Transition(cs, target, actor, reason); err != nil {
		return nil, err
	}
	return c.cases.Save(ctx, cs)
}

// Assign gives the case to the carrier and moves it to ASSIGNED. Used for
// auto-assignment from the candidate list and for operator assignment;
// auction awards run through the auction manager instead. method is recorded
// on the emitted assignment event.
func (c *Coordinator) Assign(ctx context.Context, caseID, carrierID, actor, method string) (*model.Case, error) {
	if carrierID == "" {
		return nil, errs.Validation("carrier id is required")
	}
	unlock := c.locks.Lock(caseID)
	defer unlock()

	cs, err := c.cases.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if cs.Status != model.CaseMatching {
		return nil, errs.InvalidState("case %s is %s; only MATCHING cases can be assigned", caseID, cs.Status)
	}
	if cs.AssignedCarrierID != "" && cs.AssignedCarrierID != carrierID {
		return nil, errs.Conflict("case %s already holds carrier %s", caseID, cs.AssignedCarrierID)
	}
	cs.AssignedCarrierID = carrierID
	if err := c.Transition(cs, model.CaseAssigned, actor, "assigned to "+carrierID); err != nil {
		return nil, err
	}
	saved, err := c.cases.Save(ctx, cs)
	if err != nil {
		return nil, err
	}

	c.publish(events.CaseAssigned{
		CaseID: caseID, CarrierID: carrierID, Method: method, Time: c.now(),
	})
	c.record(caseID, audit.ActionCaseAssigned, actor, map[string]any{
		"carrier_id": carrierID, "method": method,
	})
	if err := c.sink.RecordAssignment(metrics.AssignmentEvent{
		CaseID: caseID, CarrierID: carrierID, Method: method, Time: c.now(),
	}); err != nil {
		c.log.Warnf("record assignment metric for case %s: %v", caseID, err)
	}
	c.log.Infof("case %s assigned to carrier %s (%s)", caseID, carrierID, method)
	return saved, nil
}

// CreateCase validates and persists a new case in NEW and always enqueues a
// matching task. Missing ids and timestamps are filled in.
func (c *Coordinator) CreateCase(ctx context.Context, cs *model.Case) (*model.Case, error) {
	if cs == nil {
		return nil, errs.Validation("case is required")
	}
	if err := geo.ValidatePoint(cs.Site); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cs.WasteType) == "" {
		return nil, errs.Validation("waste type is required")
	}
	if cs.AuctionStartAt != nil && cs.AuctionEndAt != nil && cs.AuctionEndAt.Before(*cs.AuctionStartAt) {
		return nil, errs.Validation("auction window ends before it starts")
	}

	now := c.now()
	if cs.ID == "" {
		cs.ID = uuid.NewString()
	}
	if cs.CaseNumber == "" {
		cs.CaseNumber = fmt.Sprintf("WM%s-%s", now.Format("20060102"), strings.ToUpper(cs.ID[:8]))
	}
	if cs.Priority == "" {
		cs.Priority = model.PriorityNormal
	}
	cs.Status = model.CaseNew
	cs.AssignedCarrierID = ""
	cs.CreatedAt = now
	cs.UpdatedAt = now

	saved, err := c.cases.Save(ctx, cs)
	if err != nil {
		return nil, err
	}
	if c.queue != nil {
		if err := c.queue.Enqueue(worker.Task{Kind: worker.KindMatchCase, CaseID: saved.ID, Actor: "system"}); err != nil {
			// The watchdog and manual matching remain available; intake itself
			// succeeded.
			c.log.Errorf("enqueue matching for case %s: %v", saved.ID, err)
		}
	}
	return saved, nil
}

// Publish exposes the bus to sibling engines that award cases themselves.
func (c *Coordinator) Publish(e events.Event) { c.publish(e) }

// Record writes an audit record on behalf of sibling engines.
func (c *Coordinator) Record(caseID, action, actor string, detail map[string]any) {
	c.record(caseID, action, actor, detail)
}

func (c *Coordinator) publish(e events.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}

func (c *Coordinator) record(caseID, action, actor string, detail map[string]any) {
	rec := audit.Record{
		Timestamp: c.now(), CaseID: caseID, Action: action, Actor: actor, Detail: detail,
	}
	if err := c.audit.Append(context.Background(), rec); err != nil {
		c.log.Errorf("audit append for case %s: %v", caseID, err)
	}
}
