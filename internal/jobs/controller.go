package jobs

import (
	"context"
	"sync/atomic"

	"schedbot/internal/dispatch"
	"schedbot/internal/eventbus"
	"schedbot/internal/registry"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	"schedbot/pkg/logx"
)

// Controller owns the job lifecycle. It is safe for concurrent use across
// distinct job ids; callers serialize operations on the same id.
type Controller struct {
	store storage.Store
	reg   *registry.Registry
	disp  dispatch.Dispatcher
	bus   eventbus.Bus
	log   logx.Logger

	ephSeq atomic.Int64
}

func NewController(store storage.Store, reg *registry.Registry, disp dispatch.Dispatcher, bus eventbus.Bus, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Controller{store: store, reg: reg, disp: disp, bus: bus, log: log}
}

// ScheduleTask persists a new job record and arms its timer. No timer is
// registered when persistence fails. If the timer itself cannot be armed
// (malformed recurring pattern), the record is marked failed and the
// registration error is returned.
func (c *Controller) ScheduleTask(ctx context.Context, req Request) (ID, error) {
	spec, err := schedule.Resolve(req.When)
	if err != nil {
		return ID{}, err
	}

	rec := req.record(spec.String())
	num, err := c.store.Insert(ctx, rec)
	if err != nil {
		return ID{}, err
	}
	rec.ID = num

	id := Persisted(num)
	if err := c.activate(id, rec, spec); err != nil {
		c.markFailed(ctx, id, err.Error())
		return ID{}, err
	}
	return id, nil
}

// SetTimer arms an ephemeral job: in-memory only, lost on restart.
func (c *Controller) SetTimer(req Request) (ID, error) {
	spec, err := schedule.Resolve(req.When)
	if err != nil {
		return ID{}, err
	}
	id := ID{num: c.ephSeq.Add(1), ephemeral: true}
	rec := req.record(spec.String())
	if err := c.activate(id, rec, spec); err != nil {
		return ID{}, err
	}
	return id, nil
}

// activate registers the job's timer. The fire callback runs on the timer
// goroutine; dispatch calls of distinct jobs may overlap.
func (c *Controller) activate(id ID, rec storage.Record, spec schedule.Spec) error {
	oneShot := spec.Kind == schedule.KindOnce
	err := c.reg.Register(id.Key(), spec, func() {
		c.fire(id, rec, oneShot)
	})
	if err != nil {
		return err
	}

	c.log.Info("job armed",
		logx.String("job", id.Key()),
		logx.String("user", rec.User),
		logx.String("spec", spec.String()),
		logx.Bool("one_shot", oneShot),
	)
	c.bus.Publish(eventbus.Event{Type: eventbus.JobScheduled, JobKey: id.Key(), User: rec.User})
	return nil
}

// fire runs one invocation of the job.
//
// Failures never stop a recurring timer; only explicit cancellation does.
// One-shot registry entries are already gone by the time fire runs.
func (c *Controller) fire(id ID, rec storage.Record, oneShot bool) {
	ctx := context.Background()

	c.log.Info("job firing",
		logx.String("job", id.Key()),
		logx.String("user", rec.User),
		logx.String("command", rec.Command),
		logx.String("action", rec.Action),
		logx.String("text", rec.Text),
	)

	var err error
	switch targetOf(rec) {
	case TargetAction:
		err = c.disp.EmitAction(ctx, rec.User, rec.Command, rec.Action, rec.PayloadArgs, routingOf(rec))
	case TargetCommand:
		err = c.disp.EmitCommand(ctx, rec.User, rec.Command, rec.Text, routingOf(rec))
	}

	if err != nil {
		c.log.Error("job dispatch failed", logx.String("job", id.Key()), logx.Err(err))
		c.bus.Publish(eventbus.Event{Type: eventbus.JobFailed, JobKey: id.Key(), User: rec.User, Detail: err.Error()})
		if !id.ephemeral {
			c.markFailed(ctx, id, err.Error())
		}
		return
	}

	c.bus.Publish(eventbus.Event{Type: eventbus.JobFired, JobKey: id.Key(), User: rec.User})
	if oneShot && !id.ephemeral {
		done := true
		if perr := c.store.Patch(ctx, id.num, storage.Patch{Completed: &done}); perr != nil {
			c.log.Error("completion patch failed", logx.String("job", id.Key()), logx.Err(perr))
		}
	}
}

// markFailed writes the terminal failure state for a persisted job.
func (c *Controller) markFailed(ctx context.Context, id ID, detail string) {
	failed := false
	if err := c.store.Patch(ctx, id.num, storage.Patch{Completed: &failed, ErrorDetail: &detail}); err != nil {
		c.log.Error("failure patch failed", logx.String("job", id.Key()), logx.Err(err))
	}
}

// Pending returns the persisted records still in flight, for status output.
func (c *Controller) Pending(ctx context.Context) ([]storage.Record, error) {
	return c.store.Where(ctx, storage.Filter{Pending: true})
}

// Registry exposes the live timer registry (read-side use only).
func (c *Controller) Registry() *registry.Registry { return c.reg }
