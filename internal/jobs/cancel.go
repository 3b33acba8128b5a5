package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"schedbot/internal/eventbus"
	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	"schedbot/pkg/logx"
)

// DefaultCancelReason is written to a record when no message is supplied.
const DefaultCancelReason = "cancelled"

// Filter selects pending jobs for batch cancellation. Zero-valued fields
// are ignored; PostingMode defaults to "bot" and is always applied.
type Filter struct {
	User         string
	Command      string
	Action       string
	Participants []string
	PostingMode  string
}

// Cancel resolves target as either a direct ID or a Filter and cancels
// accordingly.
func (c *Controller) Cancel(ctx context.Context, target any, reason string) error {
	switch v := target.(type) {
	case ID:
		return c.CancelID(ctx, v, reason)
	case Filter:
		return c.CancelWhere(ctx, v, reason)
	default:
		return fmt.Errorf("jobs: unsupported cancel target %T", target)
	}
}

// CancelID stops the job's timer and, for persisted jobs, marks the record
// failed with the given reason. A missing timer or record surfaces as a
// not-found error rather than succeeding silently.
func (c *Controller) CancelID(ctx context.Context, id ID, reason string) error {
	if reason == "" {
		reason = DefaultCancelReason
	}
	if err := c.reg.Stop(id.Key()); err != nil {
		return err
	}
	c.log.Info("job cancelled", logx.String("job", id.Key()), logx.String("reason", reason))
	c.bus.Publish(eventbus.Event{Type: eventbus.JobCancelled, JobKey: id.Key(), Detail: reason})

	if id.ephemeral {
		return nil
	}
	if _, err := c.store.FindByID(ctx, id.num); err != nil {
		return err
	}
	failed := false
	return c.store.Patch(ctx, id.num, storage.Patch{Completed: &failed, ErrorDetail: &reason})
}

// CancelWhere cancels every pending, not-yet-elapsed job matching f. All
// matches are cancelled concurrently; partial failures are joined into the
// returned error and do not block the other cancellations.
func (c *Controller) CancelWhere(ctx context.Context, f Filter, reason string) error {
	mode := f.PostingMode
	if mode == "" {
		mode = storage.PostingBot
	}

	recs, err := c.store.Where(ctx, storage.Filter{
		Pending:      true,
		User:         f.User,
		Command:      f.Command,
		Action:       f.Action,
		Participants: f.Participants,
		PostingMode:  mode,
	})
	if err != nil {
		return err
	}

	now := time.Now()
	var live []storage.Record
	for _, rec := range recs {
		// One-shot jobs whose instant already elapsed are complete or being
		// completed; only future instants and recurring patterns are live.
		if t, ok := schedule.ParseInstant(rec.TimeSpec); ok && t.Before(now) {
			continue
		}
		live = append(live, rec)
	}

	errs := make([]error, len(live))
	var wg sync.WaitGroup
	for i, rec := range live {
		wg.Add(1)
		go func(i int, rec storage.Record) {
			defer wg.Done()
			errs[i] = c.CancelID(ctx, Persisted(rec.ID), reason)
		}(i, rec)
	}
	wg.Wait()
	return errors.Join(errs...)
}
