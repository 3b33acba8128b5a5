package jobs

import (
	"context"
	"fmt"
	"time"

	"schedbot/internal/schedule"
	"schedbot/internal/storage"
	"schedbot/pkg/logx"
)

// Recover rebuilds the in-memory timer registry from the store's pending
// records. It must complete before the process accepts new scheduling
// requests; after a restart the registry is otherwise empty.
//
// A store error is fatal and aborts recovery. Individual activations are
// independent: a record whose stored pattern no longer registers is marked
// failed and skipped, the rest proceed. One-shot instants already in the
// past are re-armed one second out so they fire promptly instead of being
// dropped.
func (c *Controller) Recover(ctx context.Context) (int, error) {
	recs, err := c.store.Where(ctx, storage.Filter{Pending: true})
	if err != nil {
		return 0, fmt.Errorf("jobs: recovery query: %w", err)
	}

	now := time.Now()
	armed := 0
	for _, rec := range recs {
		spec := schedule.Classify(rec.TimeSpec, now)
		if err := c.activate(Persisted(rec.ID), rec, spec); err != nil {
			c.log.Warn("recovery skipped job",
				logx.Int64("id", rec.ID),
				logx.String("spec", rec.TimeSpec),
				logx.Err(err),
			)
			c.markFailed(ctx, Persisted(rec.ID), err.Error())
			continue
		}
		armed++
	}

	c.log.Info("recovery complete", logx.Int("armed", armed), logx.Int("pending", len(recs)))
	return armed, nil
}
