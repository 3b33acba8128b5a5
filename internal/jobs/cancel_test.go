package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"schedbot/internal/dispatch"
	"schedbot/internal/registry"
	"schedbot/internal/storage"
)

func mustSchedule(t *testing.T, fx *fixture, req Request) ID {
	t.Helper()
	id, err := fx.ctl.ScheduleTask(context.Background(), req)
	if err != nil {
		t.Fatalf("ScheduleTask: %v", err)
	}
	return id
}

func TestCancelIDWritesReason(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	id := mustSchedule(t, fx, Request{
		When:    time.Now().Add(time.Hour),
		User:    "U1",
		Command: "ping",
		Routing: dispatch.Routing{Channel: "100"},
	})

	if err := fx.ctl.CancelID(context.Background(), id, "superseded"); err != nil {
		t.Fatalf("CancelID: %v", err)
	}
	if fx.reg.Contains(id.Key()) {
		t.Fatal("timer still live")
	}
	rec := fx.store.get(t, id.Num())
	if rec.Completed == nil || *rec.Completed {
		t.Fatalf("Completed = %v, want false", rec.Completed)
	}
	if rec.ErrorDetail != "superseded" {
		t.Fatalf("ErrorDetail = %q", rec.ErrorDetail)
	}
}

func TestCancelIDDefaultReason(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	id := mustSchedule(t, fx, Request{
		When:    "@daily",
		User:    "U1",
		Routing: dispatch.Routing{Channel: "100"},
	})

	if err := fx.ctl.CancelID(context.Background(), id, ""); err != nil {
		t.Fatalf("CancelID: %v", err)
	}
	if got := fx.store.get(t, id.Num()).ErrorDetail; got != DefaultCancelReason {
		t.Fatalf("ErrorDetail = %q, want %q", got, DefaultCancelReason)
	}
}

func TestCancelUnknownIDFails(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	err := fx.ctl.CancelID(context.Background(), Persisted(777), "nope")
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("err = %v, want registry.ErrNotFound", err)
	}
}

func TestCancelWhereByUser(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	u1a := mustSchedule(t, fx, Request{When: time.Now().Add(time.Hour), User: "U1", Command: "ping", Routing: dispatch.Routing{Channel: "100"}})
	u1b := mustSchedule(t, fx, Request{When: "@daily", User: "U1", Command: "report", Routing: dispatch.Routing{Channel: "100"}})
	u2 := mustSchedule(t, fx, Request{When: time.Now().Add(time.Hour), User: "U2", Command: "ping", Routing: dispatch.Routing{Channel: "100"}})

	// A completed U1 job must be untouched.
	done := mustSchedule(t, fx, Request{When: time.Now().Add(time.Hour), User: "U1", Command: "old", Routing: dispatch.Routing{Channel: "100"}})
	if err := fx.ctl.CancelID(ctx, done, "already handled"); err != nil {
		t.Fatalf("CancelID: %v", err)
	}

	if err := fx.ctl.CancelWhere(ctx, Filter{User: "U1"}, "user purge"); err != nil {
		t.Fatalf("CancelWhere: %v", err)
	}

	for _, id := range []ID{u1a, u1b} {
		if fx.reg.Contains(id.Key()) {
			t.Fatalf("%s still live", id)
		}
		rec := fx.store.get(t, id.Num())
		if rec.Completed == nil || *rec.Completed || rec.ErrorDetail != "user purge" {
			t.Fatalf("%s not cancelled: %+v", id, rec)
		}
	}

	if !fx.reg.Contains(u2.Key()) {
		t.Fatal("other user's job was cancelled")
	}
	if got := fx.store.get(t, done.Num()).ErrorDetail; got != "already handled" {
		t.Fatalf("completed job was re-patched: %q", got)
	}
}

func TestCancelWherePostingModeDefaultsToBot(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	bot := mustSchedule(t, fx, Request{When: "@daily", User: "U1", Routing: dispatch.Routing{Channel: "100", PostingMode: storage.PostingBot}})
	user := mustSchedule(t, fx, Request{When: "@daily", User: "U1", Routing: dispatch.Routing{Channel: "100", PostingMode: storage.PostingUser}})

	if err := fx.ctl.CancelWhere(ctx, Filter{User: "U1"}, ""); err != nil {
		t.Fatalf("CancelWhere: %v", err)
	}
	if fx.reg.Contains(bot.Key()) {
		t.Fatal("bot-mode job not cancelled")
	}
	if !fx.reg.Contains(user.Key()) {
		t.Fatal("user-mode job cancelled despite default bot filter")
	}
}

func TestCancelWhereSkipsElapsedInstants(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	// Seed an already-elapsed one-shot directly: its timer has fired and its
	// completion patch may still be in flight.
	past := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)
	num, err := fx.store.Insert(ctx, storage.Record{TimeSpec: past, User: "U1"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := fx.ctl.CancelWhere(ctx, Filter{User: "U1"}, "purge"); err != nil {
		t.Fatalf("CancelWhere: %v", err)
	}
	if rec := fx.store.get(t, num); rec.Completed != nil {
		t.Fatalf("elapsed one-shot was patched: %+v", rec)
	}
}

func TestCancelWherePartialFailures(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	good := mustSchedule(t, fx, Request{When: "@daily", User: "U1", Routing: dispatch.Routing{Channel: "100"}})

	// A pending record with no live timer violates the registry invariant;
	// batch cancel must report it but still cancel the others.
	if _, err := fx.store.Insert(ctx, storage.Record{TimeSpec: "@daily", User: "U1"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	err := fx.ctl.CancelWhere(ctx, Filter{User: "U1"}, "purge")
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("err = %v, want joined registry.ErrNotFound", err)
	}
	if fx.reg.Contains(good.Key()) {
		t.Fatal("healthy job not cancelled despite sibling failure")
	}
}

func TestCancelDispatchesOnTargetType(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	ctx := context.Background()

	id := mustSchedule(t, fx, Request{When: "@daily", User: "U1", Routing: dispatch.Routing{Channel: "100"}})

	if err := fx.ctl.Cancel(ctx, id, ""); err != nil {
		t.Fatalf("Cancel by id: %v", err)
	}
	if err := fx.ctl.Cancel(ctx, "bogus", ""); err == nil {
		t.Fatal("expected error for unsupported target type")
	}
}
