package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"schedbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(context.Background(), Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "jobs.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestInsertAndFindByID(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.Insert(ctx, Record{
		TimeSpec:     "2031-04-02T09:30:00Z",
		User:         "U123",
		Command:      "ping",
		Text:         "hi",
		Channel:      "town-square",
		Session:      "7",
		Participants: []string{"U9", "U2"},
		PayloadArgs:  map[string]any{"k": "v"},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id <= 0 {
		t.Fatalf("id = %d, want > 0", id)
	}

	rec, err := st.FindByID(ctx, id)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if rec.User != "U123" || rec.Command != "ping" || rec.Text != "hi" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Completed != nil {
		t.Fatal("new record should be pending")
	}
	if rec.PostingMode != PostingBot {
		t.Fatalf("PostingMode = %q, want default bot", rec.PostingMode)
	}
	if rec.Session != "7" {
		t.Fatalf("Session = %q, want %q", rec.Session, "7")
	}
	// Participants come back canonically sorted.
	if len(rec.Participants) != 2 || rec.Participants[0] != "U2" || rec.Participants[1] != "U9" {
		t.Fatalf("Participants = %v", rec.Participants)
	}
	if rec.PayloadArgs["k"] != "v" {
		t.Fatalf("PayloadArgs = %v", rec.PayloadArgs)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)

	_, err := st.FindByID(context.Background(), 9999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestInsertValidation(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rec  Record
	}{
		{name: "empty time spec", rec: Record{User: "U1"}},
		{name: "empty user", rec: Record{TimeSpec: "@daily"}},
		{name: "bad posting mode", rec: Record{TimeSpec: "@daily", User: "U1", PostingMode: "ghost"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := st.Insert(ctx, tt.rec); !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestPatchCompletion(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	id, err := st.Insert(ctx, Record{TimeSpec: "@daily", User: "U1"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	detail := "network down"
	if err := st.Patch(ctx, id, Patch{Completed: boolPtr(false), ErrorDetail: &detail}); err != nil {
		t.Fatalf("Patch: %v", err)
	}

	rec, err := st.FindByID(ctx, id)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if rec.Completed == nil || *rec.Completed {
		t.Fatalf("Completed = %v, want false", rec.Completed)
	}
	if rec.ErrorDetail != "network down" {
		t.Fatalf("ErrorDetail = %q", rec.ErrorDetail)
	}

	if err := st.Patch(ctx, 424242, Patch{Completed: boolPtr(true)}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("patch of missing id: err = %v, want ErrNotFound", err)
	}
}

func TestWhereConjunction(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	mk := func(user, command, mode string, participants []string) int64 {
		t.Helper()
		id, err := st.Insert(ctx, Record{
			TimeSpec:     "@daily",
			User:         user,
			Command:      command,
			PostingMode:  mode,
			Participants: participants,
		})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		return id
	}

	a := mk("U1", "ping", PostingBot, []string{"U2", "U3"})
	mk("U1", "pong", PostingBot, nil)
	mk("U2", "ping", PostingBot, nil)
	done := mk("U1", "ping", PostingBot, nil)
	mk("U1", "ping", PostingUser, nil)

	if err := st.Patch(ctx, done, Patch{Completed: boolPtr(true)}); err != nil {
		t.Fatalf("Patch: %v", err)
	}

	got, err := st.Where(ctx, Filter{Pending: true, User: "U1", Command: "ping", PostingMode: PostingBot})
	if err != nil {
		t.Fatalf("Where: %v", err)
	}
	if len(got) != 1 || got[0].ID != a {
		t.Fatalf("Where returned %+v, want only id %d", got, a)
	}

	// Participants equality is order-insensitive.
	got, err = st.Where(ctx, Filter{Pending: true, Participants: []string{"U3", "U2"}})
	if err != nil {
		t.Fatalf("Where: %v", err)
	}
	if len(got) != 1 || got[0].ID != a {
		t.Fatalf("participants filter returned %+v, want only id %d", got, a)
	}
}
