// Package jobs orchestrates the lifecycle of scheduled work: creation,
// activation, firing, cancellation, and recovery after a restart.
package jobs

import (
	"fmt"
	"strconv"
	"strings"

	"schedbot/internal/dispatch"
	"schedbot/internal/storage"
)

// ID identifies a job. It is a tagged value: persisted jobs carry their
// store id, ephemeral jobs carry an in-memory sequence number and never
// touch the store.
type ID struct {
	num       int64
	ephemeral bool
}

// Persisted builds the id of a store-backed job.
func Persisted(n int64) ID { return ID{num: n} }

// IsEphemeral reports whether the job exists only in memory.
func (id ID) IsEphemeral() bool { return id.ephemeral }

// Num returns the store id for persisted jobs, or the in-memory sequence
// number for ephemeral ones.
func (id ID) Num() int64 { return id.num }

// Key returns the registry key for this id.
func (id ID) Key() string {
	if id.ephemeral {
		return "eph:" + strconv.FormatInt(id.num, 10)
	}
	return "job:" + strconv.FormatInt(id.num, 10)
}

func (id ID) String() string { return id.Key() }

// ParseKey parses a registry key back into an ID.
func ParseKey(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if n, ok := strings.CutPrefix(s, "job:"); ok {
		num, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("jobs: bad key %q", s)
		}
		return ID{num: num}, nil
	}
	if n, ok := strings.CutPrefix(s, "eph:"); ok {
		num, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("jobs: bad key %q", s)
		}
		return ID{num: num, ephemeral: true}, nil
	}
	// Bare numbers address persisted jobs.
	if num, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ID{num: num}, nil
	}
	return ID{}, fmt.Errorf("jobs: bad key %q", s)
}

// TargetKind discriminates what a firing job invokes.
type TargetKind int

const (
	// TargetCommand re-emits a slash command with the record's text.
	TargetCommand TargetKind = iota
	// TargetAction invokes a named action with the record's payload args.
	TargetAction
)

// targetOf classifies a record. A set action name selects the action path.
func targetOf(rec storage.Record) TargetKind {
	if strings.TrimSpace(rec.Action) != "" {
		return TargetAction
	}
	return TargetCommand
}

// Request carries the parameters of a scheduling call.
type Request struct {
	// When is the raw time specification: a time.Time, a textual timestamp,
	// or a recurring pattern string.
	When    any
	User    string
	Command string
	Text    string
	Action  string
	Args    map[string]any
	Routing dispatch.Routing
}

func (r Request) record(timeSpec string) storage.Record {
	return storage.Record{
		TimeSpec:     timeSpec,
		User:         r.User,
		Command:      r.Command,
		Text:         r.Text,
		Action:       r.Action,
		Channel:      r.Routing.Channel,
		Session:      r.Routing.Session,
		Participants: r.Routing.Users,
		PostingMode:  r.Routing.PostingMode,
		PayloadArgs:  r.Args,
	}
}

func routingOf(rec storage.Record) dispatch.Routing {
	return dispatch.Routing{
		Channel:     rec.Channel,
		Users:       rec.Participants,
		PostingMode: rec.PostingMode,
		Session:     rec.Session,
	}
}
