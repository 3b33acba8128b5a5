package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrValidation is returned when a record's fields violate the schema.
	ErrValidation = errors.New("storage: invalid record")
)

// Posting modes control whether an outgoing message is attributed to the
// bot identity or a human operator identity.
const (
	PostingBot  = "bot"
	PostingUser = "user"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default when empty)
//   - "mongo": MongoDB via URI/Database/Collection
type Config struct {
	Driver      string
	Path        string        // sqlite file path
	BusyTimeout time.Duration // sqlite only; 0 means default

	URI        string // mongo connection string
	Database   string // mongo database name
	Collection string // mongo collection name (default "jobs")
}

// Record is the durable unit of schedulable work.
//
// Completed is tri-state: nil means in flight, true means the one-shot job
// ran successfully, false means it failed or was cancelled. Recurring jobs
// only ever leave nil via explicit cancellation.
type Record struct {
	ID           int64
	TimeSpec     string
	User         string
	Command      string
	Text         string
	Action       string
	Channel      string
	Session      string
	Participants []string
	PostingMode  string
	PayloadArgs  map[string]any
	Completed    *bool
	ErrorDetail  string
}

// Patch carries a partial update. Nil fields are left untouched.
type Patch struct {
	Completed   *bool
	ErrorDetail *string
}

// Store is the persistence API the job controller depends on.
type Store interface {
	// Insert persists a new record and returns its assigned id.
	Insert(ctx context.Context, rec Record) (int64, error)
	// FindByID returns the record with the given id or ErrNotFound.
	FindByID(ctx context.Context, id int64) (Record, error)
	// Where returns all records matching the filter's conjunctive predicate.
	Where(ctx context.Context, f Filter) ([]Record, error)
	// Patch applies a partial update to the record with the given id.
	Patch(ctx context.Context, id int64, p Patch) error
	Close() error
}

const maxFieldLen = 4096

// validate enforces the schema's field shape before insert.
func validate(rec Record) error {
	if strings.TrimSpace(rec.TimeSpec) == "" {
		return fmt.Errorf("%w: time spec is empty", ErrValidation)
	}
	if strings.TrimSpace(rec.User) == "" {
		return fmt.Errorf("%w: user is empty", ErrValidation)
	}
	switch rec.PostingMode {
	case "", PostingBot, PostingUser:
	default:
		return fmt.Errorf("%w: unknown posting mode %q", ErrValidation, rec.PostingMode)
	}
	for name, v := range map[string]string{
		"time_spec": rec.TimeSpec,
		"user":      rec.User,
		"command":   rec.Command,
		"text":      rec.Text,
		"action":    rec.Action,
		"channel":   rec.Channel,
		"session":   rec.Session,
	} {
		if len(v) > maxFieldLen {
			return fmt.Errorf("%w: field %s exceeds %d bytes", ErrValidation, name, maxFieldLen)
		}
	}
	return nil
}

func boolPtr(v bool) *bool { return &v }
