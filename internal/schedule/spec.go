// Package schedule normalizes raw time specifications into a form the timer
// registry understands.
//
// A time specification is either a single instant (a time.Time or a textual
// timestamp) or a recurring cron-style pattern. Classification is total:
// every string that does not parse as a timestamp is treated as a pattern and
// validated later, at timer registration.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the two shapes a resolved spec can take.
type Kind int

const (
	// KindOnce fires exactly once at Spec.At.
	KindOnce Kind = iota
	// KindRecurring fires repeatedly per Spec.Pattern.
	KindRecurring
)

func (k Kind) String() string {
	switch k {
	case KindOnce:
		return "once"
	case KindRecurring:
		return "recurring"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Spec is a normalized time specification.
type Spec struct {
	Kind    Kind
	At      time.Time // valid when Kind == KindOnce
	Pattern string    // valid when Kind == KindRecurring
}

// Once builds a one-shot spec for the given instant.
func Once(at time.Time) Spec { return Spec{Kind: KindOnce, At: at.UTC()} }

// Recurring builds a recurring spec carrying the raw pattern.
func Recurring(pattern string) Spec { return Spec{Kind: KindRecurring, Pattern: pattern} }

// String renders the spec in its persisted form: RFC3339 for instants, the
// verbatim pattern for recurring specs.
func (s Spec) String() string {
	if s.Kind == KindOnce {
		return s.At.Format(time.RFC3339)
	}
	return s.Pattern
}

// timestampLayouts are the textual instant forms accepted by Resolve and
// Classify, tried in order.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseInstant parses s as a point in time, or reports that it is not one.
func ParseInstant(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Resolve normalizes a raw scheduling value as supplied by a caller.
//
// Accepted shapes:
//   - time.Time / *time.Time: a one-shot instant
//   - string that parses as a timestamp: a one-shot instant
//   - any other string: a recurring pattern, passed through unvalidated
func Resolve(raw any) (Spec, error) {
	switch v := raw.(type) {
	case time.Time:
		return Once(v), nil
	case *time.Time:
		if v == nil {
			return Spec{}, fmt.Errorf("schedule: nil time")
		}
		return Once(*v), nil
	case string:
		if t, ok := ParseInstant(v); ok {
			return Once(t), nil
		}
		if strings.TrimSpace(v) == "" {
			return Spec{}, fmt.Errorf("schedule: empty time spec")
		}
		return Recurring(v), nil
	default:
		return Spec{}, fmt.Errorf("schedule: unsupported time spec type %T", raw)
	}
}

// Classify re-derives a spec from its persisted form during recovery.
//
// A stored timestamp that is already in the past is repaired to now+1s so
// the job fires promptly after restart instead of being dropped or racing
// its own registration. Future timestamps and patterns pass through.
func Classify(stored string, now time.Time) Spec {
	if t, ok := ParseInstant(stored); ok {
		if t.Before(now) {
			return Once(now.Add(time.Second))
		}
		return Once(t)
	}
	return Recurring(stored)
}
