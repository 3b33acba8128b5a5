// Package registry owns the set of live, in-memory timers backing scheduled
// jobs. It is a thin layer over time.AfterFunc and robfig/cron and holds no
// job semantics of its own.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"schedbot/internal/schedule"
	"schedbot/pkg/logx"
)

// ErrNotFound is returned by Stop for a key with no live timer.
var ErrNotFound = errors.New("registry: no timer for key")

// Registry maps job keys to live timer handles.
//
// Callers serialize operations on the same key; operations on different keys
// are safe to run concurrently.
type Registry struct {
	log logx.Logger

	mu      sync.Mutex
	c       *cron.Cron
	timers  map[string]*time.Timer
	entries map[string]cron.EntryID
	closed  bool
}

// New creates a started registry. Cron patterns run on a UTC clock regardless
// of the host timezone; an optional seconds field and descriptors such as
// "@every 30s" and "@daily" are accepted.
func New(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC))
	c.Start()
	return &Registry{
		log:     log,
		c:       c,
		timers:  map[string]*time.Timer{},
		entries: map[string]cron.EntryID{},
	}
}

// Register arms a timer for key per spec and invokes fire on each tick.
//
// One-shot timers remove their own registry entry before fire runs, so the
// callback observes the registry without itself in it. Recurring timers stay
// registered until Stop.
func (r *Registry) Register(key string, spec schedule.Spec, fire func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New("registry: closed")
	}
	if _, ok := r.timers[key]; ok {
		return fmt.Errorf("registry: key %q already has a live timer", key)
	}
	if _, ok := r.entries[key]; ok {
		return fmt.Errorf("registry: key %q already has a live timer", key)
	}

	switch spec.Kind {
	case schedule.KindOnce:
		delay := time.Until(spec.At)
		if delay < 0 {
			delay = 0
		}
		r.timers[key] = time.AfterFunc(delay, func() {
			r.mu.Lock()
			delete(r.timers, key)
			r.mu.Unlock()
			fire()
		})
	case schedule.KindRecurring:
		id, err := r.c.AddFunc(spec.Pattern, fire)
		if err != nil {
			return fmt.Errorf("registry: bad pattern %q: %w", spec.Pattern, err)
		}
		r.entries[key] = id
	default:
		return fmt.Errorf("registry: unknown spec kind %v", spec.Kind)
	}

	r.log.Debug("timer registered", logx.String("key", key), logx.String("kind", spec.Kind.String()))
	return nil
}

// Stop disarms and forgets the timer for key.
func (r *Registry) Stop(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[key]; ok {
		t.Stop()
		delete(r.timers, key)
		r.log.Debug("timer stopped", logx.String("key", key))
		return nil
	}
	if id, ok := r.entries[key]; ok {
		r.c.Remove(id)
		delete(r.entries, key)
		r.log.Debug("timer stopped", logx.String("key", key))
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Contains reports whether key has a live timer.
func (r *Registry) Contains(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, once := r.timers[key]
	_, rec := r.entries[key]
	return once || rec
}

// Len returns the number of live timers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers) + len(r.entries)
}

// Keys returns the sorted keys of all live timers.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.timers)+len(r.entries))
	for k := range r.timers {
		keys = append(keys, k)
	}
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close stops the cron runner and all one-shot timers. The registry cannot
// be reused afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true

	<-r.c.Stop().Done()
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = map[string]*time.Timer{}
	r.entries = map[string]cron.EntryID{}
	r.log.Debug("registry closed")
}
