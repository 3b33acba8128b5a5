// Package eventbus carries job lifecycle signals between the controller and
// observers (status snapshots, logging).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the job controller.
const (
	JobScheduled = "job.scheduled"
	JobFired     = "job.fired"
	JobFailed    = "job.failed"
	JobCancelled = "job.cancelled"
)

// Event is a lightweight, in-memory job lifecycle signal.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type   string
	Time   time.Time
	JobKey string // registry key, e.g. "job:42" or "eph:3"
	User   string
	Detail string // error or cancellation detail, if any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

// Publish delivers e to every subscriber without blocking. Sends happen
// under the read lock and unsubscribe closes under the write lock, so a
// channel is never closed while a send to it is in flight.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber buffer full; the event is dropped for that subscriber.
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
