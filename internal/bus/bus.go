// Package bus is the per-run, in-memory event log with live fan-out.
//
// Events are retained newest-last with bounded eviction; each subscriber has a
// bounded queue and is evicted when it overflows, so a slow consumer can never
// stall the run that is appending.
package bus

import (
	"errors"
	"sync"

	"forge/internal/types"
)

const (
	// DefaultRetention bounds the per-run event history.
	DefaultRetention = 200
	// subscriberQueueSize bounds each subscriber's undelivered backlog.
	subscriberQueueSize = 64
)

var ErrRunClosed = errors.New("event bus: run is closed")

type subscriber struct {
	id int
	ch chan types.Event
}

type runLog struct {
	events []types.Event
	nextID int
	subs   map[int]*subscriber
	closed bool
}

type Bus struct {
	mu        sync.Mutex
	retention int
	runs      map[string]*runLog
}

func New(retention int) *Bus {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Bus{
		retention: retention,
		runs:      make(map[string]*runLog),
	}
}

func (b *Bus) log(runID string) *runLog {
	rl, ok := b.runs[runID]
	if !ok {
		rl = &runLog{subs: make(map[int]*subscriber)}
		b.runs[runID] = rl
	}
	return rl
}

// Append records the event and delivers it to every current subscriber in
// emission order. Subscribers whose queue is full are evicted and their
// channel closed. It reports whether the event was recorded; a closed run
// log drops it.
func (b *Bus) Append(runID string, event types.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	rl := b.log(runID)
	if rl.closed {
		return false
	}
	rl.events = append(rl.events, event)
	if overflow := len(rl.events) - b.retention; overflow > 0 {
		rl.events = append([]types.Event{}, rl.events[overflow:]...)
	}
	for id, sub := range rl.subs {
		select {
		case sub.ch <- event:
		default:
			delete(rl.subs, id)
			close(sub.ch)
		}
	}
	return true
}

// Subscribe returns a channel that first replays the retained history and then
// yields live events until the run is closed or cancel is called. The returned
// cancel is safe to call more than once.
func (b *Bus) Subscribe(runID string) (<-chan types.Event, func(), error) {
	b.mu.Lock()
	rl := b.log(runID)
	if rl.closed {
		b.mu.Unlock()
		return nil, nil, ErrRunClosed
	}
	rl.nextID++
	id := rl.nextID
	sub := &subscriber{
		id: id,
		ch: make(chan types.Event, subscriberQueueSize+len(rl.events)),
	}
	for _, event := range rl.events {
		sub.ch <- event
	}
	rl.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		current, ok := b.runs[runID]
		if !ok {
			return
		}
		if existing, ok := current.subs[id]; ok && existing == sub {
			delete(current.subs, id)
			close(sub.ch)
		}
	}
	return sub.ch, cancel, nil
}

// Recent returns a copy of the retained events for the run.
func (b *Bus) Recent(runID string) []types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	rl, ok := b.runs[runID]
	if !ok {
		return nil
	}
	return append([]types.Event{}, rl.events...)
}

// SubscriberCount reports the live subscribers for the run.
func (b *Bus) SubscriberCount(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	rl, ok := b.runs[runID]
	if !ok {
		return 0
	}
	return len(rl.subs)
}

// Close marks the run terminal: all subscriber channels are closed and later
// appends or subscriptions are rejected. Retained history stays readable.
func (b *Bus) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rl, ok := b.runs[runID]
	if !ok {
		rl = b.log(runID)
	}
	if rl.closed {
		return
	}
	rl.closed = true
	for id, sub := range rl.subs {
		delete(rl.subs, id)
		close(sub.ch)
	}
}

// Drop removes every trace of the run from the bus.
func (b *Bus) Drop(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rl, ok := b.runs[runID]
	if !ok {
		return
	}
	for id, sub := range rl.subs {
		delete(rl.subs, id)
		close(sub.ch)
	}
	delete(b.runs, runID)
}
