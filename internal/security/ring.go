package security

import (
	"sync"
	"time"
)

// eventRing keeps the most recent events in a fixed-capacity ring for
// dashboard aggregation without touching the durable store. Once full,
// each append overwrites the oldest entry.
type eventRing struct {
	mu     sync.RWMutex
	events []*SecurityEvent
	next   int
	full   bool
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{events: make([]*SecurityEvent, capacity)}
}

// Append stores a copy of the event, evicting the oldest when full,
// and returns the slot it landed in for a later UpdateAt.
func (r *eventRing) Append(event *SecurityEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.next
	r.events[slot] = cloneEvent(event)
	r.next++
	if r.next == len(r.events) {
		r.next = 0
		r.full = true
	}
	return slot
}

// UpdateAt replaces the buffered event in the given slot. The id check
// guards against the slot having been recycled by concurrent appends,
// in which case the update is silently skipped.
func (r *eventRing) UpdateAt(slot int, event *SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.events[slot]; e != nil && e.ID == event.ID {
		r.events[slot] = cloneEvent(event)
	}
}

// Update replaces a buffered event in place, matching by id. Events
// already evicted are silently skipped.
func (r *eventRing) Update(event *SecurityEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.events {
		if e != nil && e.ID == event.ID {
			r.events[i] = cloneEvent(event)
			return
		}
	}
}

// Since returns buffered events recorded at or after the cutoff,
// oldest first.
func (r *eventRing) Since(cutoff time.Time) []*SecurityEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*SecurityEvent
	for _, e := range r.inOrder() {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, cloneEvent(e))
		}
	}
	return out
}

// Len reports the number of buffered events.
func (r *eventRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.events)
	}
	return r.next
}

// inOrder walks the ring oldest first. Caller holds the lock.
func (r *eventRing) inOrder() []*SecurityEvent {
	if !r.full {
		return r.events[:r.next]
	}
	out := make([]*SecurityEvent, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	out = append(out, r.events[:r.next]...)
	return out
}
