package security

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrEventNotFound is returned when an event id has no stored record.
var ErrEventNotFound = errors.New("security: event not found")

// Store persists events and mitigation state. Implementations must be
// safe for concurrent use. The Monitor treats all store errors as
// non-fatal: recording never fails because persistence does.
type Store interface {
	// SaveEvent persists a new event and indexes it by type and,
	// when present, by source IP.
	SaveEvent(ctx context.Context, event *SecurityEvent) error
	// UpdateEvent overwrites the stored record for event.ID.
	UpdateEvent(ctx context.Context, event *SecurityEvent) error
	// GetEvent loads one event by id.
	GetEvent(ctx context.Context, id string) (*SecurityEvent, error)
	// EventsByType returns events of the given type recorded at or
	// after since, oldest first.
	EventsByType(ctx context.Context, eventType EventType, since time.Time) ([]*SecurityEvent, error)
	// EventsByIP returns events originating from the given IP recorded
	// at or after since, oldest first.
	EventsByIP(ctx context.Context, ip string, since time.Time) ([]*SecurityEvent, error)

	// BlockIP rejects the IP for the given duration.
	BlockIP(ctx context.Context, ip string, duration time.Duration, reason string) error
	// UnblockIP removes an active block, if any.
	UnblockIP(ctx context.Context, ip string) error
	// IsIPBlocked reports whether an unexpired block exists for the IP.
	IsIPBlocked(ctx context.Context, ip string) (bool, error)
	// BlockedIPs lists IPs with unexpired blocks.
	BlockedIPs(ctx context.Context) ([]string, error)

	// LockAccount prevents the account from authenticating for the
	// given duration.
	LockAccount(ctx context.Context, userID string, duration time.Duration, reason string) error
	// UnlockAccount removes an active lock, if any.
	UnlockAccount(ctx context.Context, userID string) error
	// IsAccountLocked reports whether an unexpired lock exists.
	IsAccountLocked(ctx context.Context, userID string) (bool, error)
}

// MemoryStore keeps all state in process memory. It backs development
// and test deployments and the degraded mode entered when the shared
// store is unreachable.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*SecurityEvent
	byType map[EventType][]string
	byIP   map[string][]string
	blocks map[string]time.Time
	locks  map[string]time.Time
	now    func() time.Time
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*SecurityEvent),
		byType: make(map[EventType][]string),
		byIP:   make(map[string][]string),
		blocks: make(map[string]time.Time),
		locks:  make(map[string]time.Time),
		now:    time.Now,
	}
}

// SaveEvent stores a copy of the event and updates the type and IP
// indexes.
func (s *MemoryStore) SaveEvent(_ context.Context, event *SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.ID] = cloneEvent(event)
	s.byType[event.Type] = append(s.byType[event.Type], event.ID)
	if event.IPAddress != "" {
		s.byIP[event.IPAddress] = append(s.byIP[event.IPAddress], event.ID)
	}
	return nil
}

// UpdateEvent replaces the stored record.
func (s *MemoryStore) UpdateEvent(_ context.Context, event *SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; !ok {
		return ErrEventNotFound
	}
	s.events[event.ID] = cloneEvent(event)
	return nil
}

// GetEvent returns a copy of the stored event.
func (s *MemoryStore) GetEvent(_ context.Context, id string) (*SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return cloneEvent(event), nil
}

// EventsByType returns matching events oldest first.
func (s *MemoryStore) EventsByType(_ context.Context, eventType EventType, since time.Time) ([]*SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byType[eventType], since), nil
}

// EventsByIP returns matching events oldest first.
func (s *MemoryStore) EventsByIP(_ context.Context, ip string, since time.Time) ([]*SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byIP[ip], since), nil
}

func (s *MemoryStore) collect(ids []string, since time.Time) []*SecurityEvent {
	var out []*SecurityEvent
	for _, id := range ids {
		event, ok := s.events[id]
		if !ok || event.Timestamp.Before(since) {
			continue
		}
		out = append(out, cloneEvent(event))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// BlockIP records an expiring block for the IP.
func (s *MemoryStore) BlockIP(_ context.Context, ip string, duration time.Duration, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[ip] = s.now().Add(duration)
	return nil
}

// UnblockIP removes the block for the IP.
func (s *MemoryStore) UnblockIP(_ context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, ip)
	return nil
}

// IsIPBlocked reports whether an unexpired block exists.
func (s *MemoryStore) IsIPBlocked(_ context.Context, ip string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	until, ok := s.blocks[ip]
	return ok && s.now().Before(until), nil
}

// BlockedIPs lists IPs with unexpired blocks.
func (s *MemoryStore) BlockedIPs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []string
	for ip, until := range s.blocks {
		if now.Before(until) {
			out = append(out, ip)
		}
	}
	sort.Strings(out)
	return out, nil
}

// LockAccount records an expiring lock for the account.
func (s *MemoryStore) LockAccount(_ context.Context, userID string, duration time.Duration, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[userID] = s.now().Add(duration)
	return nil
}

// UnlockAccount removes the lock for the account.
func (s *MemoryStore) UnlockAccount(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, userID)
	return nil
}

// IsAccountLocked reports whether an unexpired lock exists.
func (s *MemoryStore) IsAccountLocked(_ context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	until, ok := s.locks[userID]
	return ok && s.now().Before(until), nil
}

// Sweep drops events recorded before the retention horizon along with
// their index entries, and removes expired block and lock records. The
// shared store expires through TTLs; this is the in-process equivalent,
// run periodically so degraded mode cannot grow without bound. Returns
// the number of events removed.
func (s *MemoryStore) Sweep(retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-retention)

	removed := 0
	for id, event := range s.events {
		if event.Timestamp.Before(cutoff) {
			delete(s.events, id)
			removed++
		}
	}
	if removed > 0 {
		for eventType, ids := range s.byType {
			if kept := s.keepLive(ids); len(kept) == 0 {
				delete(s.byType, eventType)
			} else {
				s.byType[eventType] = kept
			}
		}
		for ip, ids := range s.byIP {
			if kept := s.keepLive(ids); len(kept) == 0 {
				delete(s.byIP, ip)
			} else {
				s.byIP[ip] = kept
			}
		}
	}

	for ip, until := range s.blocks {
		if !now.Before(until) {
			delete(s.blocks, ip)
		}
	}
	for userID, until := range s.locks {
		if !now.Before(until) {
			delete(s.locks, userID)
		}
	}
	return removed
}

// keepLive filters an index slice down to ids that still have a stored
// event. Caller holds the lock.
func (s *MemoryStore) keepLive(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		if _, ok := s.events[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// cloneEvent copies an event including its metadata map so stored
// records cannot be mutated through retained pointers.
func cloneEvent(event *SecurityEvent) *SecurityEvent {
	clone := *event
	if event.Metadata != nil {
		clone.Metadata = make(map[string]any, len(event.Metadata))
		for k, v := range event.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
