package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/skillhubio/shield/pkg/logger"
)

// record is one fixed-window counter for a (prefix, identifier) pair.
type record struct {
	count   int
	resetAt time.Time
}

// MemoryBackend keeps rate limit records in a process-local table.
// Counts are correct only within a single process instance; multi-instance
// deployments must use the shared backend or quotas are silently
// under-enforced.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[string]*record

	now      func() time.Time
	log      *logger.Logger
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// MemoryOption configures the memory backend.
type MemoryOption func(*MemoryBackend)

// WithClock overrides the time source. Used by tests to simulate
// window expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryBackend) {
		m.now = now
	}
}

// NewMemoryBackend creates an in-process backend and starts its sweep
// task removing expired records every sweepInterval.
func NewMemoryBackend(sweepInterval time.Duration, log *logger.Logger, opts ...MemoryOption) *MemoryBackend {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	m := &MemoryBackend{
		records: make(map[string]*record),
		now:     time.Now,
		log:     log,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.sweepLoop(sweepInterval)

	return m
}

// Stop stops the sweep task and waits for it to exit.
// Safe to call multiple times.
func (m *MemoryBackend) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
	})
	<-m.stopped
}

// Check implements Backend.
func (m *MemoryBackend) Check(_ context.Context, key string, cfg Config) (*Result, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok || !rec.resetAt.After(now) {
		// First request in a fresh window.
		rec = &record{count: 1, resetAt: now.Add(cfg.Window)}
		m.records[key] = rec
		return m.result(true, cfg, rec, now), nil
	}

	if rec.count < cfg.MaxRequests {
		rec.count++
		return m.result(true, cfg, rec, now), nil
	}

	// Denied requests do not consume further quota.
	return m.result(false, cfg, rec, now), nil
}

func (m *MemoryBackend) result(allowed bool, cfg Config, rec *record, now time.Time) *Result {
	remaining := cfg.MaxRequests - rec.count
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:   allowed,
		Remaining: remaining,
		Limit:     cfg.MaxRequests,
		ResetIn:   rec.resetAt.Sub(now),
		ResetAt:   rec.resetAt,
	}
}

// Reset implements Backend.
func (m *MemoryBackend) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, key)
	return nil
}

// ResetAll implements Backend.
func (m *MemoryBackend) ResetAll(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.records {
		if strings.HasPrefix(key, prefix) {
			delete(m.records, key)
		}
	}
	return nil
}

// Sweep removes records whose window has already elapsed, bounding the
// table's memory. Exposed for tests and operational tooling.
func (m *MemoryBackend) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, rec := range m.records {
		if !rec.resetAt.After(now) {
			delete(m.records, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live records. Used by tests.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *MemoryBackend) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(m.stopped)

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			if removed := m.Sweep(); removed > 0 && m.log != nil {
				m.log.Debug("rate limit sweep completed", "removed", removed)
			}
		}
	}
}
