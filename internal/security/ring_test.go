package security

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRing_AppendAndSince(t *testing.T) {
	ring := newEventRing(10)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ring.Append(testEvent(fmt.Sprintf("evt_%d", i), EventLoginFailure, base.Add(time.Duration(i)*time.Minute), ""))
	}
	assert.Equal(t, 5, ring.Len())

	// Cutoff excludes the first two events.
	events := ring.Since(base.Add(2 * time.Minute))
	require.Len(t, events, 3)
	assert.Equal(t, "evt_2", events[0].ID)
	assert.Equal(t, "evt_4", events[2].ID)
}

func TestEventRing_OldestDropsFirstWhenFull(t *testing.T) {
	ring := newEventRing(3)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		ring.Append(testEvent(fmt.Sprintf("evt_%d", i), EventLoginFailure, base.Add(time.Duration(i)*time.Minute), ""))
	}

	assert.Equal(t, 3, ring.Len())
	events := ring.Since(base)
	require.Len(t, events, 3)
	assert.Equal(t, "evt_2", events[0].ID)
	assert.Equal(t, "evt_3", events[1].ID)
	assert.Equal(t, "evt_4", events[2].ID)
}

func TestEventRing_Update(t *testing.T) {
	ring := newEventRing(3)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	event := testEvent("evt_1", EventSQLInjection, base, "1.1.1.1")
	ring.Append(event)

	event.RiskScore = 90
	event.Mitigated = true
	ring.Update(event)

	events := ring.Since(base)
	require.Len(t, events, 1)
	assert.Equal(t, 90, events[0].RiskScore)
	assert.True(t, events[0].Mitigated)

	// Updating an evicted or unknown event is a no-op.
	ring.Update(testEvent("evt_ghost", EventLoginFailure, base, ""))
	assert.Equal(t, 1, ring.Len())
}

func TestEventRing_UpdateAt(t *testing.T) {
	ring := newEventRing(3)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	event := testEvent("evt_1", EventSQLInjection, base, "1.1.1.1")
	slot := ring.Append(event)
	assert.Equal(t, 0, slot)

	event.RiskScore = 95
	ring.UpdateAt(slot, event)

	events := ring.Since(base)
	require.Len(t, events, 1)
	assert.Equal(t, 95, events[0].RiskScore)
}

func TestEventRing_UpdateAtSkipsRecycledSlot(t *testing.T) {
	ring := newEventRing(2)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	stale := testEvent("evt_1", EventLoginFailure, base, "")
	slot := ring.Append(stale)

	// Wrap the ring so the slot now holds a different event.
	ring.Append(testEvent("evt_2", EventLoginFailure, base.Add(time.Minute), ""))
	ring.Append(testEvent("evt_3", EventLoginFailure, base.Add(2*time.Minute), ""))

	stale.RiskScore = 99
	ring.UpdateAt(slot, stale)

	for _, e := range ring.Since(base) {
		assert.NotEqual(t, 99, e.RiskScore)
		assert.NotEqual(t, "evt_1", e.ID)
	}
}

func TestEventRing_SinceReturnsCopies(t *testing.T) {
	ring := newEventRing(3)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	event := testEvent("evt_1", EventLoginFailure, base, "")
	event.Metadata = map[string]any{"path": "/login"}
	ring.Append(event)

	got := ring.Since(base)
	require.Len(t, got, 1)
	got[0].Metadata["path"] = "/tampered"

	again := ring.Since(base)
	assert.Equal(t, "/login", again[0].Metadata["path"])
}
