// Package jobs runs the periodic housekeeping tasks alongside the
// HTTP server.
package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/skillhubio/shield/internal/ratelimit"
	"github.com/skillhubio/shield/internal/security"
	"github.com/skillhubio/shield/pkg/logger"
)

// Cron schedules for the maintenance tasks.
const (
	schedulePrune   = "*/10 * * * *"
	scheduleSummary = "0 * * * *"
)

// eventSweeper is the retention hook the in-process event store
// exposes. The shared store expires records through TTLs and does not
// implement it.
type eventSweeper interface {
	Sweep(retention time.Duration) int
}

// Maintenance owns the cron scheduler for recurring upkeep: pruning
// expired blocks and retention-expired events, and logging an hourly
// activity summary.
type Maintenance struct {
	cron      *cron.Cron
	store     security.Store
	memory    *ratelimit.MemoryBackend
	monitor   *security.Monitor
	retention time.Duration
	logger    *logger.Logger
}

// NewMaintenance creates the maintenance scheduler. memory may be nil
// when all limiters run against the shared backend. retention bounds
// how long the in-process event store keeps records.
func NewMaintenance(store security.Store, memory *ratelimit.MemoryBackend, monitor *security.Monitor, retention time.Duration, log *logger.Logger) *Maintenance {
	return &Maintenance{
		cron:      cron.New(),
		store:     store,
		memory:    memory,
		monitor:   monitor,
		retention: retention,
		logger:    log.With("component", "maintenance"),
	}
}

// Start registers the tasks and starts the scheduler.
func (m *Maintenance) Start() error {
	if _, err := m.cron.AddFunc(schedulePrune, m.pruneExpired); err != nil {
		return err
	}
	if _, err := m.cron.AddFunc(scheduleSummary, m.logSummary); err != nil {
		return err
	}

	m.cron.Start()
	m.logger.Info("maintenance scheduler started",
		"prune_schedule", schedulePrune,
		"summary_schedule", scheduleSummary,
	)
	return nil
}

// Stop stops the scheduler and waits for running tasks to finish.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info("maintenance scheduler stopped")
}

// pruneExpired lists active blocks, which drops expired entries from
// the shared registry as a side effect, and sweeps retention-expired
// records from the in-process store when that is what backs the
// service.
func (m *Maintenance) pruneExpired() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ips, err := m.store.BlockedIPs(ctx)
	if err != nil {
		m.logger.Error("failed to prune block registry", "error", err)
	} else {
		m.logger.Debug("block registry pruned", "active_blocks", len(ips))
	}

	if sweeper, ok := m.store.(eventSweeper); ok {
		if removed := sweeper.Sweep(m.retention); removed > 0 {
			m.logger.Info("expired events swept", "removed", removed)
		}
	}
}

// logSummary emits an hourly operational snapshot.
func (m *Maintenance) logSummary() {
	dash := m.monitor.GetDashboard(time.Hour)

	tracked := 0
	if m.memory != nil {
		tracked = m.memory.Len()
	}

	m.logger.Info("hourly security summary",
		"events", dash.TotalEvents,
		"health", dash.Health,
		"issues", dash.HealthIssues,
		"tracked_identifiers", tracked,
	)
}
