package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/skillhubio/shield/internal/security"
)

var flagDashboardWindow time.Duration

func init() {
	dashboardCmd.Flags().DurationVar(&flagDashboardWindow, "window", time.Hour, "Aggregation window")
}

// dashboardSummary is the CLI's store-backed activity aggregate. Unlike
// the server dashboard it reads the durable indices, so it covers
// events recorded by every instance.
type dashboardSummary struct {
	Window       string                     `json:"window"`
	TotalEvents  int                        `json:"total_events"`
	EventsByType map[security.EventType]int `json:"events_by_type"`
	EventsBySev  map[string]int             `json:"events_by_severity"`
	TopSourceIPs []ipCount                  `json:"top_source_ips"`
	BlockedIPs   []string                   `json:"blocked_ips"`
	GeneratedAt  time.Time                  `json:"generated_at"`
}

type ipCount struct {
	IPAddress  string `json:"ip_address"`
	EventCount int    `json:"event_count"`
	MaxRisk    int    `json:"max_risk"`
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Summarize recent security activity from the shared store",
	RunE: func(_ *cobra.Command, _ []string) error {
		client, store, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		since := time.Now().Add(-flagDashboardWindow)
		summary := dashboardSummary{
			Window:       flagDashboardWindow.String(),
			EventsByType: make(map[security.EventType]int),
			EventsBySev:  make(map[string]int),
			GeneratedAt:  time.Now().UTC(),
		}

		byIP := make(map[string]*ipCount)
		for _, eventType := range security.AllEventTypes() {
			events, err := store.EventsByType(ctx, eventType, since)
			if err != nil {
				return fmt.Errorf("query %s events: %w", eventType, err)
			}
			for _, event := range events {
				summary.TotalEvents++
				summary.EventsByType[event.Type]++
				summary.EventsBySev[event.Severity.String()]++
				if event.IPAddress == "" {
					continue
				}
				entry, ok := byIP[event.IPAddress]
				if !ok {
					entry = &ipCount{IPAddress: event.IPAddress}
					byIP[event.IPAddress] = entry
				}
				entry.EventCount++
				if event.RiskScore > entry.MaxRisk {
					entry.MaxRisk = event.RiskScore
				}
			}
		}

		for _, entry := range byIP {
			summary.TopSourceIPs = append(summary.TopSourceIPs, *entry)
		}
		sort.Slice(summary.TopSourceIPs, func(i, j int) bool {
			a, b := summary.TopSourceIPs[i], summary.TopSourceIPs[j]
			if a.MaxRisk != b.MaxRisk {
				return a.MaxRisk > b.MaxRisk
			}
			if a.EventCount != b.EventCount {
				return a.EventCount > b.EventCount
			}
			return a.IPAddress < b.IPAddress
		})
		if len(summary.TopSourceIPs) > 10 {
			summary.TopSourceIPs = summary.TopSourceIPs[:10]
		}

		if blocked, err := store.BlockedIPs(ctx); err == nil {
			summary.BlockedIPs = blocked
		}

		if flagOutput == outputJSON {
			printJSON(summary)
			return nil
		}

		fmt.Printf("Security activity over %s (%d events)\n\n", summary.Window, summary.TotalEvents)

		t := newTable("TYPE", "COUNT")
		for _, eventType := range security.AllEventTypes() {
			if n := summary.EventsByType[eventType]; n > 0 {
				t.AddRow(string(eventType), strconv.Itoa(n))
			}
		}
		t.Flush()

		if len(summary.TopSourceIPs) > 0 {
			fmt.Println()
			t = newTable("IP", "EVENTS", "MAX RISK")
			for _, entry := range summary.TopSourceIPs {
				t.AddRow(entry.IPAddress, strconv.Itoa(entry.EventCount), strconv.Itoa(entry.MaxRisk))
			}
			t.Flush()
		}

		fmt.Printf("\nActive IP blocks: %d\n", len(summary.BlockedIPs))
		return nil
	},
}
