// Package cmd implements the shieldctl operator CLI. All commands talk
// to the shared Redis store directly, so they work even when the HTTP
// service is down.
package cmd

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/skillhubio/shield/internal/config"
	"github.com/skillhubio/shield/internal/infra/redis"
	"github.com/skillhubio/shield/internal/security"
	"github.com/skillhubio/shield/pkg/logger"
)

var (
	version string

	// Global flags
	flagOutput  string
	flagTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "shieldctl",
	Short: "Shield abuse-defense operator CLI",
	Long: `shieldctl manages the shield service's shared state directly in Redis.

It can inspect recent security activity, place and lift IP blocks,
and reset rate limit counters. Redis connection settings come from
the same REDIS_* environment variables the server uses.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "Output format: table, json")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 10*time.Second, "Command timeout")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(blockIPCmd)
	rootCmd.AddCommand(unblockIPCmd)
	rootCmd.AddCommand(blocksCmd)
	rootCmd.AddCommand(resetLimitCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the shieldctl version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("shieldctl %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

// cmdContext returns the per-command context.
func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), flagTimeout)
}

// connect opens the Redis client and wraps it in the event store.
func connect() (*redis.Client, *security.RedisStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.NewNop()
	client, err := redis.New(&cfg.Redis, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr(), err)
	}

	store, err := security.NewRedisStore(client, cfg.Security.EventRetention, cfg.Security.IPIndexRetention, log)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, store, nil
}
