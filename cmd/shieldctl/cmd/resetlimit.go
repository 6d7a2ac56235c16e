package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/skillhubio/shield/internal/ratelimit"
	"github.com/skillhubio/shield/pkg/logger"
)

// presetConfigs maps preset names to their quota configs.
var presetConfigs = map[string]func() ratelimit.Config{
	"auth":    ratelimit.AuthConfig,
	"api":     ratelimit.APIConfig,
	"public":  ratelimit.PublicConfig,
	"payment": ratelimit.PaymentConfig,
	"upload":  ratelimit.UploadConfig,
}

func presetNames() []string {
	names := make([]string, 0, len(presetConfigs))
	for name := range presetConfigs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var resetLimitCmd = &cobra.Command{
	Use:   "reset-limit <preset> <identifier>",
	Short: "Reset a rate limit counter in the shared store",
	Long: `Reset the current window counter for one identifier under one preset.

Identifiers follow the server's resolution scheme: "user:<id>",
"key:<api-key>", or "ip:<address>". Example:

  shieldctl reset-limit auth ip:203.0.113.7`,
	Args: cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		preset, identifier := args[0], args[1]

		cfgFn, ok := presetConfigs[preset]
		if !ok {
			return fmt.Errorf("unknown preset %q (valid: %s)", preset, strings.Join(presetNames(), ", "))
		}

		client, _, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		log := logger.NewNop()
		backend, err := ratelimit.NewRedisBackend(client, log)
		if err != nil {
			return err
		}
		limiter, err := ratelimit.NewLimiter(preset, cfgFn(), backend, log)
		if err != nil {
			return err
		}

		ctx, cancel := cmdContext()
		defer cancel()

		if err := limiter.Reset(ctx, identifier); err != nil {
			return fmt.Errorf("reset %s/%s: %w", preset, identifier, err)
		}

		fmt.Printf("Reset %s limit for %s\n", preset, identifier)
		return nil
	},
}
