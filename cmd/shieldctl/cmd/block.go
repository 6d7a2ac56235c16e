package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	flagBlockDuration time.Duration
	flagBlockReason   string
)

func init() {
	blockIPCmd.Flags().DurationVar(&flagBlockDuration, "duration", time.Hour, "Block duration")
	blockIPCmd.Flags().StringVar(&flagBlockReason, "reason", "manual block via shieldctl", "Block reason")
}

var blockIPCmd = &cobra.Command{
	Use:   "block-ip <ip>",
	Short: "Block an IP address",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		client, store, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		ip := args[0]
		if err := store.BlockIP(ctx, ip, flagBlockDuration, flagBlockReason); err != nil {
			return fmt.Errorf("block %s: %w", ip, err)
		}

		fmt.Printf("Blocked %s for %s\n", ip, flagBlockDuration)
		return nil
	},
}

var unblockIPCmd = &cobra.Command{
	Use:   "unblock-ip <ip>",
	Short: "Lift an IP block",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		client, store, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		ip := args[0]
		if err := store.UnblockIP(ctx, ip); err != nil {
			return fmt.Errorf("unblock %s: %w", ip, err)
		}

		fmt.Printf("Unblocked %s\n", ip)
		return nil
	},
}

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "List active IP blocks",
	RunE: func(_ *cobra.Command, _ []string) error {
		client, store, err := connect()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		ips, err := store.BlockedIPs(ctx)
		if err != nil {
			return fmt.Errorf("list blocks: %w", err)
		}

		if flagOutput == outputJSON {
			printJSON(map[string]any{"blocked_ips": ips, "count": len(ips)})
			return nil
		}

		if len(ips) == 0 {
			fmt.Println("No active IP blocks.")
			return nil
		}
		t := newTable("IP")
		for _, ip := range ips {
			t.AddRow(ip)
		}
		t.Flush()
		return nil
	},
}
