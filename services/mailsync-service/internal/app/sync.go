package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the mailbox once and exit",
	Long:  "Pulls the sent folder and then the inbox from the configured window and prints the per-folder counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d, err := build(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		summary, syncErr := d.service.SyncAll(ctx)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return fmt.Errorf("failed to print summary: %w", err)
		}
		return syncErr
	},
}
