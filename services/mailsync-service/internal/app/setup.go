package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stoik/mailvault/services/mailsync-service/internal/store"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create the database tables",
	Long:  "Creates the emails and attachments tables and their indexes. Safe to run more than once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		s, err := store.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer s.Close()

		fmt.Fprintln(cmd.OutOrStdout(), "Running migrations...")
		if err := s.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		n, err := s.CountEmails(ctx)
		if err != nil {
			return fmt.Errorf("failed to count emails: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Database setup complete (%s, %d emails stored)\n", cfg.Database.Driver, n)
		return nil
	},
}
