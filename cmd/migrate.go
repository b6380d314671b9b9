package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Transfer pending inventory files to the destination",
	Long: `Claims batches of pending files and copies each one from the source to
the destination with bounded concurrency and retries. Finished files are
settled exactly once; a canceled run leaves its claims for the reaper and
the next run picks up where this one left off.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.RunMigration(cmd.Context())
	if errors.Is(err, context.Canceled) {
		return stopInterrupted(a, queue.KindMigrate)
	}
	return err
}
