package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Walk the source hierarchy into the work queue",
	Long: `Claims directories from the scan frontier, lists each one and records
children back into the frontier and the file inventory. Re-running after
an interruption resumes from the queued directories; already recorded
paths are never re-counted.`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	err = a.RunDiscovery(cmd.Context())
	if errors.Is(err, context.Canceled) {
		return stopInterrupted(a, queue.KindDiscover)
	}
	return err
}
