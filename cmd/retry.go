package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
)

var retryStatus string

var retryCmd = &cobra.Command{
	Use:   "retry [paths...]",
	Short: "Requeue files for another transfer attempt",
	Long: `Resets files back to pending so the next migration run claims them
again. Pass explicit paths, or --status to requeue every file currently
in that state (typically failed).`,
	RunE: runRetry,
}

func init() {
	retryCmd.Flags().StringVar(&retryStatus, "status", "", "Requeue every file in this status (failed/in_progress/migrated)")
	rootCmd.AddCommand(retryCmd)
}

func runRetry(cmd *cobra.Command, args []string) error {
	if (len(args) == 0) == (retryStatus == "") {
		return fmt.Errorf("provide file paths or --status, not both")
	}
	status := queue.FileStatus(retryStatus)
	if retryStatus != "" &&
		status != queue.FileFailed && status != queue.FileInProgress && status != queue.FileMigrated {
		return fmt.Errorf("status must be failed, in_progress or migrated")
	}

	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Retry(cmd.Context(), args, status)
	if err != nil {
		return err
	}
	fmt.Printf("requeued %d files\n", n)
	return nil
}
