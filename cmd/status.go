package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zahid-Alee/migrate-supabase/internal/app"
	"github.com/Zahid-Alee/migrate-supabase/internal/progress"
	"github.com/Zahid-Alee/migrate-supabase/internal/queue"
)

var (
	statusKind  string
	statusWatch bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the newest job's progress",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusKind, "kind", "migrate", "Job kind to inspect (discover/migrate)")
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "Keep rendering until the job finishes")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	kind := queue.JobKind(statusKind)
	if kind != queue.KindDiscover && kind != queue.KindMigrate {
		return fmt.Errorf("kind must be discover or migrate")
	}

	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if statusWatch {
		err = a.Watch(cmd.Context(), kind, os.Stdout)
	} else {
		err = printStatus(cmd.Context(), a, kind)
	}
	if errors.Is(err, queue.ErrNotFound) {
		return fmt.Errorf("no %s job found", kind)
	}
	return err
}

// printStatus renders one snapshot plus the inventory totals, which span
// every job that ever touched the queue.
func printStatus(ctx context.Context, a *app.App, kind queue.JobKind) error {
	snap, err := a.Status(ctx, kind)
	if err != nil {
		return err
	}
	fmt.Print(progress.Render(snap, 0))

	counts, err := a.Store().CountInventory(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("queue  %d pending, %d in_progress, %d migrated, %d failed\n",
		counts[queue.FilePending], counts[queue.FileInProgress],
		counts[queue.FileMigrated], counts[queue.FileFailed])
	return nil
}
