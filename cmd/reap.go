package main

import (
	"github.com/spf13/cobra"
)

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Recover work left behind by crashed workers",
	Long: `Fails running jobs whose heartbeat went silent and requeues file and
directory claims older than the configured TTL. Safe to run any time;
a sweep that finds nothing changes nothing.`,
	RunE: runReap,
}

func init() {
	rootCmd.AddCommand(reapCmd)
}

func runReap(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.RunReap(cmd.Context())
}
