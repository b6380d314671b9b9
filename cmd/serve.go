package main

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the control API",
	Long: `Serves job control, inventory search, manual retry, the WebSocket
progress feed, Prometheus metrics and a health check. A background reaper
recovers work left behind by crashed workers.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.RunServer(cmd.Context())
}
