package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/semmidev/syncbackup/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Run one job now, ignoring its schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := app.New(cfg, app.Options{Debug: debug})
		if err != nil {
			return fmt.Errorf("initialize app: %w", err)
		}
		defer application.Shutdown()

		// Runs are never interrupted: the signals are held here so that
		// Ctrl+C waits for the run to finish and record its outcome.
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		status, err := application.RunNow(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", args[0], status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
