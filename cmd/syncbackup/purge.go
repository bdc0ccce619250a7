package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semmidev/syncbackup/internal/app"
)

var purgeFiles bool

var purgeCmd = &cobra.Command{
	Use:   "purge <job>",
	Short: "Delete a job with its history, records and pointers",
	Long: "Delete a job with its history, records and pointers.\n" +
		"A job still present in the config file is recreated empty on the next start.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := app.New(cfg, app.Options{Debug: debug})
		if err != nil {
			return fmt.Errorf("initialize app: %w", err)
		}
		defer application.Shutdown()

		removed, err := application.Purge(context.Background(), args[0], purgeFiles)
		if err != nil {
			return err
		}
		fmt.Printf("%s purged, %d artifact(s) removed\n", args[0], removed)
		return nil
	},
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeFiles, "files", false, "also delete backup artifacts from disk")
	rootCmd.AddCommand(purgeCmd)
}
