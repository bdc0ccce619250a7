package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/semmidev/syncbackup/internal/adapter/store"
)

var statusLogs int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the service state, jobs and recent run history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newServiceManager()
		if err != nil {
			return err
		}
		fmt.Printf("service: %s\n\n", m.Status())

		db, err := store.Open(cfg.App.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		if err := printJobs(ctx, db); err != nil {
			return err
		}
		if statusLogs <= 0 {
			return nil
		}

		logs, err := db.ListLogs(ctx, 0, statusLogs)
		if err != nil {
			return err
		}
		names := map[uint]string{}
		jobs, err := db.ListJobs(ctx)
		if err != nil {
			return err
		}
		for _, job := range jobs {
			names[job.ID] = job.Name
		}

		fmt.Printf("\n%-19s %-20s %-10s %-8s %-6s %s\n", "TIME", "JOB", "STATUS", "TOOK", "FILES", "MESSAGE")
		for _, entry := range logs {
			fmt.Printf("%-19s %-20s %-10s %-8s %-6d %s\n",
				entry.CreatedAt.Local().Format("2006-01-02 15:04:05"), names[entry.JobID], entry.Status,
				entry.Duration.Round(time.Second), entry.FilesProcessed, entry.Message)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVarP(&statusLogs, "logs", "n", 10, "number of recent log entries to show")
	rootCmd.AddCommand(statusCmd)
}
