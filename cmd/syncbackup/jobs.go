package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/semmidev/syncbackup/internal/adapter/store"
	"github.com/semmidev/syncbackup/internal/domain"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List jobs with their schedule and stored backups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := store.Open(cfg.App.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		return printJobs(context.Background(), db)
	},
}

func printJobs(ctx context.Context, db *store.Store) error {
	jobs, err := db.ListJobs(ctx)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("no jobs")
		return nil
	}

	fmt.Printf("%-20s %-12s %-22s %-8s %-16s %-16s %-8s %s\n",
		"JOB", "KIND", "SCHEDULE", "STATE", "LAST RUN", "NEXT RUN", "BACKUPS", "SIZE")

	for _, job := range jobs {
		records, err := db.ListBackupRecords(ctx, job.ID)
		if err != nil {
			return err
		}
		var size int64
		for _, r := range records {
			size += r.Size
		}

		fmt.Printf("%-20s %-12s %-22s %-8s %-16s %-16s %-8d %s\n",
			job.Name, job.Kind, job.Schedule, jobState(job),
			relative(job.LastRun), relative(job.NextRun), len(records), humanize.IBytes(uint64(size)))
	}
	return nil
}

func jobState(job domain.Job) string {
	switch {
	case job.Running:
		return "running"
	case !job.Active:
		return "inactive"
	}
	return "idle"
}

func relative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return humanize.Time(*t)
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}
