package domain

import (
	"context"
	"time"
)

type LogStatus string

const (
	LogStarted   LogStatus = "started"
	LogCompleted LogStatus = "completed"
	LogSuccess   LogStatus = "success"
	LogError     LogStatus = "error"
	LogSkipped   LogStatus = "skipped"
)

type LogEntry struct {
	ID             uint
	JobID          uint
	RunID          string
	Status         LogStatus
	Message        string
	Duration       time.Duration
	FilesProcessed int
	CreatedAt      time.Time
}

// JobStore is the persisted state shared by the coordinator, chain manager
// and retention engine.
type JobStore interface {
	ListJobs(ctx context.Context) ([]Job, error)
	GetJob(ctx context.Context, id uint) (Job, error)
	UpdateJobFields(ctx context.Context, id uint, upd JobUpdate) error

	AddBackupRecord(ctx context.Context, rec *BackupRecord) error
	ListBackupRecords(ctx context.Context, jobID uint, kinds ...RecordKind) ([]BackupRecord, error)
	DeleteBackupRecord(ctx context.Context, id uint) error

	GetReferencePointer(ctx context.Context, jobID uint) (ReferencePointer, bool, error)
	SetReferencePointer(ctx context.Context, jobID uint, ptr ReferencePointer) error

	GetChangeMarker(ctx context.Context, jobID uint) (time.Time, bool, error)
	SetChangeMarker(ctx context.Context, jobID uint, mtime time.Time) error

	ListRetentionPolicies(ctx context.Context, jobID uint) ([]RetentionPolicy, error)
	AppendLog(ctx context.Context, entry LogEntry) error
}

type Notification struct {
	JobID   uint
	JobName string
	Status  LogStatus
	Details string
	At      time.Time
}

// Notifier is fire-and-forget: delivery failures stay inside the notifier.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}
