package domain

import (
	"context"
	"time"
)

type RecordKind string

const (
	RecordSimple      RecordKind = "simple_backup"
	RecordInicial     RecordKind = "incremental_inicial"
	RecordIncremental RecordKind = "incremental"
)

// BackupRecord is one artifact on disk produced by a successful run.
type BackupRecord struct {
	ID        uint
	JobID     uint
	Kind      RecordKind
	Path      string
	CreatedAt time.Time
	Size      int64
}

// ReferencePointer is the chain member the next incremental run diffs against.
type ReferencePointer struct {
	Path      string
	Timestamp time.Time
}

type RunResult struct {
	FilesProcessed int
	Bytes          int64
	ArtifactPath   string
	Skipped        bool
	Failures       []FileFailure
}

type BackupExecutor interface {
	Execute(ctx context.Context, job Job, force bool) (RunResult, error)
}

type ChangeKind string

const (
	ChangeNew      ChangeKind = "new"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// ChangeEntry is one difference between a source tree and its chain.
// SourcePath is empty for deletions; ReferencePath is empty for new files.
type ChangeEntry struct {
	RelPath       string
	Kind          ChangeKind
	SourcePath    string
	ReferencePath string
	ModTime       time.Time
	Size          int64
	// TombstoneTaken marks a deletion whose plain _DELETED name is already
	// used by a live file in the source or in the chain.
	TombstoneTaken bool
}
