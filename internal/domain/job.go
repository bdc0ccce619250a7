package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type JobKind string

const (
	JobKindSimple      JobKind = "Simple"
	JobKindIncremental JobKind = "Incremental"
)

// ParseJobKind accepts the kind names case-insensitively.
func ParseJobKind(s string) (JobKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "simple":
		return JobKindSimple, nil
	case "incremental":
		return JobKindIncremental, nil
	default:
		return "", fmt.Errorf("%w: unknown job kind %q", ErrConfiguration, s)
	}
}

type Job struct {
	ID                  uint
	Name                string
	Kind                JobKind
	SourcePath          string
	DestPath            string
	Active              bool
	Schedule            Schedule
	ExcludePatterns     []string
	PreserveDeleted     bool
	ResetChainAfter     int
	CompressBackup      bool
	EnableNotifications bool
	Running             bool
	LastRun             *time.Time
	NextRun             *time.Time
}

// FolderName is the base name of the source, used to name artifacts.
func (j Job) FolderName() string {
	return filepath.Base(filepath.Clean(j.SourcePath))
}

// JobUpdate carries the scheduling fields the coordinator mutates. Nil
// fields are left untouched; ClearNextRun resets next_run to null.
type JobUpdate struct {
	Running      *bool
	LastRun      *time.Time
	NextRun      *time.Time
	ClearNextRun bool
}

// JobDefinition is a configured job together with its retention policies.
type JobDefinition struct {
	Job       Job
	Retention []RetentionPolicy
}

type RetentionType string

const (
	KeepCount RetentionType = "keep_count"
	KeepDays  RetentionType = "keep_days"
	KeepSize  RetentionType = "keep_size"
)

func ParseRetentionType(s string) (RetentionType, error) {
	switch t := RetentionType(strings.ToLower(strings.TrimSpace(s))); t {
	case KeepCount, KeepDays, KeepSize:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown retention type %q", ErrConfiguration, s)
	}
}

type RetentionPolicy struct {
	ID      uint
	JobID   uint
	Type    RetentionType
	Value   int
	Enabled bool
}
