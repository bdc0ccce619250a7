package store

import (
	"time"

	"github.com/semmidev/syncbackup/internal/domain"
)

type jobModel struct {
	ID                  uint   `gorm:"primaryKey"`
	Name                string `gorm:"uniqueIndex;not null"`
	Kind                string `gorm:"not null"`
	SourcePath          string `gorm:"not null"`
	DestPath            string `gorm:"not null"`
	Active              bool
	ScheduleType        string
	ScheduleValue       string
	ExcludePatterns     []string `gorm:"serializer:json"`
	PreserveDeleted     bool
	ResetChainAfter     int
	CompressBackup      bool
	EnableNotifications bool
	Running             bool `gorm:"index"`
	LastRun             *time.Time
	NextRun             *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (jobModel) TableName() string { return "jobs" }

func (m jobModel) toDomain() domain.Job {
	return domain.Job{
		ID:                  m.ID,
		Name:                m.Name,
		Kind:                domain.JobKind(m.Kind),
		SourcePath:          m.SourcePath,
		DestPath:            m.DestPath,
		Active:              m.Active,
		Schedule:            domain.Schedule{Type: domain.ScheduleType(m.ScheduleType), Value: m.ScheduleValue},
		ExcludePatterns:     m.ExcludePatterns,
		PreserveDeleted:     m.PreserveDeleted,
		ResetChainAfter:     m.ResetChainAfter,
		CompressBackup:      m.CompressBackup,
		EnableNotifications: m.EnableNotifications,
		Running:             m.Running,
		LastRun:             m.LastRun,
		NextRun:             m.NextRun,
	}
}

// apply copies the configured fields of j, leaving the scheduling state
// alone.
func (m *jobModel) apply(j domain.Job) {
	m.Name = j.Name
	m.Kind = string(j.Kind)
	m.SourcePath = j.SourcePath
	m.DestPath = j.DestPath
	m.Active = j.Active
	m.ScheduleType = string(j.Schedule.Type)
	m.ScheduleValue = j.Schedule.Value
	m.ExcludePatterns = j.ExcludePatterns
	m.PreserveDeleted = j.PreserveDeleted
	m.ResetChainAfter = j.ResetChainAfter
	m.CompressBackup = j.CompressBackup
	m.EnableNotifications = j.EnableNotifications
}

type backupFileModel struct {
	ID        uint   `gorm:"primaryKey"`
	JobID     uint   `gorm:"index;not null"`
	Kind      string `gorm:"index;not null"`
	Path      string `gorm:"not null"`
	Size      int64
	CreatedAt time.Time `gorm:"index"`
}

func (backupFileModel) TableName() string { return "backup_files" }

func (m backupFileModel) toDomain() domain.BackupRecord {
	return domain.BackupRecord{
		ID:        m.ID,
		JobID:     m.JobID,
		Kind:      domain.RecordKind(m.Kind),
		Path:      m.Path,
		CreatedAt: m.CreatedAt,
		Size:      m.Size,
	}
}

type referencePointerModel struct {
	JobID     uint `gorm:"primaryKey;autoIncrement:false"`
	Path      string
	Timestamp time.Time
}

func (referencePointerModel) TableName() string { return "reference_pointers" }

type changeMarkerModel struct {
	JobID   uint `gorm:"primaryKey;autoIncrement:false"`
	ModTime time.Time
}

func (changeMarkerModel) TableName() string { return "change_markers" }

type retentionPolicyModel struct {
	ID      uint   `gorm:"primaryKey"`
	JobID   uint   `gorm:"index;not null"`
	Type    string `gorm:"not null"`
	Value   int
	Enabled bool
}

func (retentionPolicyModel) TableName() string { return "retention_policies" }

func (m retentionPolicyModel) toDomain() domain.RetentionPolicy {
	return domain.RetentionPolicy{
		ID:      m.ID,
		JobID:   m.JobID,
		Type:    domain.RetentionType(m.Type),
		Value:   m.Value,
		Enabled: m.Enabled,
	}
}

type jobLogModel struct {
	ID             uint   `gorm:"primaryKey"`
	JobID          uint   `gorm:"index;not null"`
	RunID          string `gorm:"index"`
	Status         string `gorm:"not null"`
	Message        string
	DurationMs     int64
	FilesProcessed int
	CreatedAt      time.Time `gorm:"index"`
}

func (jobLogModel) TableName() string { return "job_logs" }

func (m jobLogModel) toDomain() domain.LogEntry {
	return domain.LogEntry{
		ID:             m.ID,
		JobID:          m.JobID,
		RunID:          m.RunID,
		Status:         domain.LogStatus(m.Status),
		Message:        m.Message,
		Duration:       time.Duration(m.DurationMs) * time.Millisecond,
		FilesProcessed: m.FilesProcessed,
		CreatedAt:      m.CreatedAt,
	}
}
