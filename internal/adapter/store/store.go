package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/semmidev/syncbackup/internal/domain"
)

// Store persists jobs, backup records, chain pointers, retention policies
// and job logs in a single SQLite file. Timestamps used for ordering are
// written in UTC so they sort as text.
type Store struct {
	db *gorm.DB
}

// Open creates the database file and its parent directory if needed and
// migrates the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	// SQLite allows one writer; a single connection serializes every
	// write and keeps a job's running/next_run pair from tearing.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&jobModel{},
		&backupFileModel{},
		&referencePointerModel{},
		&changeMarkerModel{},
		&retentionPolicyModel{},
		&jobLogModel{},
	); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func wrap(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, op)
	}
	return fmt.Errorf("%w: failed to %s: %w", domain.ErrStore, op, err)
}

func (s *Store) ListJobs(ctx context.Context) ([]domain.Job, error) {
	var models []jobModel
	if err := s.db.WithContext(ctx).Order("id").Find(&models).Error; err != nil {
		return nil, wrap("list jobs", err)
	}
	jobs := make([]domain.Job, 0, len(models))
	for _, m := range models {
		jobs = append(jobs, m.toDomain())
	}
	return jobs, nil
}

func (s *Store) GetJob(ctx context.Context, id uint) (domain.Job, error) {
	var m jobModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return domain.Job{}, wrap(fmt.Sprintf("get job %d", id), err)
	}
	return m.toDomain(), nil
}

func (s *Store) FindJobByName(ctx context.Context, name string) (domain.Job, error) {
	var m jobModel
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&m).Error; err != nil {
		return domain.Job{}, wrap(fmt.Sprintf("find job %q", name), err)
	}
	return m.toDomain(), nil
}

func (s *Store) UpdateJobFields(ctx context.Context, id uint, upd domain.JobUpdate) error {
	fields := map[string]interface{}{}
	if upd.Running != nil {
		fields["running"] = *upd.Running
	}
	if upd.LastRun != nil {
		fields["last_run"] = *upd.LastRun
	}
	if upd.NextRun != nil {
		fields["next_run"] = *upd.NextRun
	}
	if upd.ClearNextRun {
		fields["next_run"] = nil
	}
	if len(fields) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&jobModel{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return wrap(fmt.Sprintf("update job %d", id), res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: job %d", domain.ErrNotFound, id)
	}
	return nil
}

// ResetRunning clears running flags left behind by a process that died
// mid-run.
func (s *Store) ResetRunning(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&jobModel{}).Where("running = ?", true).Update("running", false)
	if res.Error != nil {
		return 0, wrap("reset running flags", res.Error)
	}
	return res.RowsAffected, nil
}

type SyncResult struct {
	Created     int
	Updated     int
	Deactivated int
}

// SyncJobs makes the stored jobs match the configured definitions, keyed
// by name. Scheduling state survives; a changed schedule clears next_run.
// Stored jobs missing from defs are deactivated, never deleted, so their
// backup history stays reachable.
func (s *Store) SyncJobs(ctx context.Context, defs []domain.JobDefinition) (SyncResult, error) {
	var result SyncResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []jobModel
		if err := tx.Find(&existing).Error; err != nil {
			return err
		}
		byName := make(map[string]jobModel, len(existing))
		for _, m := range existing {
			byName[m.Name] = m
		}

		seen := make(map[string]bool, len(defs))
		for _, def := range defs {
			seen[def.Job.Name] = true

			m, ok := byName[def.Job.Name]
			scheduleChanged := ok && (m.ScheduleType != string(def.Job.Schedule.Type) || m.ScheduleValue != def.Job.Schedule.Value)
			m.apply(def.Job)
			if scheduleChanged {
				m.NextRun = nil
			}
			if err := tx.Save(&m).Error; err != nil {
				return err
			}
			if ok {
				result.Updated++
			} else {
				result.Created++
			}

			if err := tx.Where("job_id = ?", m.ID).Delete(&retentionPolicyModel{}).Error; err != nil {
				return err
			}
			for _, p := range def.Retention {
				pm := retentionPolicyModel{JobID: m.ID, Type: string(p.Type), Value: p.Value, Enabled: p.Enabled}
				if err := tx.Create(&pm).Error; err != nil {
					return err
				}
			}
		}

		for _, m := range existing {
			if seen[m.Name] || !m.Active {
				continue
			}
			if err := tx.Model(&jobModel{}).Where("id = ?", m.ID).Update("active", false).Error; err != nil {
				return err
			}
			result.Deactivated++
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, wrap("sync jobs", err)
	}
	return result, nil
}

// DeleteJob removes a job with its records, pointers, policies and logs.
// Artifacts on disk are left alone.
func (s *Store) DeleteJob(ctx context.Context, id uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{
			&backupFileModel{},
			&referencePointerModel{},
			&changeMarkerModel{},
			&retentionPolicyModel{},
			&jobLogModel{},
		} {
			if err := tx.Where("job_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		res := tx.Delete(&jobModel{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return wrap(fmt.Sprintf("delete job %d", id), err)
	}
	return nil
}

func (s *Store) AddBackupRecord(ctx context.Context, rec *domain.BackupRecord) error {
	m := backupFileModel{
		JobID:     rec.JobID,
		Kind:      string(rec.Kind),
		Path:      rec.Path,
		Size:      rec.Size,
		CreatedAt: rec.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return wrap("add backup record", err)
	}
	rec.ID = m.ID
	return nil
}

func (s *Store) ListBackupRecords(ctx context.Context, jobID uint, kinds ...domain.RecordKind) ([]domain.BackupRecord, error) {
	q := s.db.WithContext(ctx).Where("job_id = ?", jobID)
	if len(kinds) > 0 {
		names := make([]string, 0, len(kinds))
		for _, k := range kinds {
			names = append(names, string(k))
		}
		q = q.Where("kind IN ?", names)
	}

	var models []backupFileModel
	if err := q.Order("created_at, id").Find(&models).Error; err != nil {
		return nil, wrap("list backup records", err)
	}
	records := make([]domain.BackupRecord, 0, len(models))
	for _, m := range models {
		records = append(records, m.toDomain())
	}
	return records, nil
}

func (s *Store) DeleteBackupRecord(ctx context.Context, id uint) error {
	if err := s.db.WithContext(ctx).Delete(&backupFileModel{}, id).Error; err != nil {
		return wrap(fmt.Sprintf("delete backup record %d", id), err)
	}
	return nil
}

func (s *Store) GetReferencePointer(ctx context.Context, jobID uint) (domain.ReferencePointer, bool, error) {
	var models []referencePointerModel
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Limit(1).Find(&models).Error; err != nil {
		return domain.ReferencePointer{}, false, wrap("get reference pointer", err)
	}
	if len(models) == 0 {
		return domain.ReferencePointer{}, false, nil
	}
	return domain.ReferencePointer{Path: models[0].Path, Timestamp: models[0].Timestamp}, true, nil
}

func (s *Store) SetReferencePointer(ctx context.Context, jobID uint, ptr domain.ReferencePointer) error {
	m := referencePointerModel{JobID: jobID, Path: ptr.Path, Timestamp: ptr.Timestamp}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error; err != nil {
		return wrap("set reference pointer", err)
	}
	return nil
}

func (s *Store) GetChangeMarker(ctx context.Context, jobID uint) (time.Time, bool, error) {
	var models []changeMarkerModel
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Limit(1).Find(&models).Error; err != nil {
		return time.Time{}, false, wrap("get change marker", err)
	}
	if len(models) == 0 {
		return time.Time{}, false, nil
	}
	return models[0].ModTime, true, nil
}

func (s *Store) SetChangeMarker(ctx context.Context, jobID uint, mtime time.Time) error {
	m := changeMarkerModel{JobID: jobID, ModTime: mtime}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error; err != nil {
		return wrap("set change marker", err)
	}
	return nil
}

func (s *Store) ListRetentionPolicies(ctx context.Context, jobID uint) ([]domain.RetentionPolicy, error) {
	var models []retentionPolicyModel
	if err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("id").Find(&models).Error; err != nil {
		return nil, wrap("list retention policies", err)
	}
	policies := make([]domain.RetentionPolicy, 0, len(models))
	for _, m := range models {
		policies = append(policies, m.toDomain())
	}
	return policies, nil
}

func (s *Store) AppendLog(ctx context.Context, entry domain.LogEntry) error {
	m := jobLogModel{
		JobID:          entry.JobID,
		RunID:          entry.RunID,
		Status:         string(entry.Status),
		Message:        entry.Message,
		DurationMs:     entry.Duration.Milliseconds(),
		FilesProcessed: entry.FilesProcessed,
		CreatedAt:      entry.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return wrap("append job log", err)
	}
	return nil
}

// ListLogs returns the newest entries first. A zero jobID lists every job.
func (s *Store) ListLogs(ctx context.Context, jobID uint, limit int) ([]domain.LogEntry, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if jobID != 0 {
		q = q.Where("job_id = ?", jobID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var models []jobLogModel
	if err := q.Find(&models).Error; err != nil {
		return nil, wrap("list job logs", err)
	}
	entries := make([]domain.LogEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, m.toDomain())
	}
	return entries, nil
}

func (s *Store) PruneLogs(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before.UTC()).Delete(&jobLogModel{})
	if res.Error != nil {
		return 0, wrap("prune job logs", res.Error)
	}
	return res.RowsAffected, nil
}
