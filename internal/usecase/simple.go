package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"github.com/semmidev/syncbackup/internal/domain"
)

// SimpleBackup runs Simple jobs: a full snapshot of the source per run,
// either as a directory copy or a ZIP archive.
type SimpleBackup struct {
	fs         afero.Fs
	store      domain.JobStore
	storage    domain.Storage
	compressor domain.Compressor
	logger     Logger
	now        func() time.Time
}

func NewSimpleBackup(
	fs afero.Fs,
	store domain.JobStore,
	storage domain.Storage,
	compressor domain.Compressor,
	logger Logger,
) *SimpleBackup {
	return &SimpleBackup{
		fs:         fs,
		store:      store,
		storage:    storage,
		compressor: compressor,
		logger:     logger,
		now:        time.Now,
	}
}

// Execute snapshots the source unless nothing changed since the last
// snapshot. A forced run always snapshots.
func (uc *SimpleBackup) Execute(ctx context.Context, job domain.Job, force bool) (domain.RunResult, error) {
	info, err := uc.fs.Stat(job.SourcePath)
	if err != nil || !info.IsDir() {
		return domain.RunResult{}, fmt.Errorf("%w: %s", domain.ErrSourceUnavailable, job.SourcePath)
	}

	excluder := NewExcluder(job.ExcludePatterns)
	latest, err := uc.latestModTime(job.SourcePath, excluder)
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}

	if !force {
		marker, ok, err := uc.store.GetChangeMarker(ctx, job.ID)
		if err != nil {
			return domain.RunResult{}, err
		}
		if ok && !latest.After(marker) {
			uc.logger.Infof("[%s] No changes detected, skipping backup", job.Name)
			return domain.RunResult{Skipped: true}, nil
		}
	}

	ts := uc.now()
	dst := filepath.Join(job.DestPath, artifactName(domain.RecordSimple, job.FolderName(), ts))
	if job.CompressBackup {
		dst += ".zip"
	}
	if ok, _ := uc.storage.Exists(dst); ok {
		return domain.RunResult{}, fmt.Errorf("artifact %s already exists", dst)
	}

	uc.logger.Infof("[%s] Creating backup: %s", job.Name, dst)

	var report domain.CopyReport
	if job.CompressBackup {
		report, err = uc.compressor.Compress(job.SourcePath, dst, excluder.Match)
	} else {
		report, err = uc.storage.CopyTree(job.SourcePath, dst, excluder.Match)
	}
	if err != nil {
		_ = uc.storage.Remove(dst)
		return domain.RunResult{}, fmt.Errorf("backup: %w", err)
	}
	for _, f := range report.Failures {
		uc.logger.Warnf("[%s] Skipped %s: %v", job.Name, f.Path, f.Err)
	}

	size, err := uc.storage.Size(dst)
	if err != nil {
		size = report.Bytes
	}

	rec := &domain.BackupRecord{JobID: job.ID, Kind: domain.RecordSimple, Path: dst, CreatedAt: ts, Size: size}
	if err := uc.store.AddBackupRecord(ctx, rec); err != nil {
		return domain.RunResult{}, err
	}
	if err := uc.store.SetChangeMarker(ctx, job.ID, latest); err != nil {
		return domain.RunResult{}, err
	}

	uc.logger.Infof("[%s] Backup created: %d files, %s", job.Name, report.Files, humanize.IBytes(uint64(size)))

	return domain.RunResult{
		FilesProcessed: report.Files,
		Bytes:          size,
		ArtifactPath:   dst,
		Failures:       report.Failures,
	}, nil
}

// latestModTime is the newest mtime among non-excluded entries below root.
// Directories count too, so a deletion is seen as a change.
func (uc *SimpleBackup) latestModTime(root string, excluder *Excluder) (time.Time, error) {
	var latest time.Time
	err := afero.Walk(uc.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if path != root && excluder.Match(path) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	return latest, err
}
