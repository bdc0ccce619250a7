package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/semmidev/syncbackup/internal/domain"
)

// Chain is one INICIAL record followed by the incrementals extending it,
// oldest first. Incrementals recorded before any INICIAL form a headless
// chain so that each of them still belongs to exactly one chain.
type Chain struct {
	Members []domain.BackupRecord
}

// Head returns the INICIAL member, or nil for a headless chain.
func (c Chain) Head() *domain.BackupRecord {
	if len(c.Members) == 0 || c.Members[0].Kind != domain.RecordInicial {
		return nil
	}
	return &c.Members[0]
}

func (c Chain) Incrementals() int {
	n := 0
	for _, m := range c.Members {
		if m.Kind == domain.RecordIncremental {
			n++
		}
	}
	return n
}

func sortRecords(records []domain.BackupRecord) []domain.BackupRecord {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b domain.BackupRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return sorted
}

// GroupIntoChains orders chain records by creation time and splits them at
// every INICIAL. Simple records are ignored.
func GroupIntoChains(records []domain.BackupRecord) []Chain {
	var chains []Chain
	for _, rec := range sortRecords(records) {
		switch rec.Kind {
		case domain.RecordInicial:
			chains = append(chains, Chain{Members: []domain.BackupRecord{rec}})
		case domain.RecordIncremental:
			if len(chains) == 0 {
				chains = append(chains, Chain{})
			}
			last := &chains[len(chains)-1]
			last.Members = append(last.Members, rec)
		}
	}
	return chains
}

// latestInicial returns the INICIAL with the greatest creation time,
// independent of the order records were stored in.
func latestInicial(records []domain.BackupRecord) *domain.BackupRecord {
	var latest *domain.BackupRecord
	for i := range records {
		rec := &records[i]
		if rec.Kind != domain.RecordInicial {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	return latest
}

// incrementalsSince counts incrementals created after the given time.
func incrementalsSince(records []domain.BackupRecord, since time.Time) int {
	n := 0
	for _, rec := range records {
		if rec.Kind == domain.RecordIncremental && rec.CreatedAt.After(since) {
			n++
		}
	}
	return n
}

// ChainManager runs Incremental jobs. Each run either starts a new chain
// with a full copy or appends an incremental holding only the changes.
type ChainManager struct {
	store   domain.JobStore
	storage domain.Storage
	differ  *Differ
	logger  Logger
	now     func() time.Time
}

func NewChainManager(store domain.JobStore, storage domain.Storage, differ *Differ, logger Logger) *ChainManager {
	return &ChainManager{
		store:   store,
		storage: storage,
		differ:  differ,
		logger:  logger,
		now:     time.Now,
	}
}

func (m *ChainManager) Execute(ctx context.Context, job domain.Job, _ bool) (domain.RunResult, error) {
	if ok, _ := m.storage.Exists(job.SourcePath); !ok {
		return domain.RunResult{}, fmt.Errorf("%w: %s", domain.ErrSourceUnavailable, job.SourcePath)
	}

	records, err := m.store.ListBackupRecords(ctx, job.ID, domain.RecordInicial, domain.RecordIncremental)
	if err != nil {
		return domain.RunResult{}, err
	}

	reason := m.newChainReason(job, records)
	if reason != "" {
		m.logger.Infof("[%s] Starting new chain: %s", job.Name, reason)
		return m.startChain(ctx, job)
	}

	chains := GroupIntoChains(records)
	current := chains[len(chains)-1]
	return m.appendIncremental(ctx, job, m.referenceLayers(ctx, job, current))
}

// newChainReason returns why the next run must be an INICIAL, or "" when
// the current chain can be extended.
func (m *ChainManager) newChainReason(job domain.Job, records []domain.BackupRecord) string {
	head := latestInicial(records)
	if head == nil {
		return "no previous full backup"
	}
	if job.ResetChainAfter > 0 {
		if n := incrementalsSince(records, head.CreatedAt); n >= job.ResetChainAfter {
			return fmt.Sprintf("%d incrementals reached reset threshold %d", n, job.ResetChainAfter)
		}
	}
	if ok, _ := m.storage.Exists(head.Path); !ok {
		return fmt.Sprintf("full backup %s is missing", head.Path)
	}
	return ""
}

// referenceLayers returns the chain member roots, newest first, up to and
// including the stored reference pointer.
func (m *ChainManager) referenceLayers(ctx context.Context, job domain.Job, chain Chain) []string {
	members := chain.Members

	ptr, ok, err := m.store.GetReferencePointer(ctx, job.ID)
	switch {
	case err != nil:
		m.logger.Warnf("[%s] Could not read reference pointer: %v", job.Name, err)
	case ok:
		idx := slices.IndexFunc(members, func(r domain.BackupRecord) bool { return r.Path == ptr.Path })
		if idx >= 0 {
			members = members[:idx+1]
		} else {
			m.logger.Warnf("[%s] Reference pointer %s is not part of the current chain", job.Name, ptr.Path)
		}
	}

	roots := make([]string, 0, len(members))
	for i := len(members) - 1; i >= 0; i-- {
		roots = append(roots, members[i].Path)
	}
	return roots
}

func (m *ChainManager) startChain(ctx context.Context, job domain.Job) (domain.RunResult, error) {
	ts := m.now()
	dst := filepath.Join(job.DestPath, artifactName(domain.RecordInicial, job.FolderName(), ts))
	if ok, _ := m.storage.Exists(dst); ok {
		return domain.RunResult{}, fmt.Errorf("artifact %s already exists", dst)
	}

	excluder := NewExcluder(job.ExcludePatterns)
	report, err := m.storage.CopyTree(job.SourcePath, dst, excluder.Match)
	if err != nil {
		_ = m.storage.Remove(dst)
		return domain.RunResult{}, err
	}
	m.logFailures(job, report.Failures)
	if report.Files == 0 && len(report.Failures) > 0 {
		_ = m.storage.Remove(dst)
		return domain.RunResult{}, fmt.Errorf("full backup failed: none of %d files could be copied", len(report.Failures))
	}

	return m.commit(ctx, job, domain.RecordInicial, dst, ts, report)
}

func (m *ChainManager) appendIncremental(ctx context.Context, job domain.Job, refs []string) (domain.RunResult, error) {
	ts := m.now()
	dst := filepath.Join(job.DestPath, artifactName(domain.RecordIncremental, job.FolderName(), ts))

	excluder := NewExcluder(job.ExcludePatterns)
	var (
		report  domain.CopyReport
		changes int
		created bool
	)

	for entry, err := range m.differ.Diff(job.SourcePath, refs, excluder.Match, job.PreserveDeleted) {
		if err != nil {
			var ff *domain.FileFailure
			if errors.As(err, &ff) {
				report.Failures = append(report.Failures, *ff)
				continue
			}
			if created {
				_ = m.storage.Remove(dst)
			}
			return domain.RunResult{}, err
		}

		if !created {
			if ok, _ := m.storage.Exists(dst); ok {
				return domain.RunResult{}, fmt.Errorf("artifact %s already exists", dst)
			}
			if err := m.storage.MkdirAll(dst); err != nil {
				return domain.RunResult{}, err
			}
			created = true
		}
		changes++

		switch entry.Kind {
		case domain.ChangeNew, domain.ChangeModified:
			n, err := m.storage.CopyFile(entry.SourcePath, filepath.Join(dst, entry.RelPath))
			if err != nil {
				report.Fail(entry.SourcePath, "copy", err)
				continue
			}
			report.Files++
			report.Bytes += n
			m.logger.Debugf("[%s] %s %s", job.Name, entry.Kind, entry.RelPath)
		case domain.ChangeDeleted:
			path, err := m.storage.WriteTombstone(entry.ReferencePath, dst, entry.RelPath, ts, entry.TombstoneTaken)
			if err != nil {
				report.Fail(entry.RelPath, "tombstone", err)
				continue
			}
			report.Files++
			m.logger.Debugf("[%s] deleted %s -> %s", job.Name, entry.RelPath, filepath.Base(path))
		}
	}

	m.logFailures(job, report.Failures)

	if changes == 0 {
		return domain.RunResult{Skipped: true, Failures: report.Failures}, nil
	}
	if report.Files == 0 {
		_ = m.storage.Remove(dst)
		return domain.RunResult{}, fmt.Errorf("incremental backup failed: none of %d changes could be stored", changes)
	}

	return m.commit(ctx, job, domain.RecordIncremental, dst, ts, report)
}

// commit records a finished artifact and moves the reference pointer to it.
func (m *ChainManager) commit(ctx context.Context, job domain.Job, kind domain.RecordKind, dst string, ts time.Time, report domain.CopyReport) (domain.RunResult, error) {
	size, err := m.storage.Size(dst)
	if err != nil {
		size = report.Bytes
	}

	rec := &domain.BackupRecord{JobID: job.ID, Kind: kind, Path: dst, CreatedAt: ts, Size: size}
	if err := m.store.AddBackupRecord(ctx, rec); err != nil {
		return domain.RunResult{}, err
	}
	if err := m.store.SetReferencePointer(ctx, job.ID, domain.ReferencePointer{Path: dst, Timestamp: ts}); err != nil {
		return domain.RunResult{}, err
	}

	m.logger.Infof("[%s] Created %s %s: %d files, %s",
		job.Name, kind, filepath.Base(dst), report.Files, humanize.IBytes(uint64(size)))

	return domain.RunResult{
		FilesProcessed: report.Files,
		Bytes:          size,
		ArtifactPath:   dst,
		Failures:       report.Failures,
	}, nil
}

func (m *ChainManager) logFailures(job domain.Job, failures []domain.FileFailure) {
	for _, f := range failures {
		m.logger.Warnf("[%s] Skipped %s: %v", job.Name, f.Path, f.Err)
	}
}
