package usecase

import (
	"context"
	"path/filepath"
	"slices"
	"time"

	"github.com/semmidev/syncbackup/internal/domain"
)

const mebibyte = 1 << 20

// SelectSimple returns the simple_backup records a policy removes. Records
// are evaluated newest first.
func SelectSimple(records []domain.BackupRecord, policy domain.RetentionPolicy, now time.Time) []domain.BackupRecord {
	sorted := sortRecords(records)
	slices.Reverse(sorted)

	var victims []domain.BackupRecord
	switch policy.Type {
	case domain.KeepCount:
		if len(sorted) > policy.Value {
			victims = sorted[policy.Value:]
		}
	case domain.KeepDays:
		cutoff := now.AddDate(0, 0, -policy.Value)
		for _, rec := range sorted {
			if recordTime(rec).Before(cutoff) {
				victims = append(victims, rec)
			}
		}
	case domain.KeepSize:
		limit := int64(policy.Value) * mebibyte
		var total int64
		for _, rec := range sorted {
			total += rec.Size
			if total > limit {
				victims = append(victims, rec)
			}
		}
	}
	return victims
}

// SelectChains returns the oldest chains beyond the newest keep.
func SelectChains(chains []Chain, keep int) []Chain {
	if len(chains) <= keep {
		return nil
	}
	return chains[:len(chains)-keep]
}

// recordTime falls back to the timestamp in the artifact name for records
// stored without a creation time.
func recordTime(rec domain.BackupRecord) time.Time {
	if !rec.CreatedAt.IsZero() {
		return rec.CreatedAt
	}
	if ts, err := extractTimestamp(filepath.Base(rec.Path)); err == nil {
		return ts
	}
	return rec.CreatedAt
}

// Retention prunes old artifacts from disk and store.
type Retention struct {
	store   domain.JobStore
	storage domain.Storage
	logger  Logger
	now     func() time.Time
}

func NewRetention(store domain.JobStore, storage domain.Storage, logger Logger) *Retention {
	return &Retention{
		store:   store,
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// ApplyAll applies every enabled policy of the job and returns the number
// of artifacts removed.
func (uc *Retention) ApplyAll(ctx context.Context, job domain.Job) (int, error) {
	policies, err := uc.store.ListRetentionPolicies(ctx, job.ID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, p := range policies {
		n, err := uc.Apply(ctx, job, p)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// Apply enforces one policy. Failing to delete an artifact is logged and
// the artifact's record is kept; the remaining artifacts are still
// processed. Only a store read failure is returned.
func (uc *Retention) Apply(ctx context.Context, job domain.Job, policy domain.RetentionPolicy) (int, error) {
	if !policy.Enabled {
		return 0, nil
	}
	if policy.Value < 1 {
		uc.logger.Warnf("[%s] Ignoring %s policy with value %d", job.Name, policy.Type, policy.Value)
		return 0, nil
	}

	switch job.Kind {
	case domain.JobKindSimple:
		return uc.applySimple(ctx, job, policy)
	case domain.JobKindIncremental:
		if policy.Type != domain.KeepCount {
			uc.logger.Warnf("[%s] %s is not supported for incremental jobs, ignoring", job.Name, policy.Type)
			return 0, nil
		}
		return uc.applyChains(ctx, job, policy.Value)
	default:
		return 0, nil
	}
}

func (uc *Retention) applySimple(ctx context.Context, job domain.Job, policy domain.RetentionPolicy) (int, error) {
	records, err := uc.store.ListBackupRecords(ctx, job.ID, domain.RecordSimple)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, rec := range SelectSimple(records, policy, uc.now()) {
		if uc.remove(ctx, job, rec) {
			removed++
		}
	}

	if removed > 0 {
		uc.logger.Infof("[%s] Retention %s=%d removed %d backup(s)", job.Name, policy.Type, policy.Value, removed)
	}
	return removed, nil
}

// applyChains deletes whole chains, newest member first, so that an
// interrupted deletion never leaves incrementals without their INICIAL.
func (uc *Retention) applyChains(ctx context.Context, job domain.Job, keep int) (int, error) {
	records, err := uc.store.ListBackupRecords(ctx, job.ID, domain.RecordInicial, domain.RecordIncremental)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, chain := range SelectChains(GroupIntoChains(records), keep) {
		for i := len(chain.Members) - 1; i >= 0; i-- {
			if !uc.remove(ctx, job, chain.Members[i]) {
				uc.logger.Warnf("[%s] Stopped deleting chain with %d member(s) left", job.Name, i+1)
				break
			}
			removed++
		}
	}

	if removed > 0 {
		uc.logger.Infof("[%s] Retention keep_count=%d removed %d chain artifact(s)", job.Name, keep, removed)
	}
	return removed, nil
}

func (uc *Retention) remove(ctx context.Context, job domain.Job, rec domain.BackupRecord) bool {
	uc.logger.Infof("[%s] Deleting old backup: %s", job.Name, rec.Path)

	if err := uc.storage.Remove(rec.Path); err != nil {
		uc.logger.Errorf("[%s] Failed to delete %s: %v", job.Name, rec.Path, err)
		return false
	}
	if err := uc.store.DeleteBackupRecord(ctx, rec.ID); err != nil {
		uc.logger.Errorf("[%s] Failed to delete record of %s: %v", job.Name, rec.Path, err)
		return false
	}
	return true
}
