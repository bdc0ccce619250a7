package usecase

import (
	"context"
	"time"

	"github.com/semmidev/syncbackup/internal/domain"
)

type LogPruner interface {
	PruneLogs(ctx context.Context, before time.Time) (int64, error)
}

// Maintenance is the daily housekeeping job: it drops old job log entries
// and re-applies retention to jobs that are not running.
type Maintenance struct {
	store         domain.JobStore
	pruner        LogPruner
	retention     *Retention
	coord         *Coordinator
	logger        Logger
	retentionDays int
	now           func() time.Time
}

func NewMaintenance(
	store domain.JobStore,
	pruner LogPruner,
	retention *Retention,
	coord *Coordinator,
	logger Logger,
	retentionDays int,
) *Maintenance {
	return &Maintenance{
		store:         store,
		pruner:        pruner,
		retention:     retention,
		coord:         coord,
		logger:        logger,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

func (uc *Maintenance) Execute(ctx context.Context) error {
	uc.logger.Infof("Starting maintenance, log retention: %d days", uc.retentionDays)

	if uc.retentionDays > 0 {
		cutoff := uc.now().AddDate(0, 0, -uc.retentionDays)
		n, err := uc.pruner.PruneLogs(ctx, cutoff)
		if err != nil {
			uc.logger.Errorf("Failed to prune job logs: %v", err)
		} else {
			uc.logger.Infof("Pruned %d job log entries", n)
		}
	}

	jobs, err := uc.store.ListJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		// hold the run guard so a run cannot start mid-pruning
		if job.Running || !uc.coord.guard.TryAcquire(job.ID) {
			continue
		}
		if _, err := uc.retention.ApplyAll(ctx, job); err != nil {
			uc.logger.Errorf("[%s] Retention failed: %v", job.Name, err)
		}
		uc.coord.guard.Release(job.ID)
	}

	uc.logger.Infof("Maintenance completed")
	return nil
}
