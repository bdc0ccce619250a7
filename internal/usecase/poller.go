package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/semmidev/syncbackup/internal/domain"
)

// Poller is the scheduler loop body: on every tick it checks all active
// jobs and starts the due ones concurrently.
type Poller struct {
	store  domain.JobStore
	coord  *Coordinator
	logger Logger
	now    func() time.Time

	polling sync.Mutex
	runs    *conc.WaitGroup
}

func NewPoller(store domain.JobStore, coord *Coordinator, logger Logger) *Poller {
	return &Poller{
		store:  store,
		coord:  coord,
		logger: logger,
		now:    time.Now,
		runs:   conc.NewWaitGroup(),
	}
}

// Poll dispatches every due job and returns how many were started. Runs
// are detached from ctx: cancelling the loop never interrupts a copy.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	if !p.polling.TryLock() {
		p.logger.Debugf("Previous poll still in progress, skipping tick")
		return 0, nil
	}
	defer p.polling.Unlock()

	jobs, err := p.store.ListJobs(ctx)
	if err != nil {
		p.logger.Errorf("Failed to list jobs: %v", err)
		return 0, err
	}

	now := p.now()
	dispatched := 0
	for _, job := range jobs {
		if !job.Active || p.coord.Busy(job.ID) {
			continue
		}

		next, ok := domain.NextRun(job.Schedule, now)
		if !ok {
			p.logger.Warnf("[%s] Invalid schedule %s, job will not run automatically", job.Name, job.Schedule)
			continue
		}

		if !domain.IsDue(job, now) {
			if job.NextRun == nil {
				p.setNextRun(ctx, job, next)
			}
			continue
		}

		// Move an overdue next_run forward before dispatching, so the
		// same job is not seen as due again while it starts.
		p.setNextRun(ctx, job, next)

		due := job
		runCtx := context.WithoutCancel(ctx)
		p.runs.Go(func() {
			p.logger.Debugf("[%s] Dispatching scheduled run", due.Name)
			if status, _ := p.coord.Run(runCtx, due.ID, false); status == RunNoop {
				p.restoreNextRun(runCtx, due, next)
			}
		})
		dispatched++
	}

	return dispatched, nil
}

// Tick adapts Poll to the cron scheduler's job signature.
func (p *Poller) Tick(ctx context.Context) error {
	_, err := p.Poll(ctx)
	return err
}

// Wait blocks until every dispatched run has finished.
func (p *Poller) Wait() {
	p.runs.Wait()
}

// restoreNextRun undoes the advance made before a dispatch that turned
// out to be a no-op, so the job stays due. A next_run written since by
// someone else is kept.
func (p *Poller) restoreNextRun(ctx context.Context, job domain.Job, advanced time.Time) {
	current, err := p.store.GetJob(ctx, job.ID)
	if err != nil || current.NextRun == nil || !current.NextRun.Equal(advanced) {
		return
	}

	upd := domain.JobUpdate{NextRun: job.NextRun, ClearNextRun: job.NextRun == nil}
	if err := p.store.UpdateJobFields(ctx, job.ID, upd); err != nil {
		p.logger.Warnf("[%s] Failed to restore next run: %v", job.Name, err)
		return
	}
	p.logger.Debugf("[%s] Run did not start, keeping the job due", job.Name)
}

func (p *Poller) setNextRun(ctx context.Context, job domain.Job, next time.Time) {
	if err := p.store.UpdateJobFields(ctx, job.ID, domain.JobUpdate{NextRun: &next}); err != nil {
		p.logger.Warnf("[%s] Failed to update next run: %v", job.Name, err)
	}
}
