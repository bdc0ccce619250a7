package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"github.com/semmidev/syncbackup/internal/domain"
)

const releaseAttempts = 3

type RunStatus int

const (
	RunNoop RunStatus = iota
	RunCompleted
	RunSkipped
	RunFailed
)

func (s RunStatus) String() string {
	switch s {
	case RunNoop:
		return "noop"
	case RunCompleted:
		return "completed"
	case RunSkipped:
		return "skipped"
	case RunFailed:
		return "failed"
	}
	return fmt.Sprintf("RunStatus(%d)", int(s))
}

// Coordinator runs one job end to end: guard, execution, schedule update,
// retention, logging, notification and guaranteed release.
type Coordinator struct {
	store     domain.JobStore
	simple    domain.BackupExecutor
	chain     domain.BackupExecutor
	retention *Retention
	notifier  domain.Notifier
	guard     *RunGuard
	logger    Logger
	now       func() time.Time
	observe   func(domain.Job)

	releaseBackoff time.Duration
}

func NewCoordinator(
	store domain.JobStore,
	simple domain.BackupExecutor,
	chain domain.BackupExecutor,
	retention *Retention,
	notifier domain.Notifier,
	guard *RunGuard,
	logger Logger,
) *Coordinator {
	return &Coordinator{
		store:     store,
		simple:    simple,
		chain:     chain,
		retention: retention,
		notifier:  notifier,
		guard:     guard,
		logger:    logger,
		now:       time.Now,
		observe:   func(domain.Job) {},

		releaseBackoff: time.Second,
	}
}

// OnStateChange registers fn to receive the job after it is marked running
// and again after it is released.
func (c *Coordinator) OnStateChange(fn func(domain.Job)) {
	c.observe = fn
}

// Busy reports whether a run of the job is in progress in this process.
func (c *Coordinator) Busy(jobID uint) bool {
	return c.guard.Held(jobID)
}

// Run executes the job once. A job that is already running is a no-op.
// The returned error is the run's terminal error, already logged and
// notified; callers only need it for display.
//
// A started run is never cancelled: ctx only contributes its values, so
// the artifact and its record are always written together.
func (c *Coordinator) Run(ctx context.Context, jobID uint, force bool) (RunStatus, error) {
	ctx = context.WithoutCancel(ctx)

	if !c.guard.TryAcquire(jobID) {
		c.logger.Infof("Job %d is already running, skipping", jobID)
		return RunNoop, nil
	}
	defer c.guard.Release(jobID)

	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		c.logger.Errorf("Failed to load job %d: %v", jobID, err)
		return RunFailed, err
	}
	if job.Running {
		c.logger.Infof("[%s] Job is marked running, skipping", job.Name)
		return RunNoop, nil
	}

	if err := c.setRunning(ctx, &job, true); err != nil {
		c.logger.Errorf("[%s] Failed to mark job running: %v", job.Name, err)
		return RunFailed, err
	}
	defer c.release(ctx, &job)

	runID := uuid.NewString()
	start := c.now()
	c.logger.Infof("[%s] Starting %s backup (run %s)", job.Name, job.Kind, runID)
	c.appendLog(ctx, job, runID, domain.LogStarted, fmt.Sprintf("%s backup started", job.Kind), 0, 0)

	result, err := c.execute(ctx, job, force)
	if err == nil {
		err = c.finish(ctx, &job, runID, start, result)
		if err == nil {
			if result.Skipped {
				return RunSkipped, nil
			}
			return RunCompleted, nil
		}
	}

	c.fail(ctx, &job, runID, start, err)
	return RunFailed, err
}

// execute dispatches on the job kind. A panic inside the executor becomes
// the run's error.
func (c *Coordinator) execute(ctx context.Context, job domain.Job, force bool) (domain.RunResult, error) {
	var (
		result domain.RunResult
		err    error
	)

	recovered := panics.Try(func() {
		switch job.Kind {
		case domain.JobKindSimple:
			result, err = c.simple.Execute(ctx, job, force)
		case domain.JobKindIncremental:
			result, err = c.chain.Execute(ctx, job, force)
		default:
			err = fmt.Errorf("%w: unknown job kind %q", domain.ErrConfiguration, job.Kind)
		}
	})
	if recovered != nil {
		return domain.RunResult{}, fmt.Errorf("backup panicked: %w", recovered.AsError())
	}
	return result, err
}

func (c *Coordinator) finish(ctx context.Context, job *domain.Job, runID string, start time.Time, result domain.RunResult) error {
	finished := c.now()
	upd := domain.JobUpdate{LastRun: &finished}
	if next, ok := domain.NextRun(job.Schedule, finished); ok {
		upd.NextRun = &next
	} else {
		upd.ClearNextRun = true
	}
	if err := c.store.UpdateJobFields(ctx, job.ID, upd); err != nil {
		return err
	}
	job.LastRun, job.NextRun = upd.LastRun, upd.NextRun

	if removed, err := c.retention.ApplyAll(ctx, *job); err != nil {
		c.logger.Warnf("[%s] Retention failed: %v", job.Name, err)
	} else if removed > 0 {
		c.logger.Infof("[%s] Retention removed %d artifact(s)", job.Name, removed)
	}

	duration := c.now().Sub(start)
	if result.Skipped {
		msg := "No changes detected, skipping backup"
		c.appendLog(ctx, *job, runID, domain.LogSkipped, msg, 0, 0)
		c.notify(ctx, *job, domain.LogSkipped, msg)
		return nil
	}

	msg := fmt.Sprintf("Backup completed in %s: %d files, %s",
		duration.Round(time.Millisecond), result.FilesProcessed, humanize.IBytes(uint64(result.Bytes)))
	if n := len(result.Failures); n > 0 {
		msg += fmt.Sprintf(", %d file(s) skipped", n)
	}
	c.logger.Infof("[%s] %s", job.Name, msg)
	c.appendLog(ctx, *job, runID, domain.LogCompleted, msg, duration, result.FilesProcessed)
	c.notify(ctx, *job, domain.LogSuccess, msg)
	return nil
}

// fail records a failed run and still advances next_run so the job is
// retried on schedule instead of on every poll.
func (c *Coordinator) fail(ctx context.Context, job *domain.Job, runID string, start time.Time, runErr error) {
	duration := c.now().Sub(start)
	msg := fmt.Sprintf("Backup failed after %s: %v", duration.Round(time.Millisecond), runErr)
	c.logger.Errorf("[%s] %s", job.Name, msg)
	c.appendLog(ctx, *job, runID, domain.LogError, runErr.Error(), duration, 0)

	if next, ok := domain.NextRun(job.Schedule, c.now()); ok {
		if err := c.store.UpdateJobFields(ctx, job.ID, domain.JobUpdate{NextRun: &next}); err != nil {
			c.logger.Errorf("[%s] Failed to update next run: %v", job.Name, err)
		} else {
			job.NextRun = &next
		}
	}

	c.notify(ctx, *job, domain.LogError, msg)
}

// release clears the running flag, retrying a failed write: a flag left
// set would turn every later run of the job into a no-op.
func (c *Coordinator) release(ctx context.Context, job *domain.Job) {
	var err error
	for attempt := 1; attempt <= releaseAttempts; attempt++ {
		if err = c.setRunning(ctx, job, false); err == nil {
			return
		}
		c.logger.Warnf("[%s] Failed to clear running flag (attempt %d/%d): %v", job.Name, attempt, releaseAttempts, err)
		if attempt < releaseAttempts {
			time.Sleep(time.Duration(attempt) * c.releaseBackoff)
		}
	}
	c.logger.Errorf("[%s] Running flag is still set, the job stays blocked until restart: %v", job.Name, err)
}

func (c *Coordinator) setRunning(ctx context.Context, job *domain.Job, running bool) error {
	if err := c.store.UpdateJobFields(ctx, job.ID, domain.JobUpdate{Running: &running}); err != nil {
		return err
	}
	job.Running = running
	c.observe(*job)
	return nil
}

func (c *Coordinator) appendLog(ctx context.Context, job domain.Job, runID string, status domain.LogStatus, msg string, d time.Duration, files int) {
	err := c.store.AppendLog(ctx, domain.LogEntry{
		JobID:          job.ID,
		RunID:          runID,
		Status:         status,
		Message:        msg,
		Duration:       d,
		FilesProcessed: files,
		CreatedAt:      c.now(),
	})
	if err != nil {
		c.logger.Warnf("[%s] Failed to write job log: %v", job.Name, err)
	}
}

func (c *Coordinator) notify(ctx context.Context, job domain.Job, status domain.LogStatus, details string) {
	if !job.EnableNotifications || c.notifier == nil {
		return
	}
	c.notifier.Notify(ctx, domain.Notification{
		JobID:   job.ID,
		JobName: job.Name,
		Status:  status,
		Details: details,
		At:      c.now(),
	})
}
