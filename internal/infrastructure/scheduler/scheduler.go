package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

type Logger interface {
	Debugf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Scheduler runs named periodic tasks. Specs take a seconds field and
// also accept descriptors such as "@every 1m".
type Scheduler struct {
	cron   *cron.Cron
	logger Logger
	ctx    context.Context
}

func New(logger Logger) *Scheduler {
	return &Scheduler{
		// a tick that is still running when the next one fires is skipped
		cron:   cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
		ctx:    context.Background(),
	}
}

// AddJob registers job under spec. Errors returned by job are logged with
// the task name.
func (s *Scheduler) AddJob(name, spec string, job func(context.Context) error) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() {
		s.logger.Debugf("Running scheduled task %s", name)
		if err := job(s.ctx); err != nil {
			s.logger.Errorf("Scheduled task %s failed: %v", name, err)
		}
	})
}

// Next returns when the task fires next, or the zero time when the
// scheduler is not started.
func (s *Scheduler) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

// Start runs the tasks with ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

// Stop prevents new ticks and waits for running ones to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
