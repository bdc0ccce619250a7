package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/afero"

	"github.com/semmidev/syncbackup/internal/adapter/compressor"
	"github.com/semmidev/syncbackup/internal/adapter/notifier"
	"github.com/semmidev/syncbackup/internal/adapter/storage"
	"github.com/semmidev/syncbackup/internal/adapter/store"
	"github.com/semmidev/syncbackup/internal/config"
	"github.com/semmidev/syncbackup/internal/domain"
	"github.com/semmidev/syncbackup/internal/infrastructure/lock"
	"github.com/semmidev/syncbackup/internal/infrastructure/logger"
	"github.com/semmidev/syncbackup/internal/infrastructure/scheduler"
	"github.com/semmidev/syncbackup/internal/usecase"
)

type Options struct {
	ConfigPath string
	// Debug forces debug logging regardless of the configured level.
	Debug bool
}

type App struct {
	config      *config.Config
	opts        Options
	logger      *logger.Logger
	lock        *lock.ProcessLock
	store       *store.Store
	storage     *storage.LocalStorage
	scheduler   *scheduler.Scheduler
	notifier    *notifier.Dispatcher
	coordinator *usecase.Coordinator
	poller      *usecase.Poller
	maintenance *usecase.Maintenance

	shutdownOnce sync.Once
}

func New(cfg *config.Config, opts Options) (a *App, err error) {
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if opts.Debug {
		log.SetLevel("debug")
	}

	log.Infof("Starting %s", cfg.App.Name)

	processLock, err := lock.Acquire(cfg.App.LockFile)
	if err != nil {
		log.Close()
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = processLock.Release()
			log.Close()
		}
	}()

	db, err := store.Open(cfg.App.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()

	ctx := context.Background()
	if err := syncJobs(ctx, db, cfg, log); err != nil {
		return nil, err
	}
	if n, err := db.ResetRunning(ctx); err != nil {
		return nil, err
	} else if n > 0 {
		log.Warnf("Cleared stale running flag on %d job(s)", n)
	}

	fs := afero.NewOsFs()
	local := storage.NewLocal(fs)
	dispatcher := notifier.NewDispatcher(notifier.Mode(cfg.Notifications.Mode), newSender(cfg.Notifications, log), log.Named("notifier"))

	guard := usecase.NewRunGuard()
	retention := usecase.NewRetention(db, local, log.Named("retention"))
	simple := usecase.NewSimpleBackup(fs, db, local, compressor.NewZip(fs), log.Named("simple"))
	chain := usecase.NewChainManager(db, local, usecase.NewDiffer(fs), log.Named("chain"))
	coordinator := usecase.NewCoordinator(db, simple, chain, retention, dispatcher, guard, log.Named("coordinator"))
	coordinator.OnStateChange(func(job domain.Job) {
		log.Debugf("[%s] running=%t", job.Name, job.Running)
	})

	return &App{
		config:      cfg,
		opts:        opts,
		logger:      log,
		lock:        processLock,
		store:       db,
		storage:     local,
		scheduler:   scheduler.New(log.Named("scheduler")),
		notifier:    dispatcher,
		coordinator: coordinator,
		poller:      usecase.NewPoller(db, coordinator, log.Named("poller")),
		maintenance: usecase.NewMaintenance(db, db, retention, coordinator, log.Named("maintenance"), cfg.Scheduler.LogRetentionDays),
	}, nil
}

func newSender(cfg config.NotificationConfig, log *logger.Logger) notifier.Sender {
	if cfg.Mode == string(notifier.ModeDisabled) || !cfg.Telegram.Enabled {
		return notifier.NewLogSender(log.Named("notifier"))
	}

	tg, err := notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MessagesPerMinute)
	if err != nil {
		log.Errorf("Failed to initialize Telegram, notifications go to the log: %v", err)
		return notifier.NewLogSender(log.Named("notifier"))
	}
	log.Infof("✓ Telegram notifications enabled")
	return tg
}

func syncJobs(ctx context.Context, db *store.Store, cfg *config.Config, log *logger.Logger) error {
	defs, err := cfg.JobDefinitions()
	if err != nil {
		return err
	}
	res, err := db.SyncJobs(ctx, defs)
	if err != nil {
		return err
	}
	log.Infof("Jobs synchronized: %d configured, %d created, %d updated, %d deactivated",
		len(defs), res.Created, res.Updated, res.Deactivated)
	return nil
}

func (a *App) Run(ctx context.Context) error {
	poll := "@every " + a.config.Scheduler.PollInterval.String()
	if _, err := a.scheduler.AddJob("poll", poll, a.poller.Tick); err != nil {
		return fmt.Errorf("failed to schedule poll loop: %w", err)
	}

	if a.config.Notifications.Mode == string(notifier.ModeBatch) {
		flush := "@every " + a.config.Notifications.BatchInterval.String()
		if _, err := a.scheduler.AddJob("notify-flush", flush, func(ctx context.Context) error {
			a.notifier.Flush(ctx)
			return nil
		}); err != nil {
			return fmt.Errorf("failed to schedule notification flush: %w", err)
		}
	}

	maintenanceID, err := a.scheduler.AddJob("maintenance", a.config.Scheduler.MaintenanceSchedule, a.maintenance.Execute)
	if err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}

	a.scheduler.Start(ctx)
	a.logger.Infof("Scheduler started, polling %s, next maintenance at %s",
		poll, a.scheduler.Next(maintenanceID).Format("2006-01-02 15:04:05"))

	if _, err := a.poller.Poll(ctx); err != nil {
		a.logger.Errorf("Initial poll failed: %v", err)
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.logger.Warnf("Failed to notify systemd: %v", err)
	} else if ok {
		a.logger.Debugf("Notified systemd: ready")
	}

	if a.opts.ConfigPath != "" {
		config.Watch(a.opts.ConfigPath, a.reload, func(err error) {
			a.logger.Warnf("Ignoring config change: %v", err)
		})
	}

	<-ctx.Done()
	return nil
}

// reload applies a changed config file. Job definitions and the log
// level change live; scheduler and notification settings need a restart.
func (a *App) reload(cfg *config.Config) {
	a.logger.Infof("Config changed, reloading jobs")
	if err := syncJobs(context.Background(), a.store, cfg, a.logger); err != nil {
		a.logger.Errorf("Failed to reload jobs: %v", err)
		return
	}
	if !a.opts.Debug {
		a.logger.SetLevel(cfg.App.LogLevel)
	}
	if cfg.Scheduler != a.config.Scheduler || cfg.Notifications != a.config.Notifications {
		a.logger.Warnf("Scheduler and notification settings take effect after a restart")
	}
}

// RunNow forces one run of the named job and waits for it. Cancelling
// ctx does not interrupt the run.
func (a *App) RunNow(ctx context.Context, name string) (usecase.RunStatus, error) {
	ctx = context.WithoutCancel(ctx)

	job, err := a.store.FindJobByName(ctx, name)
	if err != nil {
		return usecase.RunFailed, err
	}

	status, err := a.coordinator.Run(ctx, job.ID, true)
	if status == usecase.RunNoop {
		return status, fmt.Errorf("%w: %s", domain.ErrRunInProgress, name)
	}
	return status, err
}

// Purge deletes a job and its history from the store. With removeFiles
// the backup artifacts are deleted from disk first.
func (a *App) Purge(ctx context.Context, name string, removeFiles bool) (int, error) {
	job, err := a.store.FindJobByName(ctx, name)
	if err != nil {
		return 0, err
	}

	removed := 0
	if removeFiles {
		records, err := a.store.ListBackupRecords(ctx, job.ID)
		if err != nil {
			return 0, err
		}
		var errs []error
		for _, rec := range records {
			if err := a.storage.Remove(rec.Path); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
		if err := errors.Join(errs...); err != nil {
			return removed, fmt.Errorf("job kept, some artifacts could not be removed: %w", err)
		}
	}

	if err := a.store.DeleteJob(ctx, job.ID); err != nil {
		return removed, err
	}
	a.logger.Infof("[%s] Job purged, %d artifact(s) removed", name, removed)
	return removed, nil
}

func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.logger.Infof("Shutting down application...")
		if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
			a.logger.Warnf("Failed to notify systemd: %v", err)
		}

		a.scheduler.Stop()
		// runs are never cancelled, only awaited
		a.poller.Wait()
		a.notifier.Flush(context.Background())

		if err := a.store.Close(); err != nil {
			a.logger.Errorf("Failed to close store: %v", err)
		}
		if err := a.lock.Release(); err != nil {
			a.logger.Errorf("Failed to release lock: %v", err)
		}
		a.logger.Infof("Shutdown complete")
		a.logger.Close()
	})
}
