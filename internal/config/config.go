package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/semmidev/syncbackup/internal/domain"
)

const DefaultPath = "configs/config.yaml"

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Scheduler     SchedulerConfig    `mapstructure:"scheduler"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Jobs          []JobConfig        `mapstructure:"jobs" validate:"dive"`
}

type AppConfig struct {
	Name     string `mapstructure:"name" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFile  string `mapstructure:"log_file"`
	DBPath   string `mapstructure:"db_path" validate:"required"`
	LockFile string `mapstructure:"lock_file" validate:"required"`
}

type SchedulerConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval" validate:"gte=1s"`
	LogRetentionDays    int           `mapstructure:"log_retention_days" validate:"gte=0"`
	MaintenanceSchedule string        `mapstructure:"maintenance_schedule" validate:"required"`
}

type NotificationConfig struct {
	Mode          string         `mapstructure:"mode" validate:"oneof=immediate batch disabled"`
	BatchInterval time.Duration  `mapstructure:"batch_interval" validate:"gte=1s"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	BotToken          string `mapstructure:"bot_token" validate:"required_if=Enabled true"`
	ChatID            string `mapstructure:"chat_id" validate:"required_if=Enabled true"`
	MessagesPerMinute int    `mapstructure:"messages_per_minute" validate:"gte=0"`
}

type JobConfig struct {
	Name            string            `mapstructure:"name" validate:"required"`
	Kind            string            `mapstructure:"kind" validate:"required"`
	Source          string            `mapstructure:"source" validate:"required"`
	Destination     string            `mapstructure:"destination" validate:"required"`
	Active          *bool             `mapstructure:"active"`
	Schedule        ScheduleConfig    `mapstructure:"schedule"`
	Exclude         []string          `mapstructure:"exclude"`
	PreserveDeleted bool              `mapstructure:"preserve_deleted"`
	ResetChainAfter int               `mapstructure:"reset_chain_after" validate:"gte=0"`
	Compress        bool              `mapstructure:"compress"`
	Notify          bool              `mapstructure:"notify"`
	Retention       []RetentionConfig `mapstructure:"retention" validate:"dive"`
}

type ScheduleConfig struct {
	Type  string `mapstructure:"type" validate:"required"`
	Value string `mapstructure:"value" validate:"required"`
}

type RetentionConfig struct {
	Type    string `mapstructure:"type" validate:"required"`
	Value   int    `mapstructure:"value" validate:"gte=1"`
	Enabled *bool  `mapstructure:"enabled"`
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("app.name", "syncbackup")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.db_path", "data/syncbackup.db")
	v.SetDefault("app.lock_file", "data/syncbackup.lock")
	v.SetDefault("scheduler.poll_interval", time.Minute)
	v.SetDefault("scheduler.log_retention_days", 30)
	v.SetDefault("scheduler.maintenance_schedule", "0 0 3 * * *")
	v.SetDefault("notifications.mode", "immediate")
	v.SetDefault("notifications.batch_interval", 5*time.Minute)
	v.SetDefault("notifications.telegram.messages_per_minute", 20)
	return v
}

func Load(path string) (*Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate checks the struct tags first, then the rules that need the
// domain parsers.
func (c *Config) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	seen := make(map[string]bool, len(c.Jobs))
	for i, job := range c.Jobs {
		if seen[job.Name] {
			return fmt.Errorf("jobs[%d]: duplicate job name %q: %w", i, job.Name, domain.ErrConfiguration)
		}
		seen[job.Name] = true

		if _, err := job.definition(); err != nil {
			return fmt.Errorf("jobs[%d] %s: %w", i, job.Name, err)
		}
	}
	return nil
}

// JobDefinitions converts the configured jobs into domain definitions.
func (c *Config) JobDefinitions() ([]domain.JobDefinition, error) {
	defs := make([]domain.JobDefinition, 0, len(c.Jobs))
	for _, job := range c.Jobs {
		def, err := job.definition()
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", job.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (j JobConfig) definition() (domain.JobDefinition, error) {
	kind, err := domain.ParseJobKind(j.Kind)
	if err != nil {
		return domain.JobDefinition{}, err
	}

	scheduleType, err := domain.ParseScheduleType(j.Schedule.Type)
	if err != nil {
		return domain.JobDefinition{}, err
	}
	schedule := domain.Schedule{Type: scheduleType, Value: strings.TrimSpace(j.Schedule.Value)}
	if err := schedule.Validate(); err != nil {
		return domain.JobDefinition{}, err
	}

	source := filepath.Clean(j.Source)
	dest := filepath.Clean(j.Destination)
	if rel, err := filepath.Rel(source, dest); err == nil && !strings.HasPrefix(rel, "..") {
		return domain.JobDefinition{}, fmt.Errorf("%w: destination %s is inside source %s", domain.ErrConfiguration, dest, source)
	}

	if kind == domain.JobKindIncremental && j.Compress {
		return domain.JobDefinition{}, fmt.Errorf("%w: compress is only supported for Simple jobs", domain.ErrConfiguration)
	}

	var policies []domain.RetentionPolicy
	for _, r := range j.Retention {
		t, err := domain.ParseRetentionType(r.Type)
		if err != nil {
			return domain.JobDefinition{}, err
		}
		if kind == domain.JobKindIncremental && t != domain.KeepCount {
			return domain.JobDefinition{}, fmt.Errorf("%w: %s is not supported for incremental jobs, use keep_count", domain.ErrConfiguration, t)
		}
		policies = append(policies, domain.RetentionPolicy{Type: t, Value: r.Value, Enabled: boolOr(r.Enabled, true)})
	}

	return domain.JobDefinition{
		Job: domain.Job{
			Name:                j.Name,
			Kind:                kind,
			SourcePath:          source,
			DestPath:            dest,
			Active:              boolOr(j.Active, true),
			Schedule:            schedule,
			ExcludePatterns:     j.Exclude,
			PreserveDeleted:     j.PreserveDeleted,
			ResetChainAfter:     j.ResetChainAfter,
			CompressBackup:      j.Compress,
			EnableNotifications: j.Notify,
		},
		Retention: policies,
	}, nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// Watch reloads the file whenever it is written. Valid configs go to
// onChange; a file that fails to load goes to onError and the previous
// config stays in effect.
func Watch(path string, onChange func(*Config), onError func(error)) {
	v := newViper(path)
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(path)
		if err != nil {
			onError(err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}
