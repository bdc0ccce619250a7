package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/semmidev/syncbackup/internal/app"
	"github.com/semmidev/syncbackup/internal/config"
	"github.com/semmidev/syncbackup/internal/infrastructure/logger"
)

var (
	cfg        *config.Config
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "syncbackup",
	Short:         "Scheduled Simple and Incremental folder backups",
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		abs, err := filepath.Abs(configPath)
		if err != nil {
			return fmt.Errorf("failed to resolve config path: %w", err)
		}
		configPath = abs

		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// runService runs the scheduler until ctx is cancelled. It is the body
// of both the OS service and the attached debug mode.
func runService(ctx context.Context) error {
	application, err := app.New(cfg, app.Options{ConfigPath: configPath, Debug: debug})
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer application.Shutdown()

	return application.Run(ctx)
}

// cliLogger prints progress of one-shot commands to the console.
func cliLogger() (*logger.Logger, error) {
	level := "info"
	if debug {
		level = "debug"
	}
	return logger.New(level, "")
}
