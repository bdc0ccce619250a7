package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semmidev/syncbackup/internal/infrastructure/service"
)

const serviceName = "syncbackup"

func newServiceManager() (*service.Manager, error) {
	log, err := cliLogger()
	if err != nil {
		return nil, err
	}
	return service.New(service.Config{
		Name:        serviceName,
		DisplayName: "SyncBackup",
		Description: "Runs scheduled Simple and Incremental folder backups.",
		Arguments:   []string{"serve", "--config", configPath},
	}, runService, log)
}

var serviceActions = []struct {
	action string
	short  string
}{
	{"install", "Register the background service with the OS"},
	{"uninstall", "Remove the background service"},
	{"start", "Start the background service"},
	{"stop", "Stop the background service, waiting for running backups"},
	{"restart", "Restart the background service"},
}

var serveCmd = &cobra.Command{
	Use:    "serve",
	Short:  "Run under the OS service manager",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := newServiceManager()
		if err != nil {
			return err
		}
		return m.Run()
	},
}

func init() {
	for _, sa := range serviceActions {
		action := sa.action
		rootCmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: sa.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				m, err := newServiceManager()
				if err != nil {
					return err
				}
				if err := m.Control(action); err != nil {
					return err
				}
				fmt.Printf("%s: %s\n", serviceName, m.Status())
				return nil
			},
		})
	}
	rootCmd.AddCommand(serveCmd)
}
