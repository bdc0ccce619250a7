package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/kardianos/service"
)

const stopTimeout = 2 * time.Minute

// Runner is the long-running body of the service. It must return once
// ctx is cancelled.
type Runner func(ctx context.Context) error

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

type Config struct {
	Name        string
	DisplayName string
	Description string
	// Arguments are passed to the executable when the OS starts it.
	Arguments []string
}

// program adapts a Runner to service.Interface.
type program struct {
	run    Runner
	logger Logger
	exit   func(int)

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	stopping bool
}

func (p *program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	p.stopping = false
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		err := p.run(ctx)

		p.mu.Lock()
		p.err = err
		stopping := p.stopping
		p.mu.Unlock()

		// The runner gave up on its own: exit so the service manager
		// can restart it.
		if !stopping {
			if err != nil {
				p.logger.Errorf("Service stopped unexpectedly: %v", err)
				p.exit(1)
				return
			}
			p.exit(0)
		}
	}()
	return nil
}

func (p *program) Stop(service.Service) error {
	p.mu.Lock()
	if p.cancel == nil {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		return fmt.Errorf("service did not stop within %s", stopTimeout)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if errors.Is(p.err, context.Canceled) {
		return nil
	}
	return p.err
}

// Manager installs and controls the OS service and runs it when the OS
// service manager starts the executable.
type Manager struct {
	svc    service.Service
	prg    *program
	logger Logger
}

func New(cfg Config, run Runner, logger Logger) (*Manager, error) {
	prg := &program{run: run, logger: logger, exit: os.Exit}
	svc, err := service.New(prg, &service.Config{
		Name:        cfg.Name,
		DisplayName: cfg.DisplayName,
		Description: cfg.Description,
		Arguments:   cfg.Arguments,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize service: %w", err)
	}
	return &Manager{svc: svc, prg: prg, logger: logger}, nil
}

// Control runs one of install, uninstall, start, stop or restart.
func (m *Manager) Control(action string) error {
	if !slices.Contains(service.ControlAction[:], action) {
		return fmt.Errorf("unknown service action %q, valid actions: %v", action, service.ControlAction)
	}
	if err := service.Control(m.svc, action); err != nil {
		return fmt.Errorf("failed to %s service: %w", action, err)
	}
	m.logger.Infof("Service %s: %s done", m.svc.String(), action)
	return nil
}

func (m *Manager) Status() string {
	return statusName(m.svc.Status())
}

func statusName(status service.Status, err error) string {
	if errors.Is(err, service.ErrNotInstalled) {
		return "not installed"
	}
	if err != nil {
		return "unknown"
	}
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	}
	return "unknown"
}

// Run blocks until the OS service manager stops the service. Started
// from a terminal it runs in the foreground until interrupted.
func (m *Manager) Run() error {
	m.logger.Infof("Service %s starting %s", m.svc.String(), runMode(service.Interactive()))
	return m.svc.Run()
}

func runMode(interactive bool) string {
	if interactive {
		return "in the foreground, press Ctrl+C to stop"
	}
	return "under the service manager"
}
