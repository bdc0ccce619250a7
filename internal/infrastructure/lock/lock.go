package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alexflint/go-filemutex"

	"github.com/semmidev/syncbackup/internal/domain"
)

// ProcessLock keeps a single instance of the application running. The
// lock is held on an open file for the lifetime of the process.
type ProcessLock struct {
	path  string
	mutex *filemutex.FileMutex
}

// Acquire takes the lock without waiting. It fails with
// domain.ErrAlreadyRunning when another process holds it.
func Acquire(path string) (*ProcessLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	m, err := filemutex.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := m.TryLock(); err != nil {
		_ = m.Close()
		if errors.Is(err, filemutex.AlreadyLocked) {
			return nil, fmt.Errorf("%w (lock %s)", domain.ErrAlreadyRunning, path)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	return &ProcessLock{path: path, mutex: m}, nil
}

func (l *ProcessLock) Path() string {
	return l.path
}

func (l *ProcessLock) Release() error {
	if err := l.mutex.Unlock(); err != nil {
		_ = l.mutex.Close()
		return fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	return l.mutex.Close()
}
