package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrStore             = errors.New("store failure")
	ErrNotFound          = errors.New("not found")
	ErrRunInProgress     = errors.New("run already in progress")
	ErrAlreadyRunning    = errors.New("another instance is already running")
)

// FileFailure is a recoverable error on a single file. It is collected
// and reported, never allowed to abort a run.
type FileFailure struct {
	Path string
	Op   string
	Err  error
}

func (f *FileFailure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Op, f.Path, f.Err)
}

func (f *FileFailure) Unwrap() error {
	return f.Err
}

type CopyReport struct {
	Files    int
	Bytes    int64
	Failures []FileFailure
}

func (r *CopyReport) Fail(path, op string, err error) {
	r.Failures = append(r.Failures, FileFailure{Path: path, Op: op, Err: err})
}
