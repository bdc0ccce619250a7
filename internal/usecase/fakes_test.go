package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/semmidev/syncbackup/internal/domain"
)

type memStore struct {
	mu       sync.Mutex
	jobs     map[uint]domain.Job
	records  []domain.BackupRecord
	nextID   uint
	pointers map[uint]domain.ReferencePointer
	markers  map[uint]time.Time
	policies map[uint][]domain.RetentionPolicy
	logs     []domain.LogEntry
	pruned   time.Time
	failList error
	// failClear is how many writes clearing the running flag fail.
	failClear int
}

func newMemStore(jobs ...domain.Job) *memStore {
	s := &memStore{
		jobs:     make(map[uint]domain.Job),
		pointers: make(map[uint]domain.ReferencePointer),
		markers:  make(map[uint]time.Time),
		policies: make(map[uint][]domain.RetentionPolicy),
	}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *memStore) ListJobs(context.Context) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList != nil {
		return nil, s.failList
	}
	var out []domain.Job
	for _, j := range s.jobs {
		out = append(out, j)
	}
	slices.SortFunc(out, func(a, b domain.Job) int { return int(a.ID) - int(b.ID) })
	return out, nil
}

func (s *memStore) GetJob(_ context.Context, id uint) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: job %d", domain.ErrNotFound, id)
	}
	return j, nil
}

func (s *memStore) UpdateJobFields(_ context.Context, id uint, upd domain.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: job %d", domain.ErrNotFound, id)
	}
	if upd.Running != nil && !*upd.Running && s.failClear > 0 {
		s.failClear--
		return fmt.Errorf("%w: database is locked", domain.ErrStore)
	}
	if upd.Running != nil {
		j.Running = *upd.Running
	}
	if upd.LastRun != nil {
		t := *upd.LastRun
		j.LastRun = &t
	}
	if upd.NextRun != nil {
		t := *upd.NextRun
		j.NextRun = &t
	}
	if upd.ClearNextRun {
		j.NextRun = nil
	}
	s.jobs[id] = j
	return nil
}

func (s *memStore) AddBackupRecord(_ context.Context, rec *domain.BackupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.records = append(s.records, *rec)
	return nil
}

func (s *memStore) ListBackupRecords(_ context.Context, jobID uint, kinds ...domain.RecordKind) ([]domain.BackupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BackupRecord
	for _, r := range s.records {
		if r.JobID != jobID {
			continue
		}
		if len(kinds) > 0 && !slices.Contains(kinds, r.Kind) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) DeleteBackupRecord(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = slices.DeleteFunc(s.records, func(r domain.BackupRecord) bool { return r.ID == id })
	return nil
}

func (s *memStore) GetReferencePointer(_ context.Context, jobID uint) (domain.ReferencePointer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pointers[jobID]
	return p, ok, nil
}

func (s *memStore) SetReferencePointer(_ context.Context, jobID uint, ptr domain.ReferencePointer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pointers[jobID] = ptr
	return nil
}

func (s *memStore) GetChangeMarker(_ context.Context, jobID uint) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.markers[jobID]
	return t, ok, nil
}

func (s *memStore) SetChangeMarker(_ context.Context, jobID uint, mtime time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markers[jobID] = mtime
	return nil
}

func (s *memStore) ListRetentionPolicies(_ context.Context, jobID uint) ([]domain.RetentionPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.policies[jobID]), nil
}

func (s *memStore) AppendLog(_ context.Context, entry domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *memStore) PruneLogs(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned = before
	n := len(s.logs)
	s.logs = slices.DeleteFunc(s.logs, func(e domain.LogEntry) bool { return e.CreatedAt.Before(before) })
	return int64(n - len(s.logs)), nil
}

func (s *memStore) job(id uint) domain.Job {
	j, _ := s.GetJob(context.Background(), id)
	return j
}

func (s *memStore) recordsOf(kind domain.RecordKind) []domain.BackupRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BackupRecord
	for _, r := range s.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func (s *memStore) logStatuses() []domain.LogStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LogStatus
	for _, e := range s.logs {
		out = append(out, e.Status)
	}
	return out
}

type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) add(level, template string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(template, args...))
}

func (l *testLogger) Debugf(t string, a ...interface{}) { l.add("DEBUG", t, a...) }
func (l *testLogger) Infof(t string, a ...interface{})  { l.add("INFO", t, a...) }
func (l *testLogger) Warnf(t string, a ...interface{})  { l.add("WARN", t, a...) }
func (l *testLogger) Errorf(t string, a ...interface{}) { l.add("ERROR", t, a...) }

func (l *testLogger) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) statuses() []domain.LogStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.LogStatus
	for _, m := range n.sent {
		out = append(out, m.Status)
	}
	return out
}

// stepClock advances by a minute on every reading so artifact names
// never collide.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.Local)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

func writeFile(fs afero.Fs, path, content string, mtime time.Time) {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		panic(err)
	}
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		panic(err)
	}
	if err := fs.Chtimes(path, mtime, mtime); err != nil {
		panic(err)
	}
}

func listFiles(fs afero.Fs, root string) []string {
	var out []string
	_ = afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err == nil && info.Mode().IsRegular() {
			out = append(out, strings.TrimPrefix(path, root+"/"))
		}
		return nil
	})
	slices.Sort(out)
	return out
}
