package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/semmidev/syncbackup/internal/domain"
)

const (
	timestampLayout  = "20060102_150405"
	tombstoneSuffix  = "_DELETED"
	defaultDirPerm   = 0o755
	defaultFilePerms = 0o644
)

// LocalStorage copies files between local or mounted paths.
type LocalStorage struct {
	fs afero.Fs
}

func NewLocal(fs afero.Fs) *LocalStorage {
	return &LocalStorage{fs: fs}
}

func (l *LocalStorage) Exists(path string) (bool, error) {
	return afero.Exists(l.fs, path)
}

func (l *LocalStorage) MkdirAll(path string) error {
	if err := l.fs.MkdirAll(path, defaultDirPerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// CopyTree copies every non-excluded regular file under src into dst.
// Per-file errors are collected in the report; only a missing src or an
// uncreatable dst fails the whole copy.
func (l *LocalStorage) CopyTree(src, dst string, exclude domain.ExcludeFunc) (domain.CopyReport, error) {
	var report domain.CopyReport

	info, err := l.fs.Stat(src)
	if err != nil {
		return report, fmt.Errorf("%w: %s: %v", domain.ErrSourceUnavailable, src, err)
	}
	if !info.IsDir() {
		return report, fmt.Errorf("%w: %s is not a directory", domain.ErrSourceUnavailable, src)
	}
	if err := l.MkdirAll(dst); err != nil {
		return report, err
	}

	err = afero.Walk(l.fs, src, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if path == src {
				return walkErr
			}
			report.Fail(path, "read", walkErr)
			if fi != nil && fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == src {
			return nil
		}
		if exclude != nil && exclude(path) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			report.Fail(path, "rel", err)
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case fi.IsDir():
			if err := l.fs.MkdirAll(target, defaultDirPerm); err != nil {
				report.Fail(path, "mkdir", err)
				return filepath.SkipDir
			}
		case fi.Mode().IsRegular():
			n, err := l.CopyFile(path, target)
			if err != nil {
				report.Fail(path, "copy", err)
				return nil
			}
			report.Files++
			report.Bytes += n
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("failed to walk %s: %w", src, err)
	}

	return report, nil
}

// CopyFile writes src to dst through a temporary file and a rename, then
// carries the source modification time over so later diffs compare equal.
func (l *LocalStorage) CopyFile(src, dst string) (int64, error) {
	info, err := l.fs.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("failed to stat source: %w", err)
	}

	source, err := l.fs.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	dir := filepath.Dir(dst)
	if err := l.fs.MkdirAll(dir, defaultDirPerm); err != nil {
		return 0, fmt.Errorf("failed to create dest dir: %w", err)
	}

	tmp, err := afero.TempFile(l.fs, dir, "."+filepath.Base(dst)+".tmp*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, source)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = l.fs.Remove(tmpName)
		return 0, fmt.Errorf("failed to copy: %w", err)
	}

	if err := l.fs.Rename(tmpName, dst); err != nil {
		_ = l.fs.Remove(tmpName)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	_ = l.fs.Chmod(dst, info.Mode().Perm()|0o200)
	if err := l.fs.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return n, fmt.Errorf("failed to preserve mtime: %w", err)
	}

	return n, nil
}

// WriteTombstone copies the last backed-up version of a deleted file into
// dstDir under rel with a _DELETED suffix. If that name is taken, in dstDir
// or elsewhere as reported by plainTaken, the suffix becomes _DELETED_{ts};
// if that is taken too the tombstone is not written and an error is
// returned.
func (l *LocalStorage) WriteTombstone(refFile, dstDir, rel string, ts time.Time, plainTaken bool) (string, error) {
	candidates := []string{
		filepath.Join(dstDir, rel+tombstoneSuffix),
		filepath.Join(dstDir, rel+tombstoneSuffix+"_"+ts.Format(timestampLayout)),
	}
	if plainTaken {
		candidates = candidates[1:]
	}

	for _, target := range candidates {
		exists, err := afero.Exists(l.fs, target)
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", target, err)
		}
		if exists {
			continue
		}
		if _, err := l.CopyFile(refFile, target); err != nil {
			return "", err
		}
		return target, nil
	}

	return "", fmt.Errorf("tombstone names for %s are already taken", rel)
}

// Remove deletes a file or directory tree. A path that is already gone is
// not an error.
func (l *LocalStorage) Remove(path string) error {
	if _, err := l.fs.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := l.fs.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// Size returns the size of a file, or the total size of regular files
// below a directory.
func (l *LocalStorage) Size(path string) (int64, error) {
	info, err := l.fs.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = afero.Walk(l.fs, path, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if fi.Mode().IsRegular() {
			total += fi.Size()
		}
		return nil
	})
	return total, err
}

// WriteFile is used for fixtures and small metadata files.
func (l *LocalStorage) WriteFile(path string, data []byte) error {
	if err := l.fs.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return afero.WriteFile(l.fs, path, data, defaultFilePerms)
}
