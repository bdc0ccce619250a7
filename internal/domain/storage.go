package domain

import "time"

// ExcludeFunc reports whether a full path is excluded from a backup.
type ExcludeFunc func(path string) bool

// Storage performs the filesystem side of a backup. Destinations are
// append-only history: nothing here overwrites an existing artifact.
type Storage interface {
	Exists(path string) (bool, error)
	MkdirAll(path string) error
	CopyTree(src, dst string, exclude ExcludeFunc) (CopyReport, error)
	CopyFile(src, dst string) (int64, error)
	WriteTombstone(refFile, dstDir, rel string, ts time.Time, plainTaken bool) (string, error)
	Remove(path string) error
	Size(path string) (int64, error)
}
