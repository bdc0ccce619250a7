package usecase

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync/atomic"

	"github.com/spf13/afero"

	"github.com/semmidev/syncbackup/internal/domain"
)

var (
	// ErrDiffConsumed is yielded when a change sequence is ranged over twice.
	ErrDiffConsumed = errors.New("change sequence already consumed")

	errStopWalk = errors.New("stop walk")

	tombstonePattern = regexp.MustCompile(`_DELETED(_\d{8}_\d{6})?$`)
)

const deletedSuffix = "_DELETED"

// Differ compares a source tree with the members of a backup chain.
type Differ struct {
	fs afero.Fs
}

func NewDiffer(fs afero.Fs) *Differ {
	return &Differ{fs: fs}
}

// layer is the file index of one chain member.
type layer struct {
	root       string
	files      map[string]struct{}
	tombstones map[string]struct{}
}

// state reports what a layer knows about rel: 1 present, -1 tombstoned,
// 0 nothing.
func (l *layer) state(rel string) int {
	if _, ok := l.files[rel]; ok {
		return 1
	}
	if _, ok := l.tombstones[rel]; ok {
		return -1
	}
	return 0
}

// Diff yields the changes of sourceRoot relative to the chain whose member
// roots are given newest first. A file is looked up in the newest member
// that mentions it, so an incremental holding only a few files still
// shadows the full copy in the INICIAL member correctly.
//
// With preserveDeleted, files alive in the chain but missing from the
// source are yielded as deleted. Files whose newest mention is a tombstone
// are not reported again.
//
// Per-file problems are yielded as *domain.FileFailure errors; any other
// error ends the sequence. The sequence can be ranged over only once.
func (d *Differ) Diff(sourceRoot string, refs []string, exclude domain.ExcludeFunc, preserveDeleted bool) iter.Seq2[domain.ChangeEntry, error] {
	var consumed atomic.Bool

	return func(yield func(domain.ChangeEntry, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(domain.ChangeEntry{}, ErrDiffConsumed)
			return
		}

		layers := make([]*layer, 0, len(refs))
		for _, root := range refs {
			layers = append(layers, d.index(root))
		}

		seen := make(map[string]struct{})
		err := afero.Walk(d.fs, sourceRoot, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				if path == sourceRoot {
					return fmt.Errorf("%w: %s: %v", domain.ErrSourceUnavailable, sourceRoot, walkErr)
				}
				if !yield(domain.ChangeEntry{}, &domain.FileFailure{Path: path, Op: "read", Err: walkErr}) {
					return errStopWalk
				}
				if info != nil && info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if path == sourceRoot {
				return nil
			}
			if exclude != nil && exclude(path) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !info.Mode().IsRegular() {
				return nil
			}

			rel, err := filepath.Rel(sourceRoot, path)
			if err != nil {
				return nil
			}
			seen[rel] = struct{}{}

			entry, changed := d.compare(layers, rel, path, info)
			if changed && !yield(entry, nil) {
				return errStopWalk
			}
			return nil
		})
		if errors.Is(err, errStopWalk) {
			return
		}
		if err != nil {
			yield(domain.ChangeEntry{}, err)
			return
		}

		if !preserveDeleted {
			return
		}
		for _, entry := range deletions(layers, seen, sourceRoot, exclude) {
			if !yield(entry, nil) {
				return
			}
		}
	}
}

func (d *Differ) compare(layers []*layer, rel, path string, info os.FileInfo) (domain.ChangeEntry, bool) {
	entry := domain.ChangeEntry{
		RelPath:    rel,
		SourcePath: path,
		ModTime:    info.ModTime(),
		Size:       info.Size(),
	}

	for _, l := range layers {
		switch l.state(rel) {
		case 0:
			continue
		case -1:
			entry.Kind = domain.ChangeNew
			return entry, true
		}

		ref := filepath.Join(l.root, rel)
		entry.ReferencePath = ref
		refInfo, err := d.fs.Stat(ref)
		if err != nil {
			entry.Kind = domain.ChangeModified
			return entry, true
		}
		if !refInfo.ModTime().Equal(info.ModTime()) || refInfo.Size() != info.Size() {
			entry.Kind = domain.ChangeModified
			return entry, true
		}
		return entry, false
	}

	entry.Kind = domain.ChangeNew
	return entry, true
}

// index lists the regular files and tombstones of one chain member.
func (d *Differ) index(root string) *layer {
	l := &layer{
		root:       root,
		files:      make(map[string]struct{}),
		tombstones: make(map[string]struct{}),
	}

	_ = afero.Walk(d.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			if rel, relErr := filepath.Rel(root, path); relErr == nil {
				l.files[rel] = struct{}{}
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		l.files[rel] = struct{}{}
		if loc := tombstonePattern.FindStringIndex(rel); loc != nil {
			l.tombstones[rel[:loc[0]]] = struct{}{}
		}
		return nil
	})

	return l
}

func deletions(layers []*layer, seen map[string]struct{}, sourceRoot string, exclude domain.ExcludeFunc) []domain.ChangeEntry {
	union := make(map[string]struct{})
	for _, l := range layers {
		for rel := range l.files {
			union[rel] = struct{}{}
		}
	}

	rels := make([]string, 0, len(union))
	for rel := range union {
		if _, ok := seen[rel]; ok {
			continue
		}
		if tombstonePattern.MatchString(rel) {
			continue
		}
		if excludedRel(sourceRoot, rel, exclude) {
			continue
		}
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	var out []domain.ChangeEntry
	for _, rel := range rels {
		for _, l := range layers {
			st := l.state(rel)
			if st == 0 {
				continue
			}
			if st == 1 {
				out = append(out, domain.ChangeEntry{
					RelPath:        rel,
					Kind:           domain.ChangeDeleted,
					ReferencePath:  filepath.Join(l.root, rel),
					TombstoneTaken: nameInUse(layers, seen, rel+deletedSuffix),
				})
			}
			break
		}
	}
	return out
}

// nameInUse reports whether rel is a file in the source or in any chain
// member. Tombstones must not take such a name: restoring the chain would
// overwrite the real file with the deleted one.
func nameInUse(layers []*layer, seen map[string]struct{}, rel string) bool {
	if _, ok := seen[rel]; ok {
		return true
	}
	for _, l := range layers {
		if _, ok := l.files[rel]; ok {
			return true
		}
	}
	return false
}

// excludedRel applies exclude to rel and each of its parent directories,
// the same paths the source walk would have tested.
func excludedRel(sourceRoot, rel string, exclude domain.ExcludeFunc) bool {
	if exclude == nil {
		return false
	}
	for p := rel; p != "." && p != string(filepath.Separator); p = filepath.Dir(p) {
		if exclude(filepath.Join(sourceRoot, p)) {
			return true
		}
	}
	return false
}
