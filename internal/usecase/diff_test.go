package usecase

import (
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/afero"

	"github.com/semmidev/syncbackup/internal/domain"
)

func collect(seq func(func(domain.ChangeEntry, error) bool)) ([]domain.ChangeEntry, []error) {
	var entries []domain.ChangeEntry
	var errs []error
	for e, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, errs
}

func TestDiffer(t *testing.T) {
	Convey("Given a Differ over an in-memory filesystem", t, func() {
		fs := afero.NewMemMapFs()
		differ := NewDiffer(fs)
		T := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

		writeFile(fs, "/ref/a.txt", "hello", T)
		writeFile(fs, "/src/a.txt", "hello", T)

		Convey("When the source gains a new file", func() {
			writeFile(fs, "/src/b.txt", "new", T)
			entries, errs := collect(differ.Diff("/src", []string{"/ref"}, nil, false))

			Convey("It should yield exactly one new entry for it", func() {
				So(errs, ShouldBeEmpty)
				So(len(entries), ShouldEqual, 1)
				So(entries[0].RelPath, ShouldEqual, "b.txt")
				So(entries[0].Kind, ShouldEqual, domain.ChangeNew)
				So(entries[0].SourcePath, ShouldEqual, "/src/b.txt")
			})
		})

		Convey("When a file keeps its size but gets a newer mtime", func() {
			So(fs.Chtimes("/src/a.txt", T.Add(time.Second), T.Add(time.Second)), ShouldBeNil)
			entries, _ := collect(differ.Diff("/src", []string{"/ref"}, nil, false))

			Convey("It should yield a modified entry", func() {
				So(len(entries), ShouldEqual, 1)
				So(entries[0].Kind, ShouldEqual, domain.ChangeModified)
				So(entries[0].ReferencePath, ShouldEqual, "/ref/a.txt")
			})
		})

		Convey("When a file keeps its mtime but changes size", func() {
			writeFile(fs, "/src/a.txt", "hello world", T)
			entries, _ := collect(differ.Diff("/src", []string{"/ref"}, nil, false))

			Convey("It should yield a modified entry", func() {
				So(len(entries), ShouldEqual, 1)
				So(entries[0].Kind, ShouldEqual, domain.ChangeModified)
			})
		})

		Convey("When the chain has several members", func() {
			writeFile(fs, "/ref/b.txt", "v1", T)
			writeFile(fs, "/inc1/b.txt", "v2!", T.Add(time.Hour))
			writeFile(fs, "/src/b.txt", "v2!", T.Add(time.Hour))
			refs := []string{"/inc1", "/ref"}

			Convey("It should compare against the newest member holding the file", func() {
				entries, errs := collect(differ.Diff("/src", refs, nil, false))
				So(errs, ShouldBeEmpty)
				So(entries, ShouldBeEmpty)
			})

			Convey("It should report deletions against the full copy", func() {
				So(fs.Remove("/src/a.txt"), ShouldBeNil)
				entries, _ := collect(differ.Diff("/src", refs, nil, true))

				So(len(entries), ShouldEqual, 1)
				So(entries[0].Kind, ShouldEqual, domain.ChangeDeleted)
				So(entries[0].RelPath, ShouldEqual, "a.txt")
				So(entries[0].ReferencePath, ShouldEqual, "/ref/a.txt")
				So(entries[0].TombstoneTaken, ShouldBeFalse)
			})

			Convey("It should flag a deletion whose tombstone name is a real file", func() {
				writeFile(fs, "/ref/a.txt_DELETED", "real", T)
				writeFile(fs, "/src/a.txt_DELETED", "real", T)
				So(fs.Remove("/src/a.txt"), ShouldBeNil)
				entries, _ := collect(differ.Diff("/src", refs, nil, true))

				So(len(entries), ShouldEqual, 1)
				So(entries[0].RelPath, ShouldEqual, "a.txt")
				So(entries[0].TombstoneTaken, ShouldBeTrue)
			})

			Convey("It should not report a file twice once it is tombstoned", func() {
				So(fs.Remove("/src/a.txt"), ShouldBeNil)
				writeFile(fs, "/inc1/a.txt_DELETED", "hello", T)
				entries, _ := collect(differ.Diff("/src", refs, nil, true))
				So(entries, ShouldBeEmpty)
			})

			Convey("It should treat a file restored after its tombstone as new", func() {
				writeFile(fs, "/inc1/a.txt_DELETED_20240101_120000", "hello", T)
				entries, _ := collect(differ.Diff("/src", refs, nil, true))

				So(len(entries), ShouldEqual, 1)
				So(entries[0].Kind, ShouldEqual, domain.ChangeNew)
			})
		})

		Convey("When deletion tracking is off", func() {
			So(fs.Remove("/src/a.txt"), ShouldBeNil)
			entries, _ := collect(differ.Diff("/src", []string{"/ref"}, nil, false))

			Convey("It should yield nothing for missing files", func() {
				So(entries, ShouldBeEmpty)
			})
		})

		Convey("When paths are excluded", func() {
			writeFile(fs, "/src/node_modules/x.js", "x", T)
			writeFile(fs, "/src/debug.log", "x", T)
			writeFile(fs, "/ref/cache/old.bin", "x", T)
			ex := NewExcluder([]string{"node_modules", "*.log", "cache"})
			entries, _ := collect(differ.Diff("/src", []string{"/ref"}, ex.Match, true))

			Convey("It should neither copy nor report them deleted", func() {
				So(entries, ShouldBeEmpty)
			})
		})

		Convey("When the sequence is ranged over twice", func() {
			writeFile(fs, "/src/b.txt", "new", T)
			seq := differ.Diff("/src", []string{"/ref"}, nil, false)
			first, _ := collect(seq)
			second, errs := collect(seq)

			Convey("It should refuse the second pass", func() {
				So(len(first), ShouldEqual, 1)
				So(second, ShouldBeEmpty)
				So(len(errs), ShouldEqual, 1)
				So(errors.Is(errs[0], ErrDiffConsumed), ShouldBeTrue)
			})
		})

		Convey("When the consumer stops early", func() {
			writeFile(fs, "/src/b.txt", "1", T)
			writeFile(fs, "/src/c.txt", "2", T)
			n := 0
			for range differ.Diff("/src", []string{"/ref"}, nil, false) {
				n++
				break
			}

			Convey("It should stop yielding", func() {
				So(n, ShouldEqual, 1)
			})
		})

		Convey("When the source is missing", func() {
			_, errs := collect(differ.Diff("/gone", []string{"/ref"}, nil, false))

			Convey("It should yield a source error", func() {
				So(len(errs), ShouldEqual, 1)
				So(errors.Is(errs[0], domain.ErrSourceUnavailable), ShouldBeTrue)
			})
		})
	})
}

func TestExcluder(t *testing.T) {
	Convey("Given an Excluder", t, func() {
		ex := NewExcluder([]string{"Thumbs.db", "*.tmp", "/build/", " "})

		Convey("It should match exact base names", func() {
			So(ex.Match("/data/photos/Thumbs.db"), ShouldBeTrue)
		})

		Convey("It should glob base names", func() {
			So(ex.Match("/data/x.tmp"), ShouldBeTrue)
			So(ex.Match("/data/x.tmpl"), ShouldBeFalse)
		})

		Convey("It should match substrings of the full path", func() {
			So(ex.Match("/project/build/out.o"), ShouldBeTrue)
		})

		Convey("It should ignore blank patterns and let other paths through", func() {
			So(ex.Match("/data/readme.md"), ShouldBeFalse)
		})

		Convey("A nil excluder should match nothing", func() {
			var none *Excluder
			So(none.Match("/anything"), ShouldBeFalse)
		})
	})
}
