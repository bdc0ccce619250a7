package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/afero"

	"github.com/semmidev/syncbackup/internal/domain"
)

func TestLocalStorage(t *testing.T) {
	Convey("Given a LocalStorage over an in-memory filesystem", t, func() {
		fs := afero.NewMemMapFs()
		storage := NewLocal(fs)
		mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

		So(storage.WriteFile("/src/a.txt", []byte("hello")), ShouldBeNil)
		So(storage.WriteFile("/src/sub/b.txt", []byte("world!")), ShouldBeNil)
		So(storage.WriteFile("/src/cache/tmp.bin", []byte("x")), ShouldBeNil)
		So(fs.Chtimes("/src/a.txt", mtime, mtime), ShouldBeNil)

		Convey("CopyTree", func() {
			Convey("When copying with an exclusion", func() {
				report, err := storage.CopyTree("/src", "/dst", func(p string) bool {
					return filepath.Base(p) == "cache"
				})

				Convey("It should copy every other file and keep mtimes", func() {
					So(err, ShouldBeNil)
					So(report.Files, ShouldEqual, 2)
					So(report.Bytes, ShouldEqual, 11)
					So(report.Failures, ShouldBeEmpty)

					data, err := afero.ReadFile(fs, "/dst/sub/b.txt")
					So(err, ShouldBeNil)
					So(string(data), ShouldEqual, "world!")

					info, err := fs.Stat("/dst/a.txt")
					So(err, ShouldBeNil)
					So(info.ModTime().Equal(mtime), ShouldBeTrue)

					exists, _ := storage.Exists("/dst/cache")
					So(exists, ShouldBeFalse)
				})

				Convey("It should leave no temporary files behind", func() {
					entries, err := afero.ReadDir(fs, "/dst")
					So(err, ShouldBeNil)
					for _, e := range entries {
						So(strings.Contains(e.Name(), ".tmp"), ShouldBeFalse)
					}
				})
			})

			Convey("When the source is missing", func() {
				_, err := storage.CopyTree("/nope", "/dst", nil)

				Convey("It should report the source as unavailable", func() {
					So(errors.Is(err, domain.ErrSourceUnavailable), ShouldBeTrue)
				})
			})
		})

		Convey("WriteTombstone", func() {
			ts := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

			Convey("When no file carries the suffix yet", func() {
				path, err := storage.WriteTombstone("/src/a.txt", "/inc", "a.txt", ts, false)

				Convey("It should write rel_DELETED", func() {
					So(err, ShouldBeNil)
					So(path, ShouldEqual, "/inc/a.txt_DELETED")
					data, _ := afero.ReadFile(fs, path)
					So(string(data), ShouldEqual, "hello")
				})
			})

			Convey("When rel_DELETED is taken outside the target folder", func() {
				path, err := storage.WriteTombstone("/src/a.txt", "/inc", "a.txt", ts, true)

				Convey("It should use the timestamped name", func() {
					So(err, ShouldBeNil)
					So(path, ShouldEqual, "/inc/a.txt_DELETED_20240201_100000")
					exists, _ := afero.Exists(fs, "/inc/a.txt_DELETED")
					So(exists, ShouldBeFalse)
				})
			})

			Convey("When rel_DELETED already exists", func() {
				So(storage.WriteFile("/inc/a.txt_DELETED", []byte("real file")), ShouldBeNil)
				path, err := storage.WriteTombstone("/src/a.txt", "/inc", "a.txt", ts, false)

				Convey("It should append the timestamp", func() {
					So(err, ShouldBeNil)
					So(path, ShouldEqual, "/inc/a.txt_DELETED_20240201_100000")
				})

				Convey("It should refuse a second collision", func() {
					So(storage.WriteFile(path, []byte("taken")), ShouldBeNil)
					_, err := storage.WriteTombstone("/src/a.txt", "/inc", "a.txt", ts, false)
					So(err, ShouldNotBeNil)

					data, _ := afero.ReadFile(fs, "/inc/a.txt_DELETED")
					So(string(data), ShouldEqual, "real file")
				})
			})
		})

		Convey("Remove and Size", func() {
			Convey("It should sum a directory tree", func() {
				size, err := storage.Size("/src")
				So(err, ShouldBeNil)
				So(size, ShouldEqual, 12)
			})

			Convey("It should delete a tree and tolerate a missing path", func() {
				So(storage.Remove("/src/sub"), ShouldBeNil)
				_, err := fs.Stat("/src/sub/b.txt")
				So(errors.Is(err, os.ErrNotExist), ShouldBeTrue)
				So(storage.Remove("/src/sub"), ShouldBeNil)
			})
		})
	})
}
