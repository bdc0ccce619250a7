package lock

import (
	"errors"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/syncbackup/internal/domain"
)

func TestProcessLock(t *testing.T) {
	Convey("Given a lock file path", t, func() {
		path := filepath.Join(t.TempDir(), "run", "syncbackup.lock")

		Convey("When the lock is free", func() {
			l, err := Acquire(path)

			Convey("It should be acquired", func() {
				So(err, ShouldBeNil)
				So(l.Path(), ShouldEqual, path)
				So(l.Release(), ShouldBeNil)
			})
		})

		Convey("When another holder has the lock", func() {
			first, err := Acquire(path)
			So(err, ShouldBeNil)

			_, err = Acquire(path)

			Convey("It should refuse a second instance", func() {
				So(errors.Is(err, domain.ErrAlreadyRunning), ShouldBeTrue)
			})

			Convey("It should be free again after release", func() {
				So(first.Release(), ShouldBeNil)
				again, err := Acquire(path)
				So(err, ShouldBeNil)
				So(again.Release(), ShouldBeNil)
			})
		})
	})
}
