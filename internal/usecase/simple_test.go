package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/spf13/afero"

	"github.com/semmidev/syncbackup/internal/adapter/compressor"
	"github.com/semmidev/syncbackup/internal/domain"
)

func TestSimpleBackup(t *testing.T) {
	Convey("Given a SimpleBackup and a source folder", t, func() {
		ctx := context.Background()
		T := time.Now().Add(-time.Hour)

		job := domain.Job{
			ID:              1,
			Name:            "projects",
			Kind:            domain.JobKindSimple,
			SourcePath:      "/home/me/projects",
			DestPath:        "/backups",
			ExcludePatterns: []string{"node_modules", "*.tmp"},
		}
		f := newFixture(job)
		writeFile(f.fs, "/home/me/projects/main.go", "package main", T)
		writeFile(f.fs, "/home/me/projects/scratch.tmp", "junk", T)
		writeFile(f.fs, "/home/me/projects/node_modules/dep/index.js", "x", T)

		Convey("When it runs for the first time", func() {
			res, err := f.simple.Execute(ctx, job, false)

			Convey("It should copy the non-excluded files into a named snapshot", func() {
				So(err, ShouldBeNil)
				So(res.Skipped, ShouldBeFalse)
				So(res.FilesProcessed, ShouldEqual, 1)
				So(filepath.Base(res.ArtifactPath), ShouldStartWith, "projects_2024")
				So(listFiles(f.fs, res.ArtifactPath), ShouldResemble, []string{"main.go"})

				recs := f.store.recordsOf(domain.RecordSimple)
				So(len(recs), ShouldEqual, 1)
				So(recs[0].Path, ShouldEqual, res.ArtifactPath)
				So(recs[0].Size, ShouldEqual, 12)
			})

			Convey("It should skip the next run when nothing changed", func() {
				res, err := f.simple.Execute(ctx, job, false)
				So(err, ShouldBeNil)
				So(res.Skipped, ShouldBeTrue)
				So(len(f.store.recordsOf(domain.RecordSimple)), ShouldEqual, 1)
				So(f.logger.contains("No changes detected"), ShouldBeTrue)
			})

			Convey("It should snapshot again when forced", func() {
				res, err := f.simple.Execute(ctx, job, true)
				So(err, ShouldBeNil)
				So(res.Skipped, ShouldBeFalse)
				So(len(f.store.recordsOf(domain.RecordSimple)), ShouldEqual, 2)
			})

			Convey("It should ignore changes to excluded files", func() {
				writeFile(f.fs, "/home/me/projects/scratch.tmp", "more junk", T.Add(2*time.Hour))
				res, _ := f.simple.Execute(ctx, job, false)
				So(res.Skipped, ShouldBeTrue)
			})

			Convey("It should snapshot after a real change", func() {
				writeFile(f.fs, "/home/me/projects/main.go", "package main // v2", T.Add(2*time.Hour))
				res, _ := f.simple.Execute(ctx, job, false)
				So(res.Skipped, ShouldBeFalse)
			})
		})

		Convey("When compression is enabled", func() {
			job.CompressBackup = true
			res, err := f.simple.Execute(ctx, job, false)

			Convey("It should write a restorable ZIP archive", func() {
				So(err, ShouldBeNil)
				So(filepath.Ext(res.ArtifactPath), ShouldEqual, ".zip")
				So(res.Bytes, ShouldBeGreaterThan, 0)

				So(compressor.NewZip(f.fs).Extract(res.ArtifactPath, "/restore"), ShouldBeNil)
				So(listFiles(f.fs, "/restore"), ShouldResemble, []string{"main.go"})
			})
		})

		Convey("When the source is missing", func() {
			job.SourcePath = "/home/me/gone"
			_, err := f.simple.Execute(ctx, job, false)

			Convey("It should fail without creating anything", func() {
				So(errors.Is(err, domain.ErrSourceUnavailable), ShouldBeTrue)
				So(f.store.records, ShouldBeEmpty)
				exists, _ := afero.DirExists(f.fs, "/backups")
				So(exists, ShouldBeFalse)
			})
		})
	})
}
