package compressor

import (
	"archive/zip"
	"compress/flate"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/semmidev/syncbackup/internal/domain"
)

const deflateLevel = 6

type ZipCompressor struct {
	fs afero.Fs
}

func NewZip(fs afero.Fs) *ZipCompressor {
	return &ZipCompressor{fs: fs}
}

// Compress archives srcDir into destFile. destFile must not exist yet.
// Unreadable files are skipped and reported.
func (z *ZipCompressor) Compress(srcDir, destFile string, exclude domain.ExcludeFunc) (domain.CopyReport, error) {
	var report domain.CopyReport

	info, err := z.fs.Stat(srcDir)
	if err != nil || !info.IsDir() {
		return report, fmt.Errorf("%w: %s", domain.ErrSourceUnavailable, srcDir)
	}

	if err := z.fs.MkdirAll(filepath.Dir(destFile), 0o755); err != nil {
		return report, fmt.Errorf("failed to create dest dir: %w", err)
	}
	destF, err := z.fs.OpenFile(destFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return report, fmt.Errorf("failed to create dest file: %w", err)
	}

	zw := zip.NewWriter(destF)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, deflateLevel)
	})

	walkErr := afero.Walk(z.fs, srcDir, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			if path == srcDir {
				return err
			}
			report.Fail(path, "read", err)
			return nil
		}
		if path == srcDir {
			return nil
		}
		if exclude != nil && exclude(path) {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			report.Fail(path, "rel", err)
			return nil
		}

		header, err := zip.FileInfoHeader(fi)
		if err != nil {
			report.Fail(path, "header", err)
			return nil
		}
		header.Name = filepath.ToSlash(rel)

		if fi.IsDir() {
			header.Name += "/"
			_, err := zw.CreateHeader(header)
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		header.Method = zip.Deflate

		n, err := z.addFile(zw, header, path)
		if err != nil {
			// the archive stream is unusable after a failed entry write
			if n > 0 {
				return fmt.Errorf("failed to compress %s: %w", path, err)
			}
			report.Fail(path, "compress", err)
			return nil
		}
		report.Files++
		report.Bytes += n
		return nil
	})

	closeErr := zw.Close()
	if err := destF.Close(); closeErr == nil {
		closeErr = err
	}
	if walkErr == nil {
		walkErr = closeErr
	}
	if walkErr != nil {
		_ = z.fs.Remove(destFile)
		return report, fmt.Errorf("failed to compress: %w", walkErr)
	}

	return report, nil
}

func (z *ZipCompressor) addFile(zw *zip.Writer, header *zip.FileHeader, path string) (int64, error) {
	src, err := z.fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	w, err := zw.CreateHeader(header)
	if err != nil {
		return 0, err
	}
	return io.Copy(w, src)
}

// Extract unpacks archive into destDir, restoring modification times.
func (z *ZipCompressor) Extract(archive, destDir string) error {
	f, err := z.fs.Open(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat archive: %w", err)
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}

	root := filepath.Clean(destDir) + string(os.PathSeparator)
	for _, entry := range zr.File {
		target := filepath.Join(destDir, filepath.FromSlash(entry.Name))
		if !strings.HasPrefix(target+string(os.PathSeparator), root) {
			return fmt.Errorf("illegal path in archive: %s", entry.Name)
		}

		if entry.FileInfo().IsDir() {
			if err := z.fs.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", target, err)
			}
			continue
		}
		if err := z.extractFile(entry, target); err != nil {
			return err
		}
	}

	return nil
}

func (z *ZipCompressor) extractFile(entry *zip.File, target string) error {
	if err := z.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", target, err)
	}

	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", entry.Name, err)
	}
	defer rc.Close()

	out, err := z.fs.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	return z.fs.Chtimes(target, entry.Modified, entry.Modified)
}
