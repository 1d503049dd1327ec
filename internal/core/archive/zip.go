// Package archive packs a mirrored tree into a single timestamped zip file.
package archive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
	"golang.org/x/text/unicode/norm"

	"github.com/Ning0612/sftparchive/internal/core/stamp"
	"github.com/Ning0612/sftparchive/internal/domain"
	"github.com/Ning0612/sftparchive/internal/logger"
)

// partialSuffix marks an archive that is still being written
const partialSuffix = ".partial"

// Archiver packs sourceDir into a new archive under outputDir and returns its path
type Archiver interface {
	Archive(ctx context.Context, sourceDir, outputDir, prefix string) (string, error)
}

// ZipArchiver writes deflate-compressed zip archives
type ZipArchiver struct {
	now func() time.Time
}

var _ Archiver = (*ZipArchiver)(nil)

// NewZipArchiver creates an archiver stamping archives with the current time
func NewZipArchiver() *ZipArchiver {
	return &ZipArchiver{now: time.Now}
}

// WithClock overrides the time source used for archive names
func (z *ZipArchiver) WithClock(now func() time.Time) *ZipArchiver {
	z.now = now
	return z
}

// Archive writes every regular file under sourceDir into
// outputDir/<prefix_><timestamp>.zip, named by its slash-separated path
// relative to sourceDir in NFC form. Empty directories get their own entries.
// The archive only appears under its final name once it is complete.
func (z *ZipArchiver) Archive(ctx context.Context, sourceDir, outputDir, prefix string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("%w: failed to create output directory %s: %w", domain.ErrArchive, outputDir, err)
	}

	finalPath := filepath.Join(outputDir, stamp.ArchiveName(prefix, z.now(), domain.ArchiveExt))
	partialPath := finalPath + partialSuffix

	entries, err := z.write(ctx, sourceDir, partialPath)
	if err != nil {
		os.Remove(partialPath)
		return "", fmt.Errorf("%w: %s: %w", domain.ErrArchive, finalPath, err)
	}

	if err := os.Rename(partialPath, finalPath); err != nil {
		os.Remove(partialPath)
		return "", fmt.Errorf("%w: failed to finalize %s: %w", domain.ErrArchive, finalPath, err)
	}

	logger.Get().Info("archive created", "path", finalPath, "entries", entries)
	return finalPath, nil
}

// write streams the tree into path and returns the number of entries
func (z *ZipArchiver) write(ctx context.Context, sourceDir, path string) (int, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}

	zw := zip.NewWriter(f)
	entries := 0

	walkErr := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == sourceDir {
			return nil
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		// remote servers on macOS hand back decomposed names
		name := norm.NFC.String(filepath.ToSlash(rel))

		info, err := d.Info()
		if err != nil {
			return err
		}

		if d.IsDir() {
			empty, err := isEmptyDir(path)
			if err != nil || !empty {
				return err
			}
			header, err := zip.FileInfoHeader(info)
			if err != nil {
				return err
			}
			header.Name = name + "/"
			if _, err := zw.CreateHeader(header); err != nil {
				return err
			}
			entries++
			return nil
		}

		if !info.Mode().IsRegular() {
			logger.Get().Debug("skipping non-regular file", "path", name)
			return nil
		}

		if err := addFile(zw, path, name, info); err != nil {
			return err
		}
		entries++
		return nil
	})

	closeErr := zw.Close()
	fileErr := f.Close()

	switch {
	case walkErr != nil:
		return 0, walkErr
	case closeErr != nil:
		return 0, closeErr
	case fileErr != nil:
		return 0, fileErr
	}
	return entries, nil
}

func addFile(zw *zip.Writer, path, name string, info fs.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}

	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = io.Copy(w, src)
	return err
}

func isEmptyDir(path string) (bool, error) {
	d, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer d.Close()

	_, err = d.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}
