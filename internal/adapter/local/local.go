// Package local serves a directory on this machine as a remote session, for
// archiving mounted shares and for tests.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ning0612/sftparchive/internal/adapter"
	"github.com/Ning0612/sftparchive/internal/domain"
)

// Adapter reads a directory tree through an os.Root, so neither ".." nor
// symlinks can reach outside it. Paths are slash-separated and relative to
// the root; a leading "/" is ignored.
type Adapter struct {
	dir  string
	root *os.Root
}

var _ adapter.Adapter = (*Adapter)(nil)

// New opens dir, which must be an existing directory
func New(dir string) (*Adapter, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, mapError(err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotDirectory, abs)
	}

	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, mapError(err)
	}
	return &Adapter{dir: abs, root: root}, nil
}

// Root returns the absolute directory served
func (a *Adapter) Root() string {
	return a.dir
}

// local converts a session path to a name inside the root
func local(p string) (string, error) {
	name := strings.TrimLeft(p, "/")
	if name == "" {
		return ".", nil
	}
	name = filepath.FromSlash(name)
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %s escapes the source root", domain.ErrPermissionDenied, p)
	}
	return filepath.Clean(name), nil
}

// List returns the entries directly under p
func (a *Adapter) List(ctx context.Context, p string) ([]domain.FileInfo, error) {
	name, err := local(p)
	if err != nil {
		return nil, err
	}

	f, err := a.root.Open(name)
	if err != nil {
		return nil, mapError(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, mapError(err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotDirectory, p)
	}

	dirEntries, err := f.ReadDir(-1)
	if err != nil {
		return nil, mapError(err)
	}

	entries := make([]domain.FileInfo, 0, len(dirEntries))
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := de.Info()
		if err != nil {
			return nil, mapError(err)
		}
		entries = append(entries, toFileInfo(adapter.JoinPath(p, de.Name()), info))
	}
	return entries, nil
}

// Read opens the regular file at p
func (a *Adapter) Read(ctx context.Context, p string) (io.ReadCloser, error) {
	name, err := local(p)
	if err != nil {
		return nil, err
	}

	f, err := a.root.Open(name)
	if err != nil {
		return nil, mapError(err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, mapError(err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFile, p)
	}
	return f, nil
}

// Stat describes p without following a final symlink
func (a *Adapter) Stat(ctx context.Context, p string) (domain.FileInfo, error) {
	name, err := local(p)
	if err != nil {
		return domain.FileInfo{}, err
	}

	info, err := a.root.Lstat(name)
	if err != nil {
		return domain.FileInfo{}, mapError(err)
	}
	return toFileInfo(p, info), nil
}

// Close releases the root directory handle
func (a *Adapter) Close() error {
	return a.root.Close()
}

func toFileInfo(p string, info fs.FileInfo) domain.FileInfo {
	fi := domain.FileInfo{
		Name:    info.Name(),
		Path:    p,
		Type:    domain.FileTypeRegular,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	switch {
	case info.IsDir():
		fi.Type = domain.FileTypeDirectory
	case info.Mode()&fs.ModeSymlink != 0:
		fi.Type = domain.FileTypeSymlink
	}
	return fi
}

// mapError classifies filesystem errors, keeping the cause
func mapError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	default:
		return err
	}
}
