// Package mirror copies a remote directory tree into a local directory.
package mirror

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ning0612/sftparchive/internal/adapter"
	"github.com/Ning0612/sftparchive/internal/domain"
	"github.com/Ning0612/sftparchive/internal/logger"
	"github.com/Ning0612/sftparchive/internal/progress"
)

// Stats summarises what a mirror created locally
type Stats struct {
	Files int
	Dirs  int
	Bytes int64
}

// task is one pending unit of work: descend into a directory or fetch a file
type task struct {
	remote string
	local  string
	dir    bool
	size   int64
}

// Walker mirrors a remote tree through an adapter.
// It borrows the adapter and never closes it.
type Walker struct {
	adapter  adapter.Adapter
	reporter progress.Reporter
	stats    Stats
}

// NewWalker creates a walker over an open remote session.
// A nil reporter disables progress reporting.
func NewWalker(a adapter.Adapter, reporter progress.Reporter) *Walker {
	if reporter == nil {
		reporter = progress.Discard
	}
	return &Walker{
		adapter:  a,
		reporter: reporter,
	}
}

// Stats returns the counters of the last Mirror call
func (w *Walker) Stats() Stats {
	return w.stats
}

// Mirror recreates remoteDir under localDir, depth-first, one fetch at a time.
// Any listing or transfer failure aborts the whole mirror; the caller owns
// cleaning up whatever was written before the failure.
func (w *Walker) Mirror(ctx context.Context, remoteDir, localDir string) error {
	w.stats = Stats{}
	log := logger.Get().With("remote", remoteDir)

	// Pending work, popped from the end. Children are pushed in reverse so
	// they are handled in listing order and a subtree finishes before its
	// next sibling starts.
	stack := []task{{remote: remoteDir, local: localDir, dir: true}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !t.dir {
			if err := w.fetch(ctx, t); err != nil {
				return err
			}
			continue
		}

		children, err := w.expand(ctx, t)
		if err != nil {
			return err
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	log.Debug("mirror complete", "files", w.stats.Files, "dirs", w.stats.Dirs, "bytes", w.stats.Bytes)
	return nil
}

// expand lists a remote directory, creates its local counterpart and
// returns the child tasks
func (w *Walker) expand(ctx context.Context, t task) ([]task, error) {
	w.reporter.EnterDir(t.remote)

	entries, err := w.adapter.List(ctx, t.remote)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrListing, t.remote, err)
	}

	children := make([]task, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if err := validateName(e.Name); err != nil {
			return nil, fmt.Errorf("%s: %w", adapter.JoinPath(t.remote, e.Name), err)
		}
		children = append(children, task{
			remote: adapter.JoinPath(t.remote, e.Name),
			local:  filepath.Join(t.local, e.Name),
			dir:    e.IsDir(),
			size:   e.Size,
		})
	}

	if err := os.MkdirAll(t.local, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local directory %s: %w", t.local, err)
	}
	w.stats.Dirs++

	return children, nil
}

// fetch streams one remote file into its local path
func (w *Walker) fetch(ctx context.Context, t task) (err error) {
	w.reporter.Start(t.remote, t.size)
	defer func() {
		if err != nil {
			w.reporter.Error(err)
		}
	}()

	if err := os.MkdirAll(filepath.Dir(t.local), 0755); err != nil {
		return fmt.Errorf("failed to create local directory for %s: %w", t.local, err)
	}

	src, err := w.adapter.Read(ctx, t.remote)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrTransfer, t.remote, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(t.local, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create local file %s: %w", t.local, err)
	}

	n, err := io.Copy(dst, progress.NewReader(src, w.reporter))
	if err != nil {
		dst.Close()
		return fmt.Errorf("%w: %s: %w", domain.ErrTransfer, t.remote, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to write local file %s: %w", t.local, err)
	}

	w.stats.Files++
	w.stats.Bytes += n
	w.reporter.Complete()

	return nil
}

// validateName rejects remote names that cannot be a single local path element
func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", domain.ErrUnsafeName)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", domain.ErrUnsafeName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains NUL", domain.ErrUnsafeName, name)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", domain.ErrUnsafeName, name)
	}
	return nil
}
