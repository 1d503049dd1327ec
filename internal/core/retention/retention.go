// Package retention keeps the newest archives in a directory and deletes the rest.
package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Ning0612/sftparchive/internal/core/stamp"
	"github.com/Ning0612/sftparchive/internal/domain"
	"github.com/Ning0612/sftparchive/internal/logger"
)

// Failure is an archive that could not be removed. It does not stop the prune.
type Failure struct {
	Name string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("failed to remove %s: %v", f.Name, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Result describes one prune pass
type Result struct {
	// Removed lists deleted archive names in deletion order (planned names on dry run)
	Removed []string

	// Kept lists surviving archive names, newest first
	Kept []string

	// Failures lists archives that should have been removed but were not
	Failures []Failure
}

// Manager applies retention policies to archive directories
type Manager struct {
	remove func(path string) error
}

// NewManager creates a retention manager that deletes from the local filesystem
func NewManager() *Manager {
	return &Manager{remove: os.Remove}
}

// Prune keeps the policy.Keep newest archives in dir and removes the others.
// A non-positive Keep never deletes anything, and a missing dir is not an error.
func (m *Manager) Prune(ctx context.Context, dir string, policy domain.RetentionPolicy) (*Result, error) {
	result := &Result{}
	if !policy.Enabled() {
		return result, nil
	}

	candidates, err := Candidates(dir, policy.Prefix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return result, nil
		}
		return nil, err
	}

	if len(candidates) <= policy.Keep {
		result.Kept = names(candidates)
		return result, nil
	}

	result.Kept = names(candidates[:policy.Keep])
	log := logger.Get().With("dir", dir)

	for _, c := range candidates[policy.Keep:] {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if policy.DryRun {
			log.Info("would remove archive", "name", c.Name)
			result.Removed = append(result.Removed, c.Name)
			continue
		}

		if err := m.remove(filepath.Join(c.Dir, c.Name)); err != nil {
			log.Warn("failed to remove archive", "name", c.Name, "error", err)
			result.Failures = append(result.Failures, Failure{Name: c.Name, Err: err})
			continue
		}
		log.Info("removed archive", "name", c.Name)
		result.Removed = append(result.Removed, c.Name)
	}

	return result, nil
}

// Candidates lists the archives in dir that a policy with prefix applies to,
// newest first. Equal sort keys keep their listing order. Symlinks to regular
// files count as archives; pruning one removes the link.
func Candidates(dir, prefix string) ([]domain.ArchiveFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	ext := "." + domain.ArchiveExt
	var candidates []domain.ArchiveFile
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ext) {
			continue
		}
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		info, ok := regularFile(dir, e)
		if !ok {
			continue
		}
		candidates = append(candidates, archiveFile(dir, name, prefix, info))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].SortKey.After(candidates[j].SortKey)
	})

	return candidates, nil
}

// regularFile reports whether e is a regular file, following a symlink to
// its target. The info is nil when the entry vanished after the listing.
func regularFile(dir string, e fs.DirEntry) (fs.FileInfo, bool) {
	if e.Type()&fs.ModeSymlink != 0 {
		info, err := os.Stat(filepath.Join(dir, e.Name()))
		if err != nil || !info.Mode().IsRegular() {
			return nil, false
		}
		return info, true
	}
	if !e.Type().IsRegular() {
		return nil, false
	}
	info, err := e.Info()
	if err != nil {
		return nil, true
	}
	return info, true
}

// archiveFile resolves a candidate's sort key: the timestamp in its name,
// else its modification time, else the zero time so it sorts oldest.
func archiveFile(dir, name, prefix string, info fs.FileInfo) domain.ArchiveFile {
	af := domain.ArchiveFile{Name: name, Dir: dir}

	if t, ok := stamp.Parse(name, prefix, domain.ArchiveExt); ok {
		af.SortKey = t
		af.FromName = true
		return af
	}

	if info != nil {
		af.SortKey = info.ModTime()
	} else {
		af.SortKey = time.Time{}
	}
	return af
}

func names(files []domain.ArchiveFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Name
	}
	return out
}
