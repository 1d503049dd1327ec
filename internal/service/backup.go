package service

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ning0612/sftparchive/internal/adapter"
	"github.com/Ning0612/sftparchive/internal/adapter/factory"
	"github.com/Ning0612/sftparchive/internal/config"
	"github.com/Ning0612/sftparchive/internal/core/archive"
	"github.com/Ning0612/sftparchive/internal/core/checksum"
	"github.com/Ning0612/sftparchive/internal/core/mirror"
	"github.com/Ning0612/sftparchive/internal/core/retention"
	"github.com/Ning0612/sftparchive/internal/domain"
	"github.com/Ning0612/sftparchive/internal/lock"
	"github.com/Ning0612/sftparchive/internal/logger"
	"github.com/Ning0612/sftparchive/internal/metrics"
	"github.com/Ning0612/sftparchive/internal/progress"
	"github.com/Ning0612/sftparchive/internal/state"
)

// tempPattern names the scoped directory each run mirrors into
const tempPattern = "sftparchive-"

// BackupService orchestrates one mirror, archive and prune cycle
type BackupService struct {
	config    *config.Config
	factory   adapter.Factory
	archiver  archive.Archiver
	retention *retention.Manager
	lock      *lock.FileLock
	history   *state.Manager
	reporter  progress.Reporter
	newID     func() string
}

// Option customises a BackupService
type Option func(*BackupService)

// WithFactory replaces the adapter factory
func WithFactory(f adapter.Factory) Option {
	return func(s *BackupService) { s.factory = f }
}

// WithArchiver replaces the zip archiver
func WithArchiver(a archive.Archiver) Option {
	return func(s *BackupService) { s.archiver = a }
}

// WithHistory records every run in the given state manager.
// The service does not close it.
func WithHistory(m *state.Manager) Option {
	return func(s *BackupService) { s.history = m }
}

// WithReporter attaches a progress reporter to the mirror step
func WithReporter(r progress.Reporter) Option {
	return func(s *BackupService) { s.reporter = r }
}

// NewBackupService creates a backup service for cfg
func NewBackupService(cfg *config.Config, opts ...Option) (*BackupService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	fileLock, err := lock.NewFileLock(cfg.Settings.LockDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create file lock: %w", err)
	}

	s := &BackupService{
		config:    cfg,
		factory:   factory.Default{},
		archiver:  archive.NewZipArchiver(),
		retention: retention.NewManager(),
		lock:      fileLock,
		reporter:  progress.Discard,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Lock exposes the run lock for inspection and forced release
func (s *BackupService) Lock() *lock.FileLock {
	return s.lock
}

// Run performs one backup: lock, open the remote session, mirror the remote
// directory into a fresh temporary directory, archive it and prune old
// archives. The session, the temporary directory and the lock are released
// on every exit path. The report is returned even when the run fails.
func (s *BackupService) Run(ctx context.Context) (report *domain.RunReport, err error) {
	src := s.config.Source
	report = &domain.RunReport{
		ID:        s.newID(),
		RemoteDir: src.Dir,
		StartTime: time.Now(),
	}
	log := logger.Get().With("run", report.ID, "remote", src.Dir)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backup aborted: %v", r)
		}
		s.finish(report, err, log)
	}()

	if err := s.lock.Acquire(src.Dir); err != nil {
		return report, err
	}
	defer func() {
		if rerr := s.lock.Release(); rerr != nil {
			log.Warn("failed to release lock", "error", rerr)
		}
	}()

	session, err := s.factory.Open(ctx, src)
	if err != nil {
		return report, err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn("failed to close remote session", "error", cerr)
		}
	}()

	tmpDir, err := os.MkdirTemp(s.config.Settings.TempDir, tempPattern)
	if err != nil {
		return report, fmt.Errorf("failed to create temporary directory: %w", err)
	}
	defer func() {
		if rerr := os.RemoveAll(tmpDir); rerr != nil {
			log.Warn("failed to remove temporary directory", "path", tmpDir, "error", rerr)
		}
	}()

	target := filepath.Join(tmpDir, mirrorDirName(src.Dir))
	log.Info("mirroring remote directory", "target", target)

	walker := mirror.NewWalker(session, s.reporter)
	err = walker.Mirror(ctx, src.Dir, target)
	stats := walker.Stats()
	report.Files, report.Dirs, report.Bytes = stats.Files, stats.Dirs, stats.Bytes
	if err != nil {
		return report, err
	}

	archivePath, err := s.archiver.Archive(ctx, tmpDir, s.config.Output.Dir, s.config.Output.Prefix)
	if err != nil {
		return report, err
	}
	report.ArchivePath = archivePath

	// A digest failure leaves a usable archive behind; it does not fail the run
	if sum, cerr := checksum.File(ctx, archivePath); cerr != nil {
		log.Warn("failed to checksum archive", "archive", archivePath, "error", cerr)
	} else {
		report.Checksum = sum
	}

	result, err := s.retention.Prune(ctx, s.config.Output.Dir, s.config.Output.Policy())
	if result != nil {
		report.Pruned = result.Removed
		report.PruneFailures = len(result.Failures)
	}
	if err != nil {
		return report, fmt.Errorf("failed to prune %s: %w", s.config.Output.Dir, err)
	}

	return report, nil
}

// finish stamps the outcome and records it in metrics and history
func (s *BackupService) finish(report *domain.RunReport, err error, log logger.Logger) {
	report.EndTime = time.Now()
	if err != nil {
		report.Status = domain.RunFailed
		report.Error = err.Error()
		log.Error("backup failed", "error", err, "duration", report.Duration())
	} else {
		report.Status = domain.RunSuccess
		log.Info("backup complete",
			"archive", report.ArchivePath,
			"sha256", report.Checksum,
			"files", report.Files,
			"dirs", report.Dirs,
			"bytes", progress.FormatBytes(report.Bytes),
			"pruned", len(report.Pruned),
			"duration", report.Duration())
	}

	metrics.RecordRun(report)

	if s.history != nil {
		if herr := s.history.SaveRun(report); herr != nil {
			log.Warn("failed to record run history", "error", herr)
		}
	}
}

// mirrorDirName is the directory inside the archive that holds the mirror:
// the last element of remoteDir. Paths without one, like "/", mirror
// straight into the archive root.
func mirrorDirName(remoteDir string) string {
	switch name := path.Base(strings.TrimRight(remoteDir, "/")); name {
	case ".", "..", "/":
		return ""
	default:
		return name
	}
}
