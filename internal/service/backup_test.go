package service

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/sftparchive/internal/adapter"
	"github.com/Ning0612/sftparchive/internal/adapter/local"
	"github.com/Ning0612/sftparchive/internal/config"
	"github.com/Ning0612/sftparchive/internal/core/checksum"
	"github.com/Ning0612/sftparchive/internal/core/stamp"
	"github.com/Ning0612/sftparchive/internal/domain"
	"github.com/Ning0612/sftparchive/internal/lock"
	"github.com/Ning0612/sftparchive/internal/state"
	"github.com/Ning0612/sftparchive/internal/testutil"
)

type fixture struct {
	cfg     *config.Config
	root    string
	outDir  string
	tempDir string
}

// newFixture lays out a local "remote" with /data = {f1.txt, sub/f2.txt}
func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	testutil.CreateTree(t, root, map[string]string{
		"data/f1.txt":     "hello",
		"data/sub/f2.txt": "world!",
	})

	f := &fixture{
		root:    root,
		outDir:  filepath.Join(t.TempDir(), "archives"),
		tempDir: t.TempDir(),
	}
	f.cfg = &config.Config{
		Source: domain.Source{Type: domain.SourceLocal, Root: root, Dir: "/data"},
		Output: config.OutputConfig{Dir: f.outDir, Prefix: "site", Keep: 3},
		Settings: config.Settings{
			LockDir: f.outDir,
			TempDir: f.tempDir,
		},
	}
	return f
}

// countingFactory opens local adapters and counts open sessions
type countingFactory struct {
	open atomic.Int32
}

type countedAdapter struct {
	adapter.Adapter
	f *countingFactory
}

func (a *countedAdapter) Close() error {
	a.f.open.Add(-1)
	return a.Adapter.Close()
}

func (f *countingFactory) Open(ctx context.Context, src domain.Source) (adapter.Adapter, error) {
	a, err := local.New(src.Root)
	if err != nil {
		return nil, err
	}
	f.open.Add(1)
	return &countedAdapter{Adapter: a, f: f}, nil
}

type failingArchiver struct{}

func (failingArchiver) Archive(ctx context.Context, sourceDir, outputDir, prefix string) (string, error) {
	return "", domain.ErrArchive
}

type panickingArchiver struct{}

func (panickingArchiver) Archive(ctx context.Context, sourceDir, outputDir, prefix string) (string, error) {
	panic("disk on fire")
}

func zipNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func archives(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	for _, name := range testutil.ListNames(t, dir) {
		if strings.HasSuffix(name, ".zip") {
			out = append(out, name)
		}
	}
	return out
}

func TestBackupService_Run(t *testing.T) {
	f := newFixture(t)
	factory := &countingFactory{}

	history, err := state.NewManager(t.TempDir())
	require.NoError(t, err)
	defer history.Close()

	svc, err := NewBackupService(f.cfg, WithFactory(factory), WithHistory(history))
	require.NoError(t, err)

	report, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, report.Status)
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "/data", report.RemoteDir)
	assert.Equal(t, 2, report.Files)
	assert.Equal(t, 2, report.Dirs)
	assert.Equal(t, int64(11), report.Bytes)
	assert.False(t, report.EndTime.Before(report.StartTime))

	require.FileExists(t, report.ArchivePath)
	assert.Equal(t, f.outDir, filepath.Dir(report.ArchivePath))
	name := filepath.Base(report.ArchivePath)
	_, ok := stamp.Parse(name, "site", domain.ArchiveExt)
	assert.True(t, ok, "archive name %s carries a timestamp", name)
	assert.Equal(t, []string{"data/f1.txt", "data/sub/f2.txt"}, zipNames(t, report.ArchivePath))

	sum, err := checksum.File(context.Background(), report.ArchivePath)
	require.NoError(t, err)
	assert.Equal(t, sum, report.Checksum)

	// Every scoped resource is released
	assert.Empty(t, testutil.ListNames(t, f.tempDir))
	assert.Equal(t, int32(0), factory.open.Load())
	assert.False(t, svc.Lock().IsLocked())

	runs, err := history.GetHistory(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.ID, runs[0].ID)
	assert.Equal(t, report.ArchivePath, runs[0].ArchivePath)
	assert.Equal(t, report.Checksum, runs[0].Checksum)
}

func TestBackupService_ListingFailureLeavesNothing(t *testing.T) {
	f := newFixture(t)
	f.cfg.Source.Dir = "/missing"
	factory := &countingFactory{}

	svc, err := NewBackupService(f.cfg, WithFactory(factory))
	require.NoError(t, err)

	report, err := svc.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrListing)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Equal(t, domain.RunFailed, report.Status)
	assert.Contains(t, report.Error, "/missing")
	assert.Empty(t, report.ArchivePath)
	assert.Empty(t, archives(t, f.outDir))
	assert.Empty(t, testutil.ListNames(t, f.tempDir))
	assert.Equal(t, int32(0), factory.open.Load())
	assert.False(t, svc.Lock().IsLocked())
}

func TestBackupService_ArchiveFailureReleasesResources(t *testing.T) {
	f := newFixture(t)
	factory := &countingFactory{}

	svc, err := NewBackupService(f.cfg, WithFactory(factory), WithArchiver(failingArchiver{}))
	require.NoError(t, err)

	report, err := svc.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrArchive)

	assert.Equal(t, domain.RunFailed, report.Status)
	assert.Equal(t, 2, report.Files, "mirror stats survive a later failure")
	assert.Empty(t, archives(t, f.outDir))
	assert.Empty(t, testutil.ListNames(t, f.tempDir))
	assert.Equal(t, int32(0), factory.open.Load())
	assert.False(t, svc.Lock().IsLocked())
}

func TestBackupService_PanicReleasesResources(t *testing.T) {
	f := newFixture(t)
	factory := &countingFactory{}

	svc, err := NewBackupService(f.cfg, WithFactory(factory), WithArchiver(panickingArchiver{}))
	require.NoError(t, err)

	report, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Equal(t, domain.RunFailed, report.Status)
	assert.Empty(t, testutil.ListNames(t, f.tempDir))
	assert.Equal(t, int32(0), factory.open.Load())
	assert.False(t, svc.Lock().IsLocked())
}

func TestBackupService_CancelledContext(t *testing.T) {
	f := newFixture(t)

	svc, err := NewBackupService(f.cfg, WithFactory(&countingFactory{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := svc.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.RunFailed, report.Status)
	assert.Empty(t, testutil.ListNames(t, f.tempDir))
}

func TestBackupService_PrunesOldArchives(t *testing.T) {
	f := newFixture(t)
	f.cfg.Output.Keep = 2

	require.NoError(t, os.MkdirAll(f.outDir, 0755))
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	var old []string
	for i := 0; i < 3; i++ {
		name := stamp.ArchiveName("site", base.AddDate(0, 0, i), domain.ArchiveExt)
		testutil.CreateTestFile(t, f.outDir, name, []byte("old"))
		old = append(old, name)
	}
	// Other prefixes are not ours to prune
	foreign := stamp.ArchiveName("other", base, domain.ArchiveExt)
	testutil.CreateTestFile(t, f.outDir, foreign, nil)

	svc, err := NewBackupService(f.cfg, WithFactory(&countingFactory{}))
	require.NoError(t, err)

	report, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{old[1], old[0]}, report.Pruned)
	assert.Zero(t, report.PruneFailures)
	assert.ElementsMatch(t,
		[]string{filepath.Base(report.ArchivePath), old[2], foreign},
		archives(t, f.outDir))
}

func TestBackupService_KeepZeroPrunesNothing(t *testing.T) {
	f := newFixture(t)
	f.cfg.Output.Keep = 0

	svc, err := NewBackupService(f.cfg, WithFactory(&countingFactory{}))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Run(context.Background())
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	assert.Len(t, archives(t, f.outDir), 3)
}

func TestBackupService_LockHeld(t *testing.T) {
	f := newFixture(t)

	other, err := lock.NewFileLock(f.outDir)
	require.NoError(t, err)
	require.NoError(t, other.Acquire("/elsewhere"))
	defer other.Release()

	factory := &countingFactory{}
	svc, err := NewBackupService(f.cfg, WithFactory(factory))
	require.NoError(t, err)

	report, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.True(t, lock.IsLockError(err))
	assert.Equal(t, domain.RunFailed, report.Status)
	assert.Empty(t, archives(t, f.outDir))
	assert.Equal(t, int32(0), factory.open.Load(), "no session is opened without the lock")
	assert.True(t, other.IsLocked())
}

func TestBackupService_OpenFailure(t *testing.T) {
	f := newFixture(t)
	f.cfg.Source.Root = filepath.Join(f.root, "gone")

	svc, err := NewBackupService(f.cfg)
	require.NoError(t, err)

	report, err := svc.Run(context.Background())
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.RunFailed, report.Status)
	assert.False(t, svc.Lock().IsLocked())
}

func TestBackupService_RootRemoteDir(t *testing.T) {
	f := newFixture(t)
	f.cfg.Source.Dir = "/"

	svc, err := NewBackupService(f.cfg, WithFactory(&countingFactory{}))
	require.NoError(t, err)

	report, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"data/f1.txt", "data/sub/f2.txt"}, zipNames(t, report.ArchivePath))
}

func TestNewBackupService_NilConfig(t *testing.T) {
	_, err := NewBackupService(nil)
	assert.Error(t, err)
}

func TestMirrorDirName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/data", "data"},
		{"/var/www/", "www"},
		{"relative/dir", "dir"},
		{"/", ""},
		{"", ""},
		{"//", ""},
		{"..", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, mirrorDirName(tt.in))
		})
	}
}
