package state

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ning0612/sftparchive/internal/domain"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { manager.Close() })
	return manager
}

func run(id, remoteDir string, start time.Time, status domain.RunStatus) *domain.RunReport {
	return &domain.RunReport{
		ID:        id,
		RemoteDir: remoteDir,
		StartTime: start,
		EndTime:   start.Add(time.Minute),
		Status:    status,
	}
}

func TestNewManager(t *testing.T) {
	tmpDir := t.TempDir()

	manager, err := NewManager(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	defer manager.Close()

	if manager.db == nil {
		t.Error("Database connection is nil")
	}

	// Verify database file was created
	dbPath := filepath.Join(tmpDir, DBFileName)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNewManager_EmptyDir(t *testing.T) {
	_, err := NewManager("")
	if err == nil {
		t.Error("Expected error for empty directory, got nil")
	}
}

func TestNewManager_Reopen(t *testing.T) {
	tmpDir := t.TempDir()

	first, err := NewManager(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	if err := first.SaveRun(run("r1", "/data", time.Now(), domain.RunSuccess)); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}
	first.Close()

	second, err := NewManager(tmpDir)
	if err != nil {
		t.Fatalf("Failed to reopen manager: %v", err)
	}
	defer second.Close()

	history, err := second.GetHistory(10)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("Expected history to survive reopen, got %d records", len(history))
	}
}

func TestSaveAndGetRun(t *testing.T) {
	manager := newTestManager(t)

	start := time.Now().Add(-10 * time.Minute).UTC().Truncate(time.Second)
	report := &domain.RunReport{
		ID:            "run-1",
		RemoteDir:     "/var/www",
		StartTime:     start,
		EndTime:       start.Add(2 * time.Minute),
		Status:        domain.RunSuccess,
		Files:         10,
		Dirs:          3,
		Bytes:         1024,
		ArchivePath:   "/backups/site_2024-01-01T00-00-00.000000Z.zip",
		Checksum:      "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		Pruned:        []string{"site_old1.zip", "site_old2.zip"},
		PruneFailures: 1,
	}

	if err := manager.SaveRun(report); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}

	history, err := manager.GetHistory(10)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(history))
	}

	got := history[0]
	if got.ID != report.ID {
		t.Errorf("Expected id %s, got %s", report.ID, got.ID)
	}
	if got.RemoteDir != report.RemoteDir {
		t.Errorf("Expected remote dir %s, got %s", report.RemoteDir, got.RemoteDir)
	}
	if got.Status != report.Status {
		t.Errorf("Expected status %s, got %s", report.Status, got.Status)
	}
	if got.Files != report.Files || got.Dirs != report.Dirs || got.Bytes != report.Bytes {
		t.Errorf("Expected stats %d/%d/%d, got %d/%d/%d",
			report.Files, report.Dirs, report.Bytes, got.Files, got.Dirs, got.Bytes)
	}
	if got.ArchivePath != report.ArchivePath {
		t.Errorf("Expected archive path %s, got %s", report.ArchivePath, got.ArchivePath)
	}
	if got.Checksum != report.Checksum {
		t.Errorf("Expected checksum %s, got %s", report.Checksum, got.Checksum)
	}
	if len(got.Pruned) != 2 || got.Pruned[0] != "site_old1.zip" || got.Pruned[1] != "site_old2.zip" {
		t.Errorf("Unexpected pruned list: %v", got.Pruned)
	}
	if got.PruneFailures != 1 {
		t.Errorf("Expected 1 prune failure, got %d", got.PruneFailures)
	}
	if !got.StartTime.Equal(report.StartTime) {
		t.Errorf("Expected start %v, got %v", report.StartTime, got.StartTime)
	}
	if got.Duration() != 2*time.Minute {
		t.Errorf("Expected duration 2m, got %v", got.Duration())
	}
}

func TestSaveRun_FailedWithError(t *testing.T) {
	manager := newTestManager(t)

	report := run("run-failed", "/data", time.Now(), domain.RunFailed)
	report.Error = "listing failed: /data: connection lost"

	if err := manager.SaveRun(report); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}

	history, err := manager.GetHistory(1)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if history[0].Error != report.Error {
		t.Errorf("Expected error %q, got %q", report.Error, history[0].Error)
	}
	if history[0].ArchivePath != "" {
		t.Errorf("Expected empty archive path, got %q", history[0].ArchivePath)
	}
	if len(history[0].Pruned) != 0 {
		t.Errorf("Expected no pruned archives, got %v", history[0].Pruned)
	}
}

func TestGetLastSuccess(t *testing.T) {
	manager := newTestManager(t)

	now := time.Now()
	records := []*domain.RunReport{
		run("a", "/data", now.Add(-30*time.Minute), domain.RunSuccess),
		run("b", "/data", now.Add(-20*time.Minute), domain.RunFailed),
		run("c", "/data", now.Add(-10*time.Minute), domain.RunSuccess),
		run("d", "/data", now.Add(-5*time.Minute), domain.RunFailed),
	}
	for _, r := range records {
		if err := manager.SaveRun(r); err != nil {
			t.Fatalf("Failed to save run: %v", err)
		}
	}

	last, err := manager.GetLastSuccess()
	if err != nil {
		t.Fatalf("Failed to get last success: %v", err)
	}
	if last == nil {
		t.Fatal("Expected last success record, got nil")
	}
	if last.ID != "c" {
		t.Errorf("Expected last success to be run c, got %s", last.ID)
	}
}

func TestGetLastSuccess_NoSuccess(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.SaveRun(run("x", "/data", time.Now(), domain.RunFailed)); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}

	last, err := manager.GetLastSuccess()
	if err != nil {
		t.Fatalf("Failed to get last success: %v", err)
	}
	if last != nil {
		t.Errorf("Expected nil for no successful run, got %+v", last)
	}
}

func TestGetHistory_NewestFirstWithLimit(t *testing.T) {
	manager := newTestManager(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		r := run(string(rune('a'+i)), "/data", base.Add(time.Duration(i)*time.Minute), domain.RunSuccess)
		if err := manager.SaveRun(r); err != nil {
			t.Fatalf("Failed to save run: %v", err)
		}
	}

	history, err := manager.GetHistory(5)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("Expected 5 records (limited), got %d", len(history))
	}
	if history[0].ID != "j" {
		t.Errorf("Expected newest run j first, got %s", history[0].ID)
	}
	for i := 1; i < len(history); i++ {
		if history[i].StartTime.After(history[i-1].StartTime) {
			t.Errorf("History not sorted newest first at index %d", i)
		}
	}
}

func TestGetRemoteHistory(t *testing.T) {
	manager := newTestManager(t)

	now := time.Now()
	for _, r := range []*domain.RunReport{
		run("w1", "/var/www", now.Add(-3*time.Minute), domain.RunSuccess),
		run("d1", "/data", now.Add(-2*time.Minute), domain.RunSuccess),
		run("w2", "/var/www", now.Add(-1*time.Minute), domain.RunFailed),
	} {
		if err := manager.SaveRun(r); err != nil {
			t.Fatalf("Failed to save run: %v", err)
		}
	}

	history, err := manager.GetRemoteHistory("/var/www", 10)
	if err != nil {
		t.Fatalf("Failed to get history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(history))
	}
	if history[0].ID != "w2" || history[1].ID != "w1" {
		t.Errorf("Unexpected order: %s, %s", history[0].ID, history[1].ID)
	}
}

func TestSaveRun_Invalid(t *testing.T) {
	manager := newTestManager(t)

	tests := []struct {
		name   string
		report *domain.RunReport
	}{
		{"invalid status", run("x", "/data", time.Now(), "pending")},
		{"empty id", run("", "/data", time.Now(), domain.RunSuccess)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := manager.SaveRun(tt.report); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestSaveRun_DuplicateID(t *testing.T) {
	manager := newTestManager(t)

	r := run("same", "/data", time.Now(), domain.RunSuccess)
	if err := manager.SaveRun(r); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}
	if err := manager.SaveRun(r); err == nil {
		t.Error("Expected error for duplicate run id, got nil")
	}
}

func TestGetHistory_InvalidLimit(t *testing.T) {
	manager := newTestManager(t)

	for _, limit := range []int{0, -1} {
		if _, err := manager.GetHistory(limit); err == nil {
			t.Errorf("Expected error for limit %d, got nil", limit)
		}
		if _, err := manager.GetRemoteHistory("/data", limit); err == nil {
			t.Errorf("Expected error for remote history limit %d, got nil", limit)
		}
	}
}

func TestNewManager_MigratesOldSchema(t *testing.T) {
	dir := t.TempDir()

	// A database written before archive checksums were recorded
	db, err := sql.Open("sqlite3", filepath.Join(dir, DBFileName))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(migrations[0] + "PRAGMA user_version = 1;"); err != nil {
		t.Fatalf("Failed to create old schema: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO runs (id, remote_dir, start_time, end_time, status)
		VALUES ('old', '/data', ?, ?, 'success')`, time.Now(), time.Now()); err != nil {
		t.Fatal(err)
	}
	db.Close()

	manager, err := NewManager(dir)
	if err != nil {
		t.Fatalf("Failed to open old database: %v", err)
	}
	defer manager.Close()

	history, err := manager.GetHistory(10)
	if err != nil || len(history) != 1 {
		t.Fatalf("Failed to read pre-migration run: %v (%d runs)", err, len(history))
	}
	if history[0].ID != "old" || history[0].Checksum != "" {
		t.Errorf("Unexpected pre-migration run: %+v", history[0])
	}

	r := run("new", "/data", time.Now(), domain.RunSuccess)
	r.Checksum = "abc123"
	if err := manager.SaveRun(r); err != nil {
		t.Fatalf("Failed to save run after migration: %v", err)
	}

	var version int
	if err := manager.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != len(migrations) {
		t.Errorf("Expected schema version %d, got %d", len(migrations), version)
	}
}

func TestNewManager_NewerSchema(t *testing.T) {
	dir := t.TempDir()

	db, err := sql.Open("sqlite3", filepath.Join(dir, DBFileName))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	if _, err := NewManager(dir); err == nil {
		t.Error("Expected an error for a database from a newer build")
	}
}
