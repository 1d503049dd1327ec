package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Ning0612/sftparchive/internal/domain"
)

// DBFileName is the history database inside the state directory
const DBFileName = "sftparchive.db"

// Manager persists the history of backup runs
type Manager struct {
	db *sql.DB
}

// NewManager opens (creating if needed) the history database in dataDir
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable WAL mode for better concurrency and set busy timeout
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	manager := &Manager{db: db}

	if err := manager.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return manager, nil
}

// migrations bring the database up to date; entry i moves it from
// user_version i to i+1. Append only.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		remote_dir TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		files INTEGER DEFAULT 0,
		dirs INTEGER DEFAULT 0,
		bytes INTEGER DEFAULT 0,
		archive_path TEXT,
		pruned TEXT,
		prune_failures INTEGER DEFAULT 0,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_start ON runs(start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_remote_time ON runs(remote_dir, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);`,

	`ALTER TABLE runs ADD COLUMN checksum TEXT;`,
}

func (m *Manager) initSchema() error {
	var version int
	if err := m.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build supports (%d)", version, len(migrations))
	}

	for v := version; v < len(migrations); v++ {
		tx, err := m.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		// PRAGMA does not take bind parameters
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", v+1, err)
		}
	}
	return nil
}

// SaveRun records a finished run
func (m *Manager) SaveRun(report *domain.RunReport) error {
	if report.ID == "" {
		return fmt.Errorf("run id cannot be empty")
	}
	if report.Status != domain.RunSuccess && report.Status != domain.RunFailed {
		return fmt.Errorf("invalid status: %s (must be 'success' or 'failed')", report.Status)
	}

	pruned, err := json.Marshal(report.Pruned)
	if err != nil {
		return fmt.Errorf("failed to encode pruned archives: %w", err)
	}

	query := `
		INSERT INTO runs (id, remote_dir, start_time, end_time, status, files, dirs, bytes,
			archive_path, checksum, pruned, prune_failures, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = m.db.Exec(query,
		report.ID,
		report.RemoteDir,
		report.StartTime,
		report.EndTime,
		string(report.Status),
		report.Files,
		report.Dirs,
		report.Bytes,
		report.ArchivePath,
		report.Checksum,
		string(pruned),
		report.PruneFailures,
		report.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save run record: %w", err)
	}

	return nil
}

const selectRuns = `
	SELECT id, remote_dir, start_time, end_time, status, files, dirs, bytes,
		archive_path, checksum, pruned, prune_failures, error
	FROM runs
`

// GetHistory returns the most recent runs, newest first
func (m *Manager) GetHistory(limit int) ([]domain.RunReport, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := m.db.Query(selectRuns+`ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// GetRemoteHistory returns the most recent runs of one remote directory, newest first
func (m *Manager) GetRemoteHistory(remoteDir string, limit int) ([]domain.RunReport, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := m.db.Query(selectRuns+`WHERE remote_dir = ? ORDER BY start_time DESC LIMIT ?`, remoteDir, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// GetLastSuccess returns the newest successful run, or nil when there is none
func (m *Manager) GetLastSuccess() (*domain.RunReport, error) {
	rows, err := m.db.Query(selectRuns+`WHERE status = ? ORDER BY start_time DESC LIMIT 1`, string(domain.RunSuccess))
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil // No successful run found
	}
	return &runs[0], nil
}

type scanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRuns(rows scanner) ([]domain.RunReport, error) {
	var runs []domain.RunReport
	for rows.Next() {
		var (
			r           domain.RunReport
			status      string
			archivePath sql.NullString
			checksum    sql.NullString
			pruned      sql.NullString
			errMsg      sql.NullString
		)
		err := rows.Scan(
			&r.ID,
			&r.RemoteDir,
			&r.StartTime,
			&r.EndTime,
			&status,
			&r.Files,
			&r.Dirs,
			&r.Bytes,
			&archivePath,
			&checksum,
			&pruned,
			&r.PruneFailures,
			&errMsg,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		r.Status = domain.RunStatus(status)
		r.ArchivePath = archivePath.String
		r.Checksum = checksum.String
		r.Error = errMsg.String
		if pruned.Valid && pruned.String != "" {
			if err := json.Unmarshal([]byte(pruned.String), &r.Pruned); err != nil {
				return nil, fmt.Errorf("failed to decode pruned archives of run %s: %w", r.ID, err)
			}
		}

		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return runs, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
