package domain

import "time"

// RunStatus is the outcome of one backup run
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// RunReport summarises one mirror, archive and prune cycle
type RunReport struct {
	// ID uniquely identifies the run in logs and history
	ID string

	RemoteDir string
	StartTime time.Time
	EndTime   time.Time
	Status    RunStatus

	// Mirror statistics
	Files int
	Dirs  int
	Bytes int64

	// ArchivePath is empty when the run failed before archiving
	ArchivePath string
	// Checksum is the hex SHA-256 of the archive
	Checksum string

	// Pruned lists archive names removed by retention
	Pruned []string

	// PruneFailures counts archives retention could not remove
	PruneFailures int

	// Error is the failure message for failed runs
	Error string
}

// Duration returns how long the run took
func (r *RunReport) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
