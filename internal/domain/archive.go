package domain

import "time"

// ArchiveExt is the extension of every archive this tool writes
const ArchiveExt = "zip"

// ArchiveFile is a candidate considered by retention
type ArchiveFile struct {
	// Name is the file name inside Dir
	Name string

	// Dir is the directory holding the archive
	Dir string

	// SortKey ranks archives newest first
	SortKey time.Time

	// FromName is true when SortKey was parsed out of Name rather than taken from mtime
	FromName bool
}

// RetentionPolicy decides how many archives survive a prune
type RetentionPolicy struct {
	// Prefix restricts candidates to names starting with it (empty = all archives)
	Prefix string

	// Keep is the number of newest archives to keep; Keep <= 0 disables pruning
	Keep int

	// DryRun plans deletions without removing anything
	DryRun bool
}

// Enabled reports whether the policy deletes anything at all
func (p RetentionPolicy) Enabled() bool {
	return p.Keep > 0
}
