// Package lock keeps two runs from writing and pruning the same archive
// directory at once. The lock is a JSON file naming its holder, created
// with O_EXCL next to the archives.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/Ning0612/sftparchive/internal/proc"
)

const (
	// LockFileName is the name of the lock file inside the locked directory
	LockFileName = ".sftparchive.lock"
	// DefaultStaleTimeout is how old a lock taken on another host must be before it is ignored
	DefaultStaleTimeout = 6 * time.Hour

	// unreadableGrace is how long an unparsable lock file is assumed to be
	// mid-write by its creator
	unreadableGrace = 10 * time.Second
)

// ErrStale is returned by GetHolder when the recorded holder is gone
var ErrStale = errors.New("lock is stale")

// Holder describes the process holding the lock
type Holder struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartTime time.Time `json:"start_time"`
	// Job is the remote directory being archived
	Job string `json:"job,omitempty"`
}

// FileLock is one process's handle on a directory lock
type FileLock struct {
	path         string
	staleTimeout time.Duration
	held         *Holder
}

// NewFileLock creates a lock for dir, creating dir if needed
func NewFileLock(dir string) (*FileLock, error) {
	if dir == "" {
		return nil, fmt.Errorf("lock directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	return &FileLock{
		path:         filepath.Join(dir, LockFileName),
		staleTimeout: DefaultStaleTimeout,
	}, nil
}

// SetStaleTimeout sets how old a lock from another host must be to count as stale
func (l *FileLock) SetStaleTimeout(d time.Duration) {
	l.staleTimeout = d
}

// Path returns the lock file location
func (l *FileLock) Path() string {
	return l.path
}

// Acquire takes the lock for job. Locks left by dead processes, or by
// another host longer ago than the stale timeout, are taken over. Calling
// Acquire again on a held lock only updates the job.
func (l *FileLock) Acquire(job string) error {
	if l.held != nil {
		if current, err := l.read(); err == nil && l.owns(current) {
			current.Job = job
			if err := l.write(current); err != nil {
				return err
			}
			l.held.Job = job
			return nil
		}
		l.held = nil
	}

	hostname, _ := os.Hostname()
	h := &Holder{
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartTime: time.Now(),
		Job:       job,
	}

	// One retry after removing a stale lock
	for attempt := 0; attempt < 2; attempt++ {
		err := l.create(h)
		if err == nil {
			l.held = h
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return err
		}

		current, rerr := l.read()
		switch {
		case errors.Is(rerr, fs.ErrNotExist):
			continue
		case rerr == nil && !l.stale(current):
			return &LockError{Holder: current, Reason: "lock is held by another run"}
		case rerr != nil && l.recent():
			return &LockError{Reason: "lock is being taken by another run"}
		}
		// Dead holder or an unreadable file from a crash mid-write
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	return &LockError{Reason: "lock re-created concurrently"}
}

// Release gives up the lock. Releasing a lock that is not held is a no-op;
// a lock file now owned by someone else is left alone and reported.
func (l *FileLock) Release() error {
	if l.held == nil {
		return nil
	}
	defer func() { l.held = nil }()

	current, err := l.read()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil || !l.owns(current) {
		return fmt.Errorf("lock at %s was taken over by another process", l.path)
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// IsLocked reports whether a live holder has the lock
func (l *FileLock) IsLocked() bool {
	current, err := l.read()
	return err == nil && !l.stale(current)
}

// GetHolder returns the live holder of the lock. It fails with
// fs.ErrNotExist when there is no lock and ErrStale when its holder is gone.
func (l *FileLock) GetHolder() (*Holder, error) {
	current, err := l.read()
	if err != nil {
		return nil, err
	}
	if l.stale(current) {
		return current, ErrStale
	}
	return current, nil
}

// ForceRelease removes the lock file whoever holds it
func (l *FileLock) ForceRelease() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to force remove lock: %w", err)
	}
	l.held = nil
	return nil
}

func (l *FileLock) create(h *Holder) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return err
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	werr := enc.Encode(h)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(l.path)
		return fmt.Errorf("failed to write lock file: %w", errors.Join(werr, cerr))
	}
	return nil
}

func (l *FileLock) read() (*Holder, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}

	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("invalid lock file %s: %w", l.path, err)
	}
	return &h, nil
}

func (l *FileLock) write(h *Holder) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, data, 0644)
}

// stale reports whether h no longer holds the lock. On this host that means
// its process is gone; for other hosts only age can tell.
func (l *FileLock) stale(h *Holder) bool {
	hostname, _ := os.Hostname()
	if h.Hostname == hostname {
		return !proc.Alive(h.PID)
	}
	return time.Since(h.StartTime) > l.staleTimeout
}

// recent reports whether the lock file was modified within unreadableGrace
func (l *FileLock) recent() bool {
	info, err := os.Stat(l.path)
	return err == nil && time.Since(info.ModTime()) < unreadableGrace
}

// owns reports whether h is the holder this handle wrote
func (l *FileLock) owns(h *Holder) bool {
	hostname, _ := os.Hostname()
	return l.held != nil &&
		proc.Self(h.PID) &&
		h.Hostname == hostname &&
		h.StartTime.Equal(l.held.StartTime)
}

// LockError reports that the lock is held by someone else
type LockError struct {
	Holder *Holder
	Reason string
}

func (e *LockError) Error() string {
	if e.Holder == nil {
		return fmt.Sprintf("cannot acquire lock: %s", e.Reason)
	}
	return fmt.Sprintf("cannot acquire lock: %s (PID %d on %s since %s, job %s)",
		e.Reason,
		e.Holder.PID,
		e.Holder.Hostname,
		e.Holder.StartTime.Format(time.RFC3339),
		e.Holder.Job,
	)
}

// IsLockError checks if an error is, or wraps, a LockError
func IsLockError(err error) bool {
	var lockErr *LockError
	return errors.As(err, &lockErr)
}
