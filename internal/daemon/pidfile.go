// Package daemon keeps the PID file that lets `daemon stop` and
// `daemon status` find a running daemon.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Ning0612/sftparchive/internal/proc"
)

// PIDFileName is the daemon PID file inside the state directory
const PIDFileName = "daemon.pid"

// ErrAlreadyRunning is returned by Write when a live daemon owns the PID file
var ErrAlreadyRunning = errors.New("daemon is already running")

// PIDFile is the file holding the PID of the running daemon
type PIDFile struct {
	path string
}

func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// PIDPath returns the PID file location for stateDir, creating the directory
func PIDPath(stateDir string) (string, error) {
	if stateDir == "" {
		return "", errors.New("state directory cannot be empty")
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return filepath.Join(stateDir, PIDFileName), nil
}

func (p *PIDFile) Path() string {
	return p.path
}

// Write claims the file for this process. A file naming a dead process, or
// no process at all, is replaced; one naming a live process is not.
func (p *PIDFile) Write() error {
	for range 2 {
		err := p.create()
		if !errors.Is(err, fs.ErrExist) {
			return err
		}
		if pid, ok := p.Running(); ok {
			return fmt.Errorf("%w as PID %d (%s)", ErrAlreadyRunning, pid, p.path)
		}
		if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove stale PID file: %w", err)
		}
	}
	return fmt.Errorf("%w: %s was re-created concurrently", ErrAlreadyRunning, p.path)
}

func (p *PIDFile) create() error {
	f, err := os.OpenFile(p.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	_, werr := fmt.Fprintln(f, os.Getpid())
	if err := errors.Join(werr, f.Close()); err != nil {
		os.Remove(p.path)
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Read returns the recorded PID; a missing file yields an error wrapping
// fs.ErrNotExist
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	s := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s: %q", p.path, s)
	}
	return pid, nil
}

// Running returns the recorded PID and whether that process is alive
func (p *PIDFile) Running() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	return pid, proc.Alive(pid)
}

// Remove deletes the file if it still names this process, so a daemon that
// lost its file to a newer one leaves the newer one alone
func (p *PIDFile) Remove() error {
	pid, err := p.Read()
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil && !proc.Self(pid) {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// Kill asks the recorded daemon to shut down
func (p *PIDFile) Kill() error {
	pid, err := p.Read()
	if err != nil {
		return err
	}
	if proc.Self(pid) {
		return fmt.Errorf("refusing to signal own process %d", pid)
	}
	return proc.Terminate(pid)
}
