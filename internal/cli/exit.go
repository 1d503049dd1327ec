package cli

import (
	"errors"
	"fmt"

	"github.com/Ning0612/sftparchive/internal/domain"
	"github.com/Ning0612/sftparchive/internal/lock"
)

// Exit codes for CLI commands.
const (
	ExitSuccess     = 0 // Successful run
	ExitFailure     = 1 // Run failed (remote, archive or prune error)
	ExitConfigError = 2 // Configuration missing or invalid
	ExitLocked      = 3 // Another run holds the lock
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps an error returned by a command to the process exit code.
// Errors without an explicit code are classified by what they wrap.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	switch {
	case errors.Is(err, domain.ErrConfigInvalid), errors.Is(err, domain.ErrConfigNotFound):
		return ExitConfigError
	case lock.IsLockError(err):
		return ExitLocked
	default:
		return ExitFailure
	}
}
