// Package logger holds the process-wide structured logger. Records go
// through log/slog to stderr and, optionally, a lumberjack-rotated file,
// with credentials masked on the way.
package logger

import (
	"errors"
	"fmt"
	"sync"
)

var (
	mu      sync.RWMutex
	current Logger
)

// Init installs the global logger. It fails if one is already installed;
// call Shutdown first to replace it.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return errors.New("logger already initialized")
	}

	l, err := newSlogLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	current = l
	return nil
}

// Get returns the global logger, or one that discards everything before Init
func Get() Logger {
	mu.RLock()
	defer mu.RUnlock()

	if current == nil {
		return nopLogger{}
	}
	return current
}

// With returns a child of the global logger carrying args
func With(args ...any) Logger {
	return Get().With(args...)
}

// Sync flushes the global logger
func Sync() error {
	return Get().Sync()
}

// Shutdown uninstalls the global logger and closes its log file. Calling it
// without a logger installed is a no-op.
func Shutdown() error {
	mu.Lock()
	l := current
	current = nil
	mu.Unlock()

	if l == nil {
		return nil
	}
	return l.Shutdown()
}
