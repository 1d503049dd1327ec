package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// slogLogger sanitizes every record before handing it to log/slog. The
// root logger owns the rotated file; children made by With own nothing.
type slogLogger struct {
	log     *slog.Logger
	clean   *Sanitizer
	closers []io.Closer
}

func newSlogLogger(cfg Config) (*slogLogger, error) {
	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}
	outputs := []io.Writer{console}

	var closers []io.Closer
	if cfg.File.Enabled {
		file, err := openLogFile(cfg.File)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, file)
		closers = append(closers, file)
	}

	w := io.MultiWriter(outputs...)
	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel()}

	var handler slog.Handler
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &slogLogger{
		log:     slog.New(handler),
		clean:   NewSanitizer(),
		closers: closers,
	}, nil
}

// openLogFile prepares a lumberjack writer; rotation happens on write
func openLogFile(cfg FileConfig) (*lumberjack.Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("log file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}, nil
}

func (s *slogLogger) emit(level Level, msg string, args []any) {
	ctx := context.Background()
	lvl := level.slogLevel()
	if !s.log.Enabled(ctx, lvl) {
		return
	}
	s.log.Log(ctx, lvl, s.clean.Sanitize(msg), s.clean.SanitizeArgs(args)...)
}

func (s *slogLogger) Debug(msg string, args ...any) { s.emit(LevelDebug, msg, args) }
func (s *slogLogger) Info(msg string, args ...any)  { s.emit(LevelInfo, msg, args) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.emit(LevelWarn, msg, args) }
func (s *slogLogger) Error(msg string, args ...any) { s.emit(LevelError, msg, args) }

func (s *slogLogger) With(args ...any) Logger {
	return &slogLogger{
		log:   s.log.With(s.clean.SanitizeArgs(args)...),
		clean: s.clean,
	}
}

// Sync is a no-op: slog handlers write through and lumberjack does not buffer
func (s *slogLogger) Sync() error {
	return nil
}

func (s *slogLogger) Shutdown() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// nopLogger is what Get returns before Init
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (n nopLogger) With(...any) Logger { return n }
func (nopLogger) Sync() error          { return nil }
func (nopLogger) Shutdown() error      { return nil }
