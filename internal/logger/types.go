package logger

import (
	"io"
	"log/slog"
	"strings"
)

// Logger is the logging interface used across the code base
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	Sync() error
	Shutdown() error
}

// Level is a log severity
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return "unknown"
}

// ParseLevel maps a level name to a Level; unknown names mean info
func ParseLevel(s string) Level {
	if l, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l
	}
	return LevelInfo
}

// slogLevel spaces the levels the way log/slog does (-4, 0, 4, 8)
func (l Level) slogLevel() slog.Level {
	return slog.Level(4 * (int(l) - 1))
}

// Format is the line encoding of log records
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "text"
}

// ParseFormat accepts "json"; anything else is text
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return FormatJSON
	}
	return FormatText
}

// Config configures the global logger
type Config struct {
	Level  Level
	Format Format
	// Console receives every record; nil means stderr so stdout stays
	// free for command output
	Console io.Writer
	File    FileConfig
}

// FileConfig configures the size-rotated log file
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}

// NewConfig builds a config from the names used in configuration files
func NewConfig(level, format string, file FileConfig) Config {
	return Config{
		Level:  ParseLevel(level),
		Format: ParseFormat(format),
		File:   file,
	}
}
