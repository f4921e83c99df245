// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for the primer.
//
// The primer replaces its own process image several times per run, so the
// logger has two properties a long-lived service logger does not need:
//
//   - The stderr level is decided before any configuration file is read
//     (from the environment and CLI verbosity) and is handed to the next
//     process image through PROTOPRIMER_STDERR_LOG_LEVEL.
//   - The log file is attached late, once the env-leap log directory is
//     known, and must be flushed explicitly before execve because deferred
//     calls never run after a successful exec.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                         Logger                              │
//	│  ┌─────────────┐  ┌─────────────┐  ┌─────────────────────┐ │
//	│  │   stderr    │  │  log file   │  │   LogExporter       │ │
//	│  │  (default)  │  │ (AttachDir) │  │   (optional)        │ │
//	│  └─────────────┘  └─────────────┘  └─────────────────────┘ │
//	└─────────────────────────────────────────────────────────────┘
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Level: logging.LevelWarn, Service: "protoprimer"})
//	defer logger.Close()
//	logger.Info("state evaluated", "state", name)
//
// # Thread Safety
//
// Logger is safe for concurrent use even though the primer itself is
// single-threaded; the fan-out handler is guarded by a mutex.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity levels.
//
// Levels are ordered by severity: Debug < Info < Warn < Error < Silent.
// LevelSilent discards everything written to stderr.
type Level int

const (
	// LevelDebug is for tracing state evaluation step by step.
	LevelDebug Level = iota

	// LevelInfo reports state transitions and process replacements.
	LevelInfo

	// LevelWarn is the default: only things the user should look at.
	LevelWarn

	// LevelError reports failures.
	LevelError

	// LevelSilent suppresses stderr logging entirely.
	LevelSilent
)

// String returns the name used in PROTOPRIMER_*_LOG_LEVEL variables.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelSilent:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name to a Level.
//
// # Description
//
// Accepts the Python-style names the primer has always used in its
// environment variables (DEBUG, INFO, WARNING, ERROR, CRITICAL) as well as
// WARN and SILENT. Matching is case-insensitive.
//
// # Outputs
//
//   - Level: The parsed level.
//   - error: Non-nil if the name is not recognized.
func ParseLevel(name string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "CRITICAL", "SILENT":
		return LevelSilent, nil
	default:
		return LevelWarn, fmt.Errorf("unknown log level %q", name)
	}
}

// toSlogLevel converts our Level to slog.Level.
func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelSilent:
		return slog.LevelError + 4
	default:
		return slog.LevelWarn
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the Logger behavior.
//
// A zero-value Config writes Debug+ text to stderr; callers normally set
// Level explicitly.
type Config struct {
	// Level sets the minimum stderr level.
	Level Level

	// LogDir enables file logging at construction time.
	//
	// The file is named "{Service}_{YYYY-MM-DD}.log" and is always JSON at
	// Debug level regardless of Level. Use AttachDir to enable it later.
	LogDir string

	// Service is attached to every entry as the "service" attribute.
	Service string

	// JSON switches stderr output to JSON.
	JSON bool

	// Writer replaces os.Stderr as the console destination. Tests use it.
	Writer io.Writer

	// Exporter optionally receives a copy of every entry at or above Level.
	Exporter LogExporter
}

// LogExporter receives log entries for out-of-band processing.
//
// Export is called synchronously; the primer is single-threaded and must
// not leave goroutines behind across an exec.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry represents a structured log entry for export.
type LogEntry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Service   string
	Attrs     map[string]any
}

// =============================================================================
// Logger
// =============================================================================

// Logger provides structured logging with a console destination, an
// optional late-attached file, and an optional exporter.
//
// Use With() to derive loggers carrying run attributes such as start_id;
// derived loggers share the file handle and see files attached later.
type Logger struct {
	slog   *slog.Logger
	config Config
	out    *fanout
}

// fanout is shared between a logger and all loggers derived via With.
type fanout struct {
	mu       sync.Mutex
	console  slog.Handler
	file     *os.File
	fileH    slog.Handler
	exporter LogExporter
	minLevel Level
}

// New creates a new Logger with the given configuration.
//
// If LogDir is set and cannot be opened, the logger silently falls back to
// console-only output; AttachDir reports the error instead.
func New(config Config) *Logger {
	w := config.Writer
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}

	var console slog.Handler
	if config.JSON {
		console = slog.NewJSONHandler(w, opts)
	} else {
		console = slog.NewTextHandler(w, opts)
	}

	out := &fanout{
		console:  console,
		exporter: config.Exporter,
		minLevel: config.Level,
	}

	var handler slog.Handler = &fanoutHandler{out: out}
	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger := &Logger{
		slog:   slog.New(handler),
		config: config,
		out:    out,
	}
	if config.LogDir != "" {
		_ = logger.AttachDir(config.LogDir)
	}
	return logger
}

// Default returns a WARNING-level stderr logger.
func Default() *Logger {
	return New(Config{Level: LevelWarn, Service: "protoprimer"})
}

// Discard returns a logger that writes nowhere. Used by tests.
func Discard() *Logger {
	return New(Config{Level: LevelSilent, Writer: io.Discard})
}

// Level returns the configured console level.
func (l *Logger) Level() Level {
	return l.config.Level
}

// AttachDir opens a JSON log file inside dir.
//
// # Description
//
// Creates dir (0750) if needed and opens "{service}_{date}.log" in append
// mode. Calling AttachDir again with a file already open is a no-op.
//
// # Outputs
//
//   - error: Non-nil if the directory or file cannot be created.
func (l *Logger) AttachDir(dir string) error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.file != nil {
		return nil
	}
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	service := l.config.Service
	if service == "" {
		service = "protoprimer"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	l.out.file = file
	l.out.fileH = slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	return nil
}

// Debug logs a message at Debug level.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, msg, args...)
}

// Info logs a message at Info level.
func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a message at Warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, msg, args...)
}

// Error logs a message at Error level.
func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, msg, args...)
}

// With returns a new Logger with additional attributes.
//
// The parent logger is not modified; the file handle and exporter are
// shared.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:   l.slog.With(args...),
		config: l.config,
		out:    l.out,
	}
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Flush syncs the log file and flushes the exporter without closing them.
//
// The primer calls Flush right before replacing its process image.
func (l *Logger) Flush() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	var errs []error
	if l.out.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.out.exporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush exporter: %w", err))
		}
	}
	if l.out.file != nil {
		if err := l.out.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync log file: %w", err))
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Close flushes and closes the logger.
//
// Returns the first error encountered during cleanup.
func (l *Logger) Close() error {
	flushErr := l.Flush()

	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	var errs []error
	if flushErr != nil {
		errs = append(errs, flushErr)
	}
	if l.out.exporter != nil {
		if err := l.out.exporter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close exporter: %w", err))
		}
		l.out.exporter = nil
	}
	if l.out.file != nil {
		if err := l.out.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
		l.out.file = nil
		l.out.fileH = nil
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// log is the internal method that writes to all destinations.
func (l *Logger) log(level Level, msg string, args ...any) {
	switch level {
	case LevelDebug:
		l.slog.Debug(msg, args...)
	case LevelInfo:
		l.slog.Info(msg, args...)
	case LevelWarn:
		l.slog.Warn(msg, args...)
	case LevelError:
		l.slog.Error(msg, args...)
	}

	l.out.mu.Lock()
	exporter := l.out.exporter
	min := l.out.minLevel
	l.out.mu.Unlock()

	if exporter != nil && level >= min {
		entry := LogEntry{
			Timestamp: time.Now(),
			Level:     level,
			Message:   msg,
			Service:   l.config.Service,
			Attrs:     argsToMap(args),
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = exporter.Export(ctx, entry)
		cancel()
	}
}

// =============================================================================
// Fan-out Handler (Internal)
// =============================================================================

// fanoutHandler sends records to the console handler and, once attached,
// the file handler. Attributes and groups are replayed onto the file
// handler lazily so that files attached after With() still get them.
type fanoutHandler struct {
	out   *fanout
	attrs []slog.Attr
	group string
}

// Enabled reports whether either destination accepts the level.
func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	if h.out.fileH != nil && h.out.fileH.Enabled(ctx, level) {
		return true
	}
	return h.out.console.Enabled(ctx, level)
}

// Handle writes the record to every enabled destination.
func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	h.out.mu.Lock()
	handlers := []slog.Handler{h.out.console}
	if h.out.fileH != nil {
		handlers = append(handlers, h.out.fileH)
	}
	h.out.mu.Unlock()

	for _, base := range handlers {
		handler := base
		if h.group != "" {
			handler = handler.WithGroup(h.group)
		}
		if len(h.attrs) > 0 {
			handler = handler.WithAttrs(h.attrs)
		}
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// WithAttrs returns a handler that adds attrs to every record.
func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &fanoutHandler{out: h.out, attrs: merged, group: h.group}
}

// WithGroup returns a handler that nests attributes under name.
func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	return &fanoutHandler{out: h.out, attrs: h.attrs, group: name}
}

// =============================================================================
// Helper Functions
// =============================================================================

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// argsToMap converts slog-style key-value args to a map.
func argsToMap(args []any) map[string]any {
	result := make(map[string]any)
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			result[key] = args[i+1]
		}
	}
	return result
}
