// Package sessionlog implements the per-session text log (spec.md §6):
// a capped, newline-delimited log of one recording session's lifecycle
// events, separate from the application's structured slog output.
// Grounded on the teacher's internal/audit.Logger — the same
// mutex-guarded, size-capped append-only writer — with the hash chain
// and JSON framing removed: a session log has no tamper-evidence
// requirement and no rotation (it lives exactly as long as the
// session), so it degrades to a single truncate-once cap instead of a
// backup-shifting rotator.
package sessionlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

const truncationNotice = "[LOG TRUNCATED]\n"

// Level labels a line's severity, matching the subset of slog levels a
// session log needs.
type Level string

const (
	Info  Level = "INFO"
	Warn  Level = "WARN"
	Error Level = "ERROR"
)

// Logger writes capped, human-readable lines of the form
// "[YYYY-MM-DD HH:MM:SS.fff] LEVEL scope: message" to a single file for
// the lifetime of one recording session.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	maxBytes  int64
	written   int64
	truncated bool
}

// Open creates (or truncates) the session log at path, capped at
// maxSizeMB megabytes.
func Open(path string, maxSizeMB int) (*Logger, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: open %s: %w", path, err)
	}
	return &Logger{file: f, maxBytes: int64(maxSizeMB) * 1024 * 1024}, nil
}

// Log appends one line. Safe to call on a nil receiver (no-op), so
// callers that construct a session log optionally don't need nil
// checks at every call site.
func (l *Logger) Log(level Level, scope, message string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.truncated {
		return
	}

	line := fmt.Sprintf("[%s] %s %s: %s\n", time.Now().Format("2006-01-02 15:04:05.000"), level, scope, message)
	if l.written+int64(len(line)) > l.maxBytes {
		l.file.WriteString(truncationNotice)
		l.truncated = true
		return
	}

	n, err := l.file.WriteString(line)
	l.written += int64(n)
	_ = err // best-effort: a failed session-log write must never abort the session
}

// Close flushes and closes the underlying file. Safe to call on a nil
// receiver (no-op).
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
