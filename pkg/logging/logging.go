// Package logging is dsr's ambient stderr logger. In human mode it writes
// log.Printf-shaped lines, matching the teacher's own plain progress
// narration; in JSON mode (driven by --json) it writes one JSON object per
// line, so stdout stays reserved for the single envelope (spec.md §6).
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Logger writes structured or human progress lines to an underlying writer
// (stderr in production, anything in tests).
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	json   bool
	color  bool
}

// New builds a Logger writing to stderr. jsonMode mirrors the --json global
// flag; color is only consulted in human mode.
func New(jsonMode bool) *Logger {
	return &Logger{
		out:   os.Stderr,
		json:  jsonMode,
		color: !jsonMode && isatty.IsTerminal(os.Stderr.Fd()),
	}
}

// line is the JSON-mode wire shape for one log entry.
type line struct {
	Time  string `json:"time"`
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

func (l *Logger) write(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.json {
		b, err := json.Marshal(line{
			Time:  time.Now().UTC().Format(time.RFC3339),
			Level: level,
			Msg:   msg,
		})
		if err != nil {
			return
		}
		fmt.Fprintln(l.out, string(b))
		return
	}
	if l.color {
		fmt.Fprintf(l.out, "%s[%s]%s %s\n", colorFor(level), level, colorReset, msg)
		return
	}
	fmt.Fprintf(l.out, "[%s] %s\n", level, msg)
}

// Infof logs an informational line.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.write("info", fmt.Sprintf(format, args...))
}

// Warnf logs a warning line.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.write("warn", fmt.Sprintf(format, args...))
}

// Errorf logs an error line.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.write("error", fmt.Sprintf(format, args...))
}

// Debugf logs a debug line, only emitted when DSR_LOG_LEVEL=debug.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if os.Getenv("DSR_LOG_LEVEL") != "debug" {
		return
	}
	l.write("debug", fmt.Sprintf(format, args...))
}

const colorReset = "\033[0m"

func colorFor(level string) string {
	switch level {
	case "error":
		return "\033[38;5;203m"
	case "warn":
		return "\033[38;5;221m"
	case "debug":
		return "\033[38;5;245m"
	default:
		return "\033[38;5;33m"
	}
}
