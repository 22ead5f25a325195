// Package logging implements the leveled logger used across the backup run.
// Output goes to stdout (optionally colored) and, when a run log is open,
// to a colorless real-time log file.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/borgsave/borgsave/internal/types"
)

const timeLayout = "2006-01-02 15:04:05"

// ANSI codes per level; STEP and SKIP carry their own.
var levelColors = map[types.LogLevel]string{
	types.LogLevelDebug:    "\033[36m",
	types.LogLevelInfo:     "\033[32m",
	types.LogLevelWarning:  "\033[33m",
	types.LogLevelError:    "\033[31m",
	types.LogLevelCritical: "\033[1;31m",
}

// Logger writes leveled messages to a console writer and mirrors them,
// stripped of color, into the run log file when one is open.
type Logger struct {
	mu       sync.Mutex
	level    types.LogLevel
	useColor bool
	output   io.Writer
	logFile  *os.File
}

// New creates a logger writing to stdout.
func New(level types.LogLevel, useColor bool) *Logger {
	return &Logger{
		level:    level,
		useColor: useColor,
		output:   os.Stdout,
	}
}

// SetOutput redirects console output. A nil writer restores stdout.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	l.output = w
}

// GetLevel returns the current log level.
func (l *Logger) GetLevel() types.LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// OpenLogFile opens the run log and starts mirroring every message into it.
// O_SYNC forces immediate writes so the log survives a crash mid-run.
func (l *Logger) OpenLogFile(logPath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile != nil {
		l.logFile.Close()
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}
	l.logFile = file
	return nil
}

// CloseLogFile closes the run log. Call after notifications went out,
// since the email body embeds the log contents.
func (l *Logger) CloseLogFile() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile == nil {
		return nil
	}
	err := l.logFile.Close()
	l.logFile = nil
	return err
}

// GetLogFilePath returns the path of the open run log, or "" if none.
func (l *Logger) GetLogFilePath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile == nil {
		return ""
	}
	return l.logFile.Name()
}

func (l *Logger) write(level types.LogLevel, label, color, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level > l.level {
		return
	}

	timestamp := time.Now().Format(timeLayout)
	message := fmt.Sprintf(format, args...)
	if label == "" {
		label = level.String()
	}

	if l.useColor && color != "" {
		fmt.Fprintf(l.output, "[%s] %s%-8s\033[0m %s\n", timestamp, color, label, message)
	} else {
		fmt.Fprintf(l.output, "[%s] %-8s %s\n", timestamp, label, message)
	}

	if l.logFile != nil {
		fmt.Fprintf(l.logFile, "[%s] %-8s %s\n", timestamp, label, message)
	}
}

func (l *Logger) log(level types.LogLevel, format string, args ...interface{}) {
	l.write(level, "", levelColors[level], format, args...)
}

// Debug writes a debug log.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(types.LogLevelDebug, format, args...)
}

// Info writes an informational log.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(types.LogLevelInfo, format, args...)
}

// Step writes an informational log with a STEP label, marking a stage
// transition in the run.
func (l *Logger) Step(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.write(types.LogLevelInfo, "STEP", "\033[34m", format, args...)
}

// Skip writes an informational log with a SKIP label, for work that was
// deliberately not done (dry run, disabled feature).
func (l *Logger) Skip(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.write(types.LogLevelInfo, "SKIP", "\033[35m", format, args...)
}

// Warning writes a warning log.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.log(types.LogLevelWarning, format, args...)
}

// Error writes an error log.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(types.LogLevelError, format, args...)
}

// Critical writes a critical log.
func (l *Logger) Critical(format string, args ...interface{}) {
	l.log(types.LogLevelCritical, format, args...)
}
