package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/borgsave/borgsave/internal/types"
)

const logFilePrefix = "borgsave"

// StartRunLogger creates a logger that writes to a fresh per-run log file
// under logDir. The caller receives the configured logger, the absolute log
// path, and a cleanup function that must be invoked when the run completes.
func StartRunLogger(logDir string, level types.LogLevel, useColor bool) (*Logger, string, func(), error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, "", nil, fmt.Errorf("create log directory: %w", err)
	}

	hostname := detectHostname()
	timestamp := time.Now().Format("20060102_15-04-05")
	logName := fmt.Sprintf("%s-%s-%s.log", logFilePrefix, hostname, timestamp)
	logPath := filepath.Join(logDir, logName)

	logger := New(level, useColor)
	if err := logger.OpenLogFile(logPath); err != nil {
		return nil, "", nil, err
	}

	cleanup := func() {
		_ = logger.CloseLogFile()
	}

	return logger, logPath, cleanup, nil
}

// PruneOldLogs deletes run logs in logDir beyond the newest keep files.
// keep == 0 keeps everything. The log file at currentPath is never deleted.
// Returns the number of files removed.
func PruneOldLogs(logger *Logger, logDir string, keep int, currentPath string) (int, error) {
	if keep <= 0 {
		logger.Debug("Log retention disabled, keeping all log files")
		return 0, nil
	}

	entries, err := os.ReadDir(logDir)
	if err != nil {
		return 0, fmt.Errorf("read log directory %s: %w", logDir, err)
	}

	type logEntry struct {
		path    string
		modTime time.Time
	}
	logs := make([]logEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, logFilePrefix+"-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		logs = append(logs, logEntry{path: filepath.Join(logDir, name), modTime: info.ModTime()})
	}

	if len(logs) <= keep {
		logger.Debug("Log retention: %d log file(s) present, nothing to remove", len(logs))
		return 0, nil
	}

	// Oldest first
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].modTime.Before(logs[j].modTime)
	})

	removed := 0
	toDelete := len(logs) - keep
	for _, entry := range logs {
		if removed >= toDelete {
			break
		}
		if entry.path == currentPath {
			continue
		}
		if err := os.Remove(entry.path); err != nil {
			logger.Warning("Failed to remove old log %s: %v", entry.path, err)
			continue
		}
		logger.Debug("Removed old log: %s", entry.path)
		removed++
	}

	logger.Info("Log retention: removed %d old log file(s), keeping %d", removed, keep)
	return removed, nil
}

func detectHostname() string {
	host, err := os.Hostname()
	if err != nil {
		return "host"
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return "host"
	}
	sanitized := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '-'
	}, host)
	sanitized = strings.Trim(sanitized, "-")
	if sanitized == "" {
		return "host"
	}
	return sanitized
}
