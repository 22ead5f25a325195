// Package checks implements the run preconditions: the exclusive run lock
// and the clean-workspace requirement.
package checks

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/borgsave/borgsave/internal/logging"
)

// ErrLockHeld is returned when the lock file already exists. A held lock
// aborts the run regardless of the age of the file: a stale lock after a
// crash is cleared by an operator, never automatically.
var ErrLockHeld = errors.New("another backup run holds the lock")

// RunLock serializes backup runs through an exclusively created lock file.
type RunLock struct {
	path   string
	logger *logging.Logger
	dryRun bool

	held bool
}

// NewRunLock returns an unacquired lock at path.
func NewRunLock(path string, logger *logging.Logger, dryRun bool) *RunLock {
	return &RunLock{path: path, logger: logger, dryRun: dryRun}
}

// Path returns the lock file location.
func (l *RunLock) Path() string {
	return l.path
}

// Acquire creates the lock file. Creation with O_EXCL is the atomicity
// guarantee: if the file exists the lock is held and ErrLockHeld is
// returned, with the holder's details attached when readable.
func (l *RunLock) Acquire() error {
	if l.dryRun {
		// The precondition is still checked; only the file creation is skipped.
		if _, err := os.Stat(l.path); err == nil {
			if holder := l.readHolder(); holder != "" {
				return fmt.Errorf("%w: %s", ErrLockHeld, holder)
			}
			return ErrLockHeld
		}
		l.logger.Skip("Dry run: not creating lock file %s", l.path)
		l.held = true
		return nil
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		if os.IsExist(err) {
			if holder := l.readHolder(); holder != "" {
				return fmt.Errorf("%w: %s", ErrLockHeld, holder)
			}
			return ErrLockHeld
		}
		return fmt.Errorf("cannot create lock file %s: %w", l.path, err)
	}
	defer file.Close()

	hostname, _ := os.Hostname()
	fmt.Fprintf(file, "pid=%d\nhost=%s\nstarted=%s\n",
		os.Getpid(), hostname, time.Now().Format(time.RFC3339))

	l.held = true
	l.logger.Debug("Acquired run lock: %s", l.path)
	return nil
}

// Release removes the lock file. Safe to call more than once and when the
// lock was never acquired.
func (l *RunLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false

	if l.dryRun {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove lock file %s: %w", l.path, err)
	}
	l.logger.Debug("Released run lock: %s", l.path)
	return nil
}

// Held reports whether this process currently holds the lock.
func (l *RunLock) Held() bool {
	return l.held
}

func (l *RunLock) readHolder() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return ""
	}
	return strings.ReplaceAll(strings.TrimSpace(string(data)), "\n", " ")
}
