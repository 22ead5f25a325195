// Package safefs wraps filesystem calls with a timeout. The workspace can
// contain ZFS snapshot mountpoints left over from a crashed run; a stat or
// readdir on a dead mount can hang indefinitely, and the precondition check
// must fail instead of wedging the whole run.
package safefs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

var (
	osStat    = os.Stat
	osReadDir = os.ReadDir
)

// ErrTimeout classifies filesystem operations that did not complete in time.
var ErrTimeout = errors.New("filesystem operation timed out")

// TimeoutError is returned when an operation exceeds its allowed duration.
// The underlying kernel call is not cancelled; we only stop waiting for it.
type TimeoutError struct {
	Op      string
	Path    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e == nil {
		return "filesystem operation timed out"
	}
	return fmt.Sprintf("%s %s: timeout after %s", e.Op, e.Path, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

func effectiveTimeout(ctx context.Context, timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0
		}
		if remaining < timeout {
			return remaining
		}
	}
	return timeout
}

// await runs fn in a goroutine and waits at most timeout for it. The
// goroutine is leaked on timeout; the buffered channel lets it finish.
func await[T any](ctx context.Context, op, path string, timeout time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	timeout = effectiveTimeout(ctx, timeout)
	if timeout <= 0 {
		return fn()
	}

	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		val, err := fn()
		ch <- result{val: val, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, &TimeoutError{Op: op, Path: path, Timeout: timeout}
	}
}

// Stat is os.Stat bounded by timeout. A timeout of 0 stats directly.
func Stat(ctx context.Context, path string, timeout time.Duration) (fs.FileInfo, error) {
	return await(ctx, "stat", path, timeout, func() (fs.FileInfo, error) {
		return osStat(path)
	})
}

// ReadDir is os.ReadDir bounded by timeout. A timeout of 0 reads directly.
func ReadDir(ctx context.Context, path string, timeout time.Duration) ([]os.DirEntry, error) {
	return await(ctx, "readdir", path, timeout, func() ([]os.DirEntry, error) {
		return osReadDir(path)
	})
}
