// Package input reads interactive terminal input with cancellation support.
package input

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
)

// ErrInputAborted signals that interactive input was interrupted, typically
// by Ctrl+C cancelling the context or closing stdin.
var ErrInputAborted = errors.New("input aborted")

// IsAborted reports whether an operation was aborted by the user.
func IsAborted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInputAborted) || errors.Is(err, context.Canceled)
}

// MapInputError normalizes stdin EOF/closed-fd errors into ErrInputAborted.
func MapInputError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		return ErrInputAborted
	}
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "use of closed file") ||
		strings.Contains(errStr, "bad file descriptor") ||
		strings.Contains(errStr, "file already closed") {
		return ErrInputAborted
	}
	return err
}

// readAsync runs a blocking read in a goroutine so the caller can bail on
// context cancellation. The read itself cannot be interrupted; on abort the
// goroutine lingers until stdin unblocks.
func readAsync[T any](ctx context.Context, read func() (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}
	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		val, err := read()
		ch <- result{val: val, err: MapInputError(err)}
	}()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, context.DeadlineExceeded
		}
		return zero, ErrInputAborted
	case res := <-ch:
		return res.val, res.err
	}
}

// ReadLineWithContext reads a single line, honoring ctx cancellation.
func ReadLineWithContext(ctx context.Context, reader *bufio.Reader) (string, error) {
	return readAsync(ctx, func() (string, error) {
		line, err := reader.ReadString('\n')
		return strings.TrimRight(line, "\r\n"), err
	})
}

// ReadPasswordWithContext reads a password without echo, honoring ctx
// cancellation. readPassword is typically term.ReadPassword.
func ReadPasswordWithContext(ctx context.Context, readPassword func(int) ([]byte, error), fd int) ([]byte, error) {
	if readPassword == nil {
		return nil, errors.New("readPassword function is nil")
	}
	return readAsync(ctx, func() ([]byte, error) {
		return readPassword(fd)
	})
}
