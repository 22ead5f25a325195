package input

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestIsAborted(t *testing.T) {
	if !IsAborted(ErrInputAborted) {
		t.Error("ErrInputAborted should count as aborted")
	}
	if !IsAborted(context.Canceled) {
		t.Error("context.Canceled should count as aborted")
	}
	if IsAborted(nil) || IsAborted(errors.New("other")) {
		t.Error("other errors must not count as aborted")
	}
}

func TestMapInputError(t *testing.T) {
	if got := MapInputError(io.EOF); !errors.Is(got, ErrInputAborted) {
		t.Errorf("EOF = %v", got)
	}
	if got := MapInputError(errors.New("read: use of closed file")); !errors.Is(got, ErrInputAborted) {
		t.Errorf("closed file = %v", got)
	}
	other := errors.New("boom")
	if got := MapInputError(other); got != other {
		t.Errorf("unrelated error changed: %v", got)
	}
	if MapInputError(nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestReadLineWithContext(t *testing.T) {
	reader := bufio.NewReader(strings.NewReader("hello\nworld\n"))
	line, err := ReadLineWithContext(context.Background(), reader)
	if err != nil || line != "hello" {
		t.Errorf("line = %q, err = %v", line, err)
	}
}

func TestReadLineWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A reader that blocks forever.
	pr, _ := io.Pipe()
	reader := bufio.NewReader(pr)

	_, err := ReadLineWithContext(ctx, reader)
	if !errors.Is(err, ErrInputAborted) {
		t.Errorf("err = %v, want ErrInputAborted", err)
	}
}

func TestReadPasswordWithContext(t *testing.T) {
	readPassword := func(fd int) ([]byte, error) {
		return []byte("secret"), nil
	}
	got, err := ReadPasswordWithContext(context.Background(), readPassword, 0)
	if err != nil || string(got) != "secret" {
		t.Errorf("got %q, err %v", got, err)
	}

	if _, err := ReadPasswordWithContext(context.Background(), nil, 0); err == nil {
		t.Error("nil readPassword should error")
	}
}

func TestReadPasswordWithContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	readPassword := func(fd int) ([]byte, error) {
		time.Sleep(time.Second)
		return nil, nil
	}
	if _, err := ReadPasswordWithContext(ctx, readPassword, 0); !errors.Is(err, ErrInputAborted) {
		t.Errorf("err = %v, want ErrInputAborted", err)
	}
}
