// Package command abstracts external tool execution so that callers can be
// tested against a substitute runner that never touches real zfs/borg/mount.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Spec describes one external command invocation.
type Spec struct {
	// Name is the executable to invoke
	Name string

	// Args are the command arguments
	Args []string

	// ExtraEnv entries (KEY=VALUE) are appended to the inherited
	// environment. Values may be secrets and must never be logged.
	ExtraEnv []string

	// DropEnv names variables removed from the inherited environment
	// before ExtraEnv is applied.
	DropEnv []string

	// Stdin is fed to the command when non-empty
	Stdin string
}

// String renders the command line for logging. Environment is omitted.
func (s Spec) String() string {
	if len(s.Args) == 0 {
		return s.Name
	}
	return s.Name + " " + strings.Join(s.Args, " ")
}

// Result carries the outcome of a completed command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes external commands.
type Runner interface {
	// Run executes the command and blocks until it completes. A non-zero
	// exit status is reported through Result.ExitCode, not through err;
	// err is reserved for failures to start or be interrupted.
	Run(ctx context.Context, spec Spec) (Result, error)
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct{}

// NewOSRunner returns a Runner backed by the real operating system.
func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// Run implements Runner.
func (r *OSRunner) Run(ctx context.Context, spec Spec) (Result, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Env = buildEnv(spec)
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("command %s interrupted: %w", spec.Name, ctxErr)
		}
		return result, fmt.Errorf("failed to run %s: %w", spec.Name, err)
	}

	return result, nil
}

func buildEnv(spec Spec) []string {
	env := os.Environ()
	if len(spec.DropEnv) > 0 {
		drop := make(map[string]bool, len(spec.DropEnv))
		for _, key := range spec.DropEnv {
			drop[key] = true
		}
		filtered := env[:0]
		for _, entry := range env {
			name, _, _ := strings.Cut(entry, "=")
			if !drop[name] {
				filtered = append(filtered, entry)
			}
		}
		env = filtered
	}
	return append(env, spec.ExtraEnv...)
}
