// Package borg drives the borg command line tool against one repository:
// archive creation, consistency checks, pruning and compaction.
package borg

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/borgsave/borgsave/internal/command"
	"github.com/borgsave/borgsave/internal/logging"
	"github.com/borgsave/borgsave/internal/types"
)

// Client runs borg subcommands for a single repository. All invocations
// carry the repository's passphrase and SSH settings in the child
// environment only; nothing secret reaches the process environment or logs.
type Client struct {
	runner command.Runner
	logger *logging.Logger
	repo   types.RepositoryTarget
	dryRun bool
}

// NewClient returns a borg client for one repository.
func NewClient(runner command.Runner, logger *logging.Logger, repo types.RepositoryTarget, dryRun bool) *Client {
	return &Client{runner: runner, logger: logger, repo: repo, dryRun: dryRun}
}

// Repository returns the repository URL this client targets.
func (c *Client) Repository() string {
	return c.repo.URL
}

// Create archives the given paths as <repo>::<archiveName>.
func (c *Client) Create(ctx context.Context, archiveName string, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("no paths to archive")
	}
	args := []string{"create", "--stats", "--compression", "lz4",
		fmt.Sprintf("%s::%s", c.repo.URL, archiveName)}
	args = append(args, paths...)
	return c.run(ctx, args)
}

// Check verifies repository consistency, optionally re-reading all data.
func (c *Client) Check(ctx context.Context, verifyData bool) error {
	args := []string{"check"}
	if verifyData {
		args = append(args, "--verify-data")
	}
	args = append(args, c.repo.URL)
	return c.run(ctx, args)
}

// Prune applies the retention policy to the repository.
func (c *Client) Prune(ctx context.Context, policy types.RetentionPolicy) error {
	args := []string{"prune", "-v", "--list",
		"--keep-daily", strconv.Itoa(policy.KeepDaily),
		"--keep-weekly", strconv.Itoa(policy.KeepWeekly),
		"--keep-monthly", strconv.Itoa(policy.KeepMonthly),
		"--keep-yearly", strconv.Itoa(policy.KeepYearly),
		c.repo.URL,
	}
	return c.run(ctx, args)
}

// Compact reclaims space freed by prune.
func (c *Client) Compact(ctx context.Context) error {
	return c.run(ctx, []string{"compact", c.repo.URL})
}

// ListArchives returns the archives in the repository, newest last the way
// borg reports them.
func (c *Client) ListArchives(ctx context.Context) ([]Archive, error) {
	spec := command.Spec{
		Name:     "borg",
		Args:     []string{"list", "--json", c.repo.URL},
		ExtraEnv: c.extraEnv(),
		DropEnv:  c.dropEnv(),
	}
	result, err := c.runner.Run(ctx, spec)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, c.commandError(spec, result)
	}
	return parseArchiveList([]byte(result.Stdout))
}

func (c *Client) run(ctx context.Context, args []string) error {
	spec := command.Spec{
		Name:     "borg",
		Args:     args,
		ExtraEnv: c.extraEnv(),
		DropEnv:  c.dropEnv(),
	}

	if c.dryRun {
		c.logger.Skip("Dry run: would run %s", spec)
		return nil
	}

	c.logger.Debug("Running: %s", spec)
	result, err := c.runner.Run(ctx, spec)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return c.commandError(spec, result)
	}
	return nil
}

// extraEnv builds the per-invocation secrets. BORG_PASSPHRASE is always set,
// even when empty, so an unencrypted repository never inherits a stray
// passphrase from the environment.
func (c *Client) extraEnv() []string {
	env := []string{"BORG_PASSPHRASE=" + c.repo.Passphrase}
	if c.repo.SSHKeyPath != "" {
		env = append(env, "BORG_RSH=ssh -i "+c.repo.SSHKeyPath)
	}
	return env
}

// dropEnv removes an inherited BORG_RSH when no per-repository key is
// configured, so the default ssh transport applies.
func (c *Client) dropEnv() []string {
	if c.repo.SSHKeyPath == "" {
		return []string{"BORG_RSH"}
	}
	return nil
}

func (c *Client) commandError(spec command.Spec, result command.Result) error {
	detail := strings.TrimSpace(result.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(result.Stdout)
	}
	if len(detail) > 500 {
		detail = detail[:500] + "..."
	}
	return fmt.Errorf("borg %s exited with code %d: %s", spec.Args[0], result.ExitCode, detail)
}
