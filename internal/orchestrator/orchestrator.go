package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/borgsave/borgsave/internal/borg"
	"github.com/borgsave/borgsave/internal/checks"
	"github.com/borgsave/borgsave/internal/command"
	"github.com/borgsave/borgsave/internal/config"
	"github.com/borgsave/borgsave/internal/logging"
	"github.com/borgsave/borgsave/internal/types"
	"github.com/borgsave/borgsave/internal/zfs"
)

// ErrNoTargets is returned when neither directories nor pools are
// configured; a run with nothing to back up aborts before taking the lock.
var ErrNoTargets = errors.New("no backup targets configured")

// timestampLayout names snapshots, archives and log files for one run.
const timestampLayout = "20060102_15-04-05"

// Orchestrator runs one complete backup. Everything is sequential: pools
// one after another, repositories one after another, stages within a
// repository in a fixed order.
type Orchestrator struct {
	cfg    *config.Config
	logger *logging.Logger
	runner command.Runner

	// now is replaceable in tests
	now func() time.Time

	state     RunState
	failures  *FailureAggregator
	snapshots []*zfs.Snapshot
}

// New returns an orchestrator for one run.
func New(cfg *config.Config, logger *logging.Logger, runner command.Runner) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		runner:   runner,
		now:      time.Now,
		state:    StateInit,
		failures: NewFailureAggregator(),
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() RunState {
	return o.state
}

// Run executes the backup and always returns a report. A non-nil error
// marks an aborted run: a precondition failed and nothing was touched.
// Stage failures do not produce an error; they are inside the report.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	startTime := o.now()
	timestamp := startTime.Format(timestampLayout)

	report := &RunReport{
		Timestamp:   timestamp,
		StartTime:   startTime,
		Pools:       o.cfg.Pools,
		Directories: o.cfg.Directories,
		DryRun:      o.cfg.DryRun,
		LogPath:     o.logger.GetLogFilePath(),
	}
	for _, repo := range o.cfg.Repositories {
		report.Repositories = append(report.Repositories, repo.URL)
	}

	o.state = StatePrecheck
	lock := checks.NewRunLock(o.cfg.LockPath, o.logger, o.cfg.DryRun)
	workspace := checks.NewWorkspace(o.cfg.WorkspacePath, o.logger, o.cfg.DryRun)

	if err := o.precheck(ctx, workspace); err != nil {
		return o.abort(report, err), err
	}

	if err := lock.Acquire(); err != nil {
		return o.abort(report, err), err
	}
	o.state = StateLocked
	// A panic inside a stage must not leak the lock or leave snapshots
	// mounted. After the normal cleanup below both calls are no-ops.
	defer func() {
		o.teardownSnapshots(ctx)
		if err := lock.Release(); err != nil {
			o.logger.Error("Lock release failed: %v", err)
		}
	}()
	o.logger.Info("Starting backup run %s", timestamp)
	if o.cfg.DryRun {
		o.logger.Warning("Dry run: no snapshots will be taken and no borg commands executed")
	}

	o.state = StateSnapshotting
	o.createSnapshots(ctx, timestamp)
	report.SnapshotsCreated = len(o.snapshots)

	o.state = StateBackingUp
	report.ArchivesCreated = o.backupRepositories(ctx, timestamp)

	o.state = StateCleanup
	o.cleanup(ctx, workspace, lock.Path())

	if err := lock.Release(); err != nil {
		o.failures.Record(types.StageCleanup, lock.Path(), err)
	}
	o.state = StateUnlocked

	report.EndTime = o.now()
	report.Failures = o.failures.Failures()
	report.FailureSummary = o.failures.Summary()
	if o.failures.HasFailures() {
		report.ExitCode = types.ExitStageFailures
		o.logger.Error("Backup run finished with %d failure(s): %s",
			len(report.Failures), report.FailureSummary)
	} else {
		report.Success = true
		report.ExitCode = types.ExitSuccess
		o.logger.Info("Backup run completed successfully in %s",
			report.Duration().Round(time.Second))
	}

	o.state = StateReported
	return report, nil
}

// precheck verifies everything that must hold before any side effect:
// targets exist, secrets resolve, the workspace is clean.
func (o *Orchestrator) precheck(ctx context.Context, workspace *checks.Workspace) error {
	if len(o.cfg.Directories) == 0 && len(o.cfg.Pools) == 0 {
		return ErrNoTargets
	}
	if err := ResolveSecrets(o.cfg, o.logger); err != nil {
		return err
	}
	for _, repo := range o.cfg.Repositories {
		if repo.SSHKeyPath == "" {
			continue
		}
		if err := checks.ValidateSSHKey(repo.SSHKeyPath); err != nil {
			return fmt.Errorf("repository %s: %w", repo.URL, err)
		}
	}
	return workspace.EnsureClean(ctx, o.cfg.LockPath)
}

// createSnapshots snapshots and mounts every configured pool. A pool that
// fails is recorded and skipped; the remaining pools still get snapshots.
func (o *Orchestrator) createSnapshots(ctx context.Context, timestamp string) {
	if len(o.cfg.Pools) == 0 {
		return
	}
	manager := zfs.NewManager(o.runner, o.logger, o.cfg.WorkspacePath, o.cfg.DryRun)
	for _, pool := range o.cfg.Pools {
		snap, err := manager.CreateAndMount(ctx, pool, o.cfg.NamePrefix, timestamp)
		if err != nil {
			o.logger.Error("Snapshot of pool %s failed: %v", pool, err)
			o.failures.Record(types.StageSnapshot, pool, err)
			continue
		}
		o.snapshots = append(o.snapshots, snap)
	}
}

// sourcePaths returns what borg create archives: the configured directories
// plus the mountpoint of every snapshot that made it.
func (o *Orchestrator) sourcePaths() []string {
	paths := make([]string, 0, len(o.cfg.Directories)+len(o.snapshots))
	paths = append(paths, o.cfg.Directories...)
	for _, snap := range o.snapshots {
		paths = append(paths, snap.MountPath)
	}
	return paths
}

// backupRepositories runs create, check, prune and compact against each
// repository in turn. Stages are independent: a failed create does not stop
// check or prune, and a failed repository does not stop the next one.
func (o *Orchestrator) backupRepositories(ctx context.Context, timestamp string) int {
	archiveName := o.cfg.NamePrefix + "-" + timestamp
	paths := o.sourcePaths()
	archivesCreated := 0

	for _, repo := range o.cfg.Repositories {
		client := borg.NewClient(o.runner, o.logger, repo, o.cfg.DryRun)

		o.logger.Step("Backing up to repository %s", repo.URL)

		if len(paths) == 0 {
			err := errors.New("no source paths available, all snapshots failed")
			o.logger.Error("Skipping archive creation for %s: %v", repo.URL, err)
			o.failures.Record(types.StageCreate, repo.URL, err)
		} else if err := client.Create(ctx, archiveName, paths); err != nil {
			o.logger.Error("borg create failed for %s: %v", repo.URL, err)
			o.failures.Record(types.StageCreate, repo.URL, err)
		} else {
			archivesCreated++
		}

		if err := client.Check(ctx, o.cfg.CheckVerifyData); err != nil {
			o.logger.Error("borg check failed for %s: %v", repo.URL, err)
			o.failures.Record(types.StageCheck, repo.URL, err)
		}

		o.previewPrune(ctx, client)
		if err := client.Prune(ctx, o.cfg.Retention); err != nil {
			o.logger.Error("borg prune failed for %s: %v", repo.URL, err)
			o.failures.Record(types.StagePrune, repo.URL, err)
		}

		if o.cfg.Retention.CompactEnabled {
			if err := client.Compact(ctx); err != nil {
				o.logger.Error("borg compact failed for %s: %v", repo.URL, err)
				o.failures.Record(types.StageCompact, repo.URL, err)
			}
		}
	}
	return archivesCreated
}

// previewPrune lists the repository's archives and logs what the retention
// policy is about to keep and delete. Purely informational; listing
// failures do not count as stage failures.
func (o *Orchestrator) previewPrune(ctx context.Context, client *borg.Client) {
	if o.cfg.DryRun || o.logger.GetLevel() < types.LogLevelDebug {
		return
	}
	archives, err := client.ListArchives(ctx)
	if err != nil {
		o.logger.Debug("Cannot preview prune for %s: %v", client.Repository(), err)
		return
	}
	policy := o.cfg.Retention
	stats := borg.RetentionStats(borg.ClassifyArchivesGFS(archives,
		policy.KeepDaily, policy.KeepWeekly, policy.KeepMonthly, policy.KeepYearly, o.now()))
	o.logger.Debug("Prune preview for %s: %d daily, %d weekly, %d monthly, %d yearly kept, %d deleted",
		client.Repository(),
		stats[borg.CategoryDaily], stats[borg.CategoryWeekly],
		stats[borg.CategoryMonthly], stats[borg.CategoryYearly],
		stats[borg.CategoryDelete])
}

// cleanup tears the snapshots down in reverse creation order and clears the
// workspace. Failures are recorded; cleanup never aborts.
func (o *Orchestrator) cleanup(ctx context.Context, workspace *checks.Workspace, lockPath string) {
	o.teardownSnapshots(ctx)

	if o.cfg.DryRun {
		return
	}
	if err := workspace.ClearContents(ctx, lockPath); err != nil {
		o.failures.Record(types.StageCleanup, workspace.Path(), err)
	}
}

// teardownSnapshots unmounts and destroys the run's snapshots in reverse
// creation order. Each snapshot is attempted once; failures are recorded.
func (o *Orchestrator) teardownSnapshots(ctx context.Context) {
	if len(o.snapshots) == 0 {
		return
	}
	manager := zfs.NewManager(o.runner, o.logger, o.cfg.WorkspacePath, o.cfg.DryRun)
	for i := len(o.snapshots) - 1; i >= 0; i-- {
		snap := o.snapshots[i]
		if err := manager.UnmountAndDestroy(ctx, snap); err != nil {
			o.logger.Error("Teardown of snapshot %s failed: %v", snap.Name, err)
			o.failures.Record(types.StageCleanup, snap.Pool, err)
		}
	}
	o.snapshots = nil
}

// abort finalizes a report for a run that never got past its preconditions.
func (o *Orchestrator) abort(report *RunReport, cause error) *RunReport {
	report.EndTime = o.now()
	report.Aborted = true
	report.AbortMessage = cause.Error()
	report.ExitCode = AbortExitCode(cause)
	o.logger.Critical("Backup run aborted: %v", cause)
	o.state = StateReported
	return report
}

// AbortExitCode maps an abort cause to the process exit code.
func AbortExitCode(err error) types.ExitCode {
	switch {
	case errors.Is(err, checks.ErrLockHeld):
		return types.ExitLockHeld
	case errors.Is(err, checks.ErrDirtyWorkspace):
		return types.ExitDirtyWorkspace
	case errors.Is(err, ErrNoTargets):
		return types.ExitNoTargets
	default:
		return types.ExitConfigError
	}
}
