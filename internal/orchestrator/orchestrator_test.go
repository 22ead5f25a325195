package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/borgsave/borgsave/internal/command"
	"github.com/borgsave/borgsave/internal/config"
	"github.com/borgsave/borgsave/internal/logging"
	"github.com/borgsave/borgsave/internal/types"
)

func testLogger() *logging.Logger {
	logger := logging.New(types.LogLevelDebug, false)
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	workspace := filepath.Join(t.TempDir(), "work")
	return &config.Config{
		NamePrefix:    "linux-backup",
		WorkspacePath: workspace,
		LockPath:      filepath.Join(workspace, ".lock"),
		Directories:   []string{"/etc"},
		Pools:         []string{"tank"},
		Repositories: []types.RepositoryTarget{
			{URL: "/mnt/repo", Passphrase: "pw"},
		},
		Retention: types.RetentionPolicy{
			KeepDaily: 7, KeepWeekly: 4, KeepMonthly: 6, KeepYearly: 2,
			CompactEnabled: true,
		},
		CheckVerifyData: true,
	}
}

func fixedClock(o *Orchestrator) {
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)
	o.now = func() time.Time { return base }
}

func TestRunHappyPath(t *testing.T) {
	cfg := testConfig(t)
	runner := &command.FakeRunner{}
	o := New(cfg, testLogger(), runner)
	fixedClock(o)

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !report.Success || report.ExitCode != types.ExitSuccess {
		t.Errorf("report = success=%v exit=%v, want clean success", report.Success, report.ExitCode)
	}
	if report.Timestamp != "20250102_03-04-05" {
		t.Errorf("Timestamp = %q", report.Timestamp)
	}
	if report.SnapshotsCreated != 1 || report.ArchivesCreated != 1 {
		t.Errorf("snapshots=%d archives=%d, want 1/1", report.SnapshotsCreated, report.ArchivesCreated)
	}
	if o.State() != StateReported {
		t.Errorf("state = %s, want REPORTED", o.State())
	}

	mountPath := filepath.Join(cfg.WorkspacePath, "zfs", "tank")
	want := []string{
		"zfs snapshot tank@linux-backup-20250102_03-04-05",
		"mount -t zfs -o ro tank@linux-backup-20250102_03-04-05 " + mountPath,
		"borg create --stats --compression lz4 /mnt/repo::linux-backup-20250102_03-04-05 /etc " + mountPath,
		"borg check --verify-data /mnt/repo",
		"borg list --json /mnt/repo",
		"borg prune -v --list --keep-daily 7 --keep-weekly 4 --keep-monthly 6 --keep-yearly 2 /mnt/repo",
		"borg compact /mnt/repo",
		"umount " + mountPath,
		"zfs destroy tank@linux-backup-20250102_03-04-05",
	}
	if !reflect.DeepEqual(runner.CommandLines(), want) {
		t.Errorf("commands:\n got %v\nwant %v", runner.CommandLines(), want)
	}

	// The lock must be gone and the workspace empty afterwards.
	if _, err := os.Stat(cfg.LockPath); !os.IsNotExist(err) {
		t.Error("lock file should be released")
	}
	entries, err := os.ReadDir(cfg.WorkspacePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("workspace not cleared: %v", entries)
	}
}

func TestRunLockHeldAborts(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.WorkspacePath, 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.LockPath, []byte("pid=1\n"), 0640); err != nil {
		t.Fatal(err)
	}

	runner := &command.FakeRunner{}
	o := New(cfg, testLogger(), runner)

	report, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected abort error")
	}
	if !report.Aborted || report.ExitCode != types.ExitLockHeld {
		t.Errorf("report = aborted=%v exit=%v, want lock-held abort", report.Aborted, report.ExitCode)
	}
	if len(runner.Calls) != 0 {
		t.Errorf("aborted run must have zero side effects, got %v", runner.CommandLines())
	}
	// The other run's lock file must survive the abort.
	if _, err := os.Stat(cfg.LockPath); err != nil {
		t.Errorf("foreign lock file was removed: %v", err)
	}
}

func TestRunDirtyWorkspaceAborts(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.WorkspacePath, 0750); err != nil {
		t.Fatal(err)
	}
	leftover := filepath.Join(cfg.WorkspacePath, "leftover")
	if err := os.WriteFile(leftover, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	runner := &command.FakeRunner{}
	o := New(cfg, testLogger(), runner)

	report, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected abort error")
	}
	if report.ExitCode != types.ExitDirtyWorkspace {
		t.Errorf("ExitCode = %v, want dirty workspace", report.ExitCode)
	}
	if len(runner.Calls) != 0 {
		t.Errorf("aborted run must have zero side effects, got %v", runner.CommandLines())
	}
	// The leftover stays for the operator to inspect.
	if _, err := os.Stat(leftover); err != nil {
		t.Errorf("leftover was removed during abort: %v", err)
	}
}

func TestRunNoTargetsAborts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Directories = nil
	cfg.Pools = nil

	o := New(cfg, testLogger(), &command.FakeRunner{})
	report, err := o.Run(context.Background())
	if err == nil {
		t.Fatal("expected abort error")
	}
	if report.ExitCode != types.ExitNoTargets {
		t.Errorf("ExitCode = %v, want no targets", report.ExitCode)
	}
}

func TestRunSnapshotFailureIsolated(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pools = []string{"badpool", "tank"}

	runner := &command.FakeRunner{}
	runner.Hook = func(spec command.Spec) (command.Result, error) {
		if spec.Name == "zfs" && len(spec.Args) > 1 && strings.HasPrefix(spec.Args[1], "badpool@") {
			return command.Result{ExitCode: 1, Stderr: "dataset does not exist"}, nil
		}
		return command.Result{}, nil
	}
	o := New(cfg, testLogger(), runner)
	fixedClock(o)

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("stage failures must not abort the run: %v", err)
	}

	if report.Success || report.ExitCode != types.ExitStageFailures {
		t.Errorf("exit = %v, want stage failures", report.ExitCode)
	}
	if report.SnapshotsCreated != 1 {
		t.Errorf("SnapshotsCreated = %d, want 1 (tank)", report.SnapshotsCreated)
	}
	if len(report.Failures) != 1 || report.Failures[0].Stage != types.StageSnapshot || report.Failures[0].Target != "badpool" {
		t.Errorf("Failures = %+v", report.Failures)
	}

	// The good pool's mountpoint must be in the archive.
	tankMount := filepath.Join(cfg.WorkspacePath, "zfs", "tank")
	var createLine string
	for _, line := range runner.CommandLines() {
		if strings.HasPrefix(line, "borg create") {
			createLine = line
		}
	}
	if !strings.Contains(createLine, tankMount) || !strings.Contains(createLine, "/etc") {
		t.Errorf("borg create = %q, want /etc and %s", createLine, tankMount)
	}
	if strings.Contains(createLine, "badpool") {
		t.Errorf("failed pool must not appear in borg create: %q", createLine)
	}
}

func TestRunCreateFailureDoesNotStopLaterStages(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pools = nil

	runner := &command.FakeRunner{}
	runner.Hook = func(spec command.Spec) (command.Result, error) {
		if spec.Name == "borg" && spec.Args[0] == "create" {
			return command.Result{ExitCode: 2, Stderr: "Connection refused"}, nil
		}
		return command.Result{}, nil
	}
	o := New(cfg, testLogger(), runner)

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ExitCode != types.ExitStageFailures {
		t.Errorf("ExitCode = %v", report.ExitCode)
	}

	var subcommands []string
	for _, call := range runner.Calls {
		if call.Name == "borg" {
			subcommands = append(subcommands, call.Args[0])
		}
	}
	want := []string{"create", "check", "list", "prune", "compact"}
	if !reflect.DeepEqual(subcommands, want) {
		t.Errorf("borg subcommands = %v, want %v (stages run independently)", subcommands, want)
	}
}

func TestRunAllSnapshotsFailedNoDirectories(t *testing.T) {
	cfg := testConfig(t)
	cfg.Directories = nil
	cfg.Pools = []string{"tank"}

	runner := &command.FakeRunner{}
	runner.Hook = func(spec command.Spec) (command.Result, error) {
		if spec.Name == "zfs" && spec.Args[0] == "snapshot" {
			return command.Result{ExitCode: 1, Stderr: "boom"}, nil
		}
		return command.Result{}, nil
	}
	o := New(cfg, testLogger(), runner)

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ArchivesCreated != 0 {
		t.Errorf("ArchivesCreated = %d, want 0", report.ArchivesCreated)
	}

	var subcommands []string
	for _, call := range runner.Calls {
		if call.Name == "borg" {
			subcommands = append(subcommands, call.Args[0])
		}
	}
	// No create possible, but maintenance stages still run.
	want := []string{"check", "list", "prune", "compact"}
	if !reflect.DeepEqual(subcommands, want) {
		t.Errorf("borg subcommands = %v, want %v", subcommands, want)
	}

	var hasCreateFailure bool
	for _, f := range report.Failures {
		if f.Stage == types.StageCreate {
			hasCreateFailure = true
		}
	}
	if !hasCreateFailure {
		t.Errorf("missing CREATE failure for empty source paths: %+v", report.Failures)
	}
}

func TestRunCheckFailureIsolatedPerRepository(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pools = nil
	cfg.Repositories = []types.RepositoryTarget{
		{URL: "/mnt/repo-a", Passphrase: "a"},
		{URL: "/mnt/repo-b", Passphrase: "b"},
	}

	runner := &command.FakeRunner{}
	runner.Hook = func(spec command.Spec) (command.Result, error) {
		if spec.Name == "borg" && spec.Args[0] == "check" && spec.Args[len(spec.Args)-1] == "/mnt/repo-a" {
			return command.Result{ExitCode: 2, Stderr: "repository check failed"}, nil
		}
		return command.Result{}, nil
	}
	o := New(cfg, testLogger(), runner)

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.ExitCode != types.ExitStageFailures {
		t.Errorf("ExitCode = %v, want stage failures", report.ExitCode)
	}
	if report.ArchivesCreated != 2 {
		t.Errorf("ArchivesCreated = %d, want 2", report.ArchivesCreated)
	}

	// The second repository still gets its full stage sequence.
	var secondRepo []string
	for _, call := range runner.Calls {
		if call.Name == "borg" && strings.Contains(call.String(), "/mnt/repo-b") {
			secondRepo = append(secondRepo, call.Args[0])
		}
	}
	want := []string{"create", "check", "list", "prune", "compact"}
	if !reflect.DeepEqual(secondRepo, want) {
		t.Errorf("repo-b borg subcommands = %v, want %v", secondRepo, want)
	}

	if len(report.Failures) != 1 {
		t.Fatalf("Failures = %+v, want exactly one", report.Failures)
	}
	if f := report.Failures[0]; f.Stage != types.StageCheck || f.Target != "/mnt/repo-a" {
		t.Errorf("failure = %+v, want CHECK on /mnt/repo-a", f)
	}
}

func TestRunPanicStillReleasesLockAndSnapshots(t *testing.T) {
	cfg := testConfig(t)
	runner := &command.FakeRunner{}
	runner.Hook = func(spec command.Spec) (command.Result, error) {
		if spec.Name == "borg" && spec.Args[0] == "create" {
			panic("stage bug")
		}
		return command.Result{}, nil
	}
	o := New(cfg, testLogger(), runner)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected the panic to propagate")
			}
		}()
		_, _ = o.Run(context.Background())
	}()

	if _, err := os.Stat(cfg.LockPath); !os.IsNotExist(err) {
		t.Error("lock file must not survive a mid-run panic")
	}
	var sawUmount, sawDestroy bool
	for _, line := range runner.CommandLines() {
		if strings.HasPrefix(line, "umount ") {
			sawUmount = true
		}
		if strings.HasPrefix(line, "zfs destroy ") {
			sawDestroy = true
		}
	}
	if !sawUmount || !sawDestroy {
		t.Errorf("snapshot teardown missing after panic: %v", runner.CommandLines())
	}
}

func TestRunTeardownReverseOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Directories = nil
	cfg.Pools = []string{"alpha", "beta"}
	cfg.Repositories = nil

	runner := &command.FakeRunner{}
	o := New(cfg, testLogger(), runner)

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var destroys []string
	for _, line := range runner.CommandLines() {
		if strings.HasPrefix(line, "zfs destroy ") {
			destroys = append(destroys, line)
		}
	}
	if len(destroys) != 2 || !strings.Contains(destroys[0], "beta@") || !strings.Contains(destroys[1], "alpha@") {
		t.Errorf("teardown order = %v, want beta before alpha", destroys)
	}
}

func TestRunCompactDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pools = nil
	cfg.Retention.CompactEnabled = false

	runner := &command.FakeRunner{}
	o := New(cfg, testLogger(), runner)

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, call := range runner.Calls {
		if call.Name == "borg" && call.Args[0] == "compact" {
			t.Error("compact must not run when disabled")
		}
	}
}

func TestRunDryRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.DryRun = true

	runner := &command.FakeRunner{}
	o := New(cfg, testLogger(), runner)

	report, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Success {
		t.Errorf("dry run should succeed: %+v", report.Failures)
	}
	if len(runner.Calls) != 0 {
		t.Errorf("dry run must not execute commands, got %v", runner.CommandLines())
	}
	if _, err := os.Stat(cfg.LockPath); !os.IsNotExist(err) {
		t.Error("dry run must not create the lock file")
	}
	if _, err := os.Stat(cfg.WorkspacePath); !os.IsNotExist(err) {
		t.Error("dry run must not create the workspace directory")
	}
}

func TestAbortExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want types.ExitCode
	}{
		{ErrNoTargets, types.ExitNoTargets},
	}
	for _, tt := range tests {
		if got := AbortExitCode(tt.err); got != tt.want {
			t.Errorf("AbortExitCode(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if got := AbortExitCode(errors.New("bad config")); got != types.ExitConfigError {
		t.Errorf("unknown abort = %v, want config error", got)
	}
}
