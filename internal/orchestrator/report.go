package orchestrator

import (
	"time"

	"github.com/borgsave/borgsave/internal/types"
)

// RunState tracks where in the run lifecycle the orchestrator is. The
// sequence is linear; there are no retries or jumps backwards.
type RunState string

const (
	StateInit         RunState = "INIT"
	StatePrecheck     RunState = "PRECHECK"
	StateLocked       RunState = "LOCKED"
	StateSnapshotting RunState = "SNAPSHOTTING"
	StateBackingUp    RunState = "BACKING_UP"
	StateCleanup      RunState = "CLEANUP"
	StateUnlocked     RunState = "UNLOCKED"
	StateReported     RunState = "REPORTED"
)

// RunReport is the single outcome handed to notification and metrics once
// a run finishes, whether it completed or aborted.
type RunReport struct {
	// Timestamp identifies the run; archives and snapshots carry it
	Timestamp string

	StartTime time.Time
	EndTime   time.Time

	// Aborted is true when a precondition failed before any side effect;
	// AbortMessage then explains why and Failures stays empty
	Aborted      bool
	AbortMessage string

	// Success means the run completed with no failures recorded
	Success  bool
	ExitCode types.ExitCode

	// Failures lists every stage failure in order of occurrence
	Failures []types.FailureReason

	// FailureSummary is the short form for subject lines
	FailureSummary string

	// What the run worked on
	Pools        []string
	Directories  []string
	Repositories []string

	SnapshotsCreated int
	ArchivesCreated  int

	DryRun  bool
	LogPath string
}

// Duration returns the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
