// Package types defines shared application data types.
package types

// ExitCode represents the application's exit codes.
type ExitCode int

const (
	// ExitSuccess - Run completed with zero failures.
	ExitSuccess ExitCode = 0

	// ExitStageFailures - Run completed but one or more stages failed.
	ExitStageFailures ExitCode = 1

	// ExitConfigError - Configuration error.
	ExitConfigError ExitCode = 2

	// ExitDirtyWorkspace - Workspace was not empty at run start.
	ExitDirtyWorkspace ExitCode = 3

	// ExitLockHeld - Another run holds the lock.
	ExitLockHeld ExitCode = 4

	// ExitNoTargets - Neither directories nor pools configured.
	ExitNoTargets ExitCode = 5

	// ExitPanicError - Unhandled panic caught.
	ExitPanicError ExitCode = 13
)

// String returns a human-readable description of the exit code.
func (e ExitCode) String() string {
	switch e {
	case ExitSuccess:
		return "success"
	case ExitStageFailures:
		return "completed with failures"
	case ExitConfigError:
		return "configuration error"
	case ExitDirtyWorkspace:
		return "dirty workspace"
	case ExitLockHeld:
		return "lock held"
	case ExitNoTargets:
		return "no backup targets"
	case ExitPanicError:
		return "panic error"
	default:
		return "unknown error"
	}
}

// Int returns the exit code as a plain int.
func (e ExitCode) Int() int {
	return int(e)
}
