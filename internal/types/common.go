package types

// Stage identifies one discrete operation in the orchestration sequence.
type Stage string

const (
	// StageSnapshot - ZFS snapshot creation/mounting
	StageSnapshot Stage = "SNAPSHOT"

	// StageCreate - borg create
	StageCreate Stage = "CREATE"

	// StageCheck - borg check
	StageCheck Stage = "CHECK"

	// StagePrune - borg prune
	StagePrune Stage = "PRUNE"

	// StageCompact - borg compact
	StageCompact Stage = "COMPACT"

	// StageCleanup - snapshot teardown and workspace clearing
	StageCleanup Stage = "CLEANUP"
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// FailureReason records one stage failure for the run report.
// The list accumulated over a run is append-only.
type FailureReason struct {
	// Stage that failed
	Stage Stage

	// Target is the pool name or repository URL affected
	Target string

	// Message is a human-readable description
	Message string
}

// RepositoryTarget describes one configured Borg repository.
// Immutable for the duration of a run.
type RepositoryTarget struct {
	// Repository URL, e.g. ssh://user@host:23/./backups
	URL string

	// Encryption mode used at init time (repokey, keyfile, none)
	EncryptionMode string

	// Passphrase for the repository key (secret, may be empty)
	Passphrase string

	// PassphraseFile points at a file holding the passphrase; an .age
	// extension marks it as sealed and it is unsealed at run start
	PassphraseFile string

	// SSHKeyPath overrides the default transport key for this repository only
	SSHKeyPath string
}

// RetentionPolicy describes how many archives per calendar granularity
// survive a prune operation.
type RetentionPolicy struct {
	KeepDaily   int
	KeepWeekly  int
	KeepMonthly int
	KeepYearly  int

	// CompactEnabled controls whether borg compact runs after prune
	CompactEnabled bool
}

// LogLevel represents the logging level.
type LogLevel int

const (
	// LogLevelDebug - Debug logs (maximum detail)
	LogLevelDebug LogLevel = 5

	// LogLevelInfo - General information
	LogLevelInfo LogLevel = 4

	// LogLevelWarning - Warnings
	LogLevelWarning LogLevel = 3

	// LogLevelError - Errors
	LogLevelError LogLevel = 2

	// LogLevelCritical - Critical errors
	LogLevelCritical LogLevel = 1

	// LogLevelNone - No logs
	LogLevelNone LogLevel = 0
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarning:
		return "WARNING"
	case LogLevelError:
		return "ERROR"
	case LogLevelCritical:
		return "CRITICAL"
	case LogLevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}
