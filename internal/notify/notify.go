// Package notify delivers the end-of-run report, currently by email via a
// local sendmail binary or a remote SMTP server.
package notify

import (
	"context"
	"time"

	"github.com/borgsave/borgsave/internal/orchestrator"
	"github.com/borgsave/borgsave/internal/types"
)

// Status is the overall outcome carried in a notification.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusAborted
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// NotificationData is everything a channel needs to render a message.
type NotificationData struct {
	Status         Status
	ExitCode       types.ExitCode
	Hostname       string
	Timestamp      string
	StartTime      time.Time
	Duration       time.Duration
	AbortMessage   string
	Failures       []types.FailureReason
	FailureSummary string

	Pools        []string
	Directories  []string
	Repositories []string

	SnapshotsCreated int
	ArchivesCreated  int
	DryRun           bool

	// LogContent is the full run log, appended to the message body
	LogContent string
}

// FromReport converts a run report into notification data.
func FromReport(report *orchestrator.RunReport, hostname, logContent string) *NotificationData {
	data := &NotificationData{
		ExitCode:         report.ExitCode,
		Hostname:         hostname,
		Timestamp:        report.Timestamp,
		StartTime:        report.StartTime,
		Duration:         report.Duration(),
		AbortMessage:     report.AbortMessage,
		Failures:         report.Failures,
		FailureSummary:   report.FailureSummary,
		Pools:            report.Pools,
		Directories:      report.Directories,
		Repositories:     report.Repositories,
		SnapshotsCreated: report.SnapshotsCreated,
		ArchivesCreated:  report.ArchivesCreated,
		DryRun:           report.DryRun,
		LogContent:       logContent,
	}
	switch {
	case report.Aborted:
		data.Status = StatusAborted
	case report.Success:
		data.Status = StatusSuccess
	default:
		data.Status = StatusFailure
	}
	return data
}

// Notifier is implemented by every notification channel.
type Notifier interface {
	// Name returns the channel name for logging
	Name() string

	// IsEnabled reports whether this channel should be used
	IsEnabled() bool

	// Send delivers the notification. Errors are reported to the caller
	// for logging but never affect the run's exit code.
	Send(ctx context.Context, data *NotificationData) error
}
