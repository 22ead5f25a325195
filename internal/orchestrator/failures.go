// Package orchestrator sequences a full backup run: preconditions, lock,
// snapshots, per-repository borg work, cleanup and the final report.
package orchestrator

import (
	"fmt"
	"strings"

	"github.com/borgsave/borgsave/internal/types"
)

// FailureAggregator collects stage failures over a run. The run keeps going
// after a stage failure; the aggregate decides the final outcome.
type FailureAggregator struct {
	failures []types.FailureReason
}

// NewFailureAggregator returns an empty aggregator.
func NewFailureAggregator() *FailureAggregator {
	return &FailureAggregator{}
}

// Record appends one failure. Target may be a pool name, a repository URL
// or empty for run-wide failures.
func (f *FailureAggregator) Record(stage types.Stage, target string, err error) {
	f.failures = append(f.failures, types.FailureReason{
		Stage:   stage,
		Target:  target,
		Message: err.Error(),
	})
}

// HasFailures reports whether anything failed so far.
func (f *FailureAggregator) HasFailures() bool {
	return len(f.failures) > 0
}

// Failures returns the recorded failures in order of occurrence.
func (f *FailureAggregator) Failures() []types.FailureReason {
	return f.failures
}

// Summary renders a short comma-separated list of failed stages with their
// targets, suitable for an email subject line.
func (f *FailureAggregator) Summary() string {
	if len(f.failures) == 0 {
		return ""
	}
	seen := make(map[string]bool)
	var parts []string
	for _, failure := range f.failures {
		label := failure.Stage.String()
		if failure.Target != "" {
			label = fmt.Sprintf("%s(%s)", failure.Stage, failure.Target)
		}
		if !seen[label] {
			seen[label] = true
			parts = append(parts, label)
		}
	}
	return strings.Join(parts, ", ")
}
