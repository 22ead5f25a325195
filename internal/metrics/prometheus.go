// Package metrics exports the outcome of a backup run in Prometheus
// textfile format for node_exporter's textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/borgsave/borgsave/internal/logging"
	"github.com/borgsave/borgsave/internal/orchestrator"
)

// BackupMetrics is the subset of run statistics exported as metrics.
type BackupMetrics struct {
	Hostname string

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	ExitCode         int
	Aborted          bool
	FailureCount     int
	SnapshotsCreated int
	ArchivesCreated  int
	PoolCount        int
	RepositoryCount  int
}

// FromReport builds a metrics snapshot from a run report.
func FromReport(report *orchestrator.RunReport, hostname string) *BackupMetrics {
	return &BackupMetrics{
		Hostname:         hostname,
		StartTime:        report.StartTime,
		EndTime:          report.EndTime,
		Duration:         report.Duration(),
		ExitCode:         report.ExitCode.Int(),
		Aborted:          report.Aborted,
		FailureCount:     len(report.Failures),
		SnapshotsCreated: report.SnapshotsCreated,
		ArchivesCreated:  report.ArchivesCreated,
		PoolCount:        len(report.Pools),
		RepositoryCount:  len(report.Repositories),
	}
}

// PrometheusExporter writes metrics to borgsave_backup.prom in textfileDir.
type PrometheusExporter struct {
	textfileDir string
	logger      *logging.Logger
}

// NewPrometheusExporter creates an exporter for the given directory.
func NewPrometheusExporter(textfileDir string, logger *logging.Logger) *PrometheusExporter {
	return &PrometheusExporter{
		textfileDir: strings.TrimRight(textfileDir, "/"),
		logger:      logger,
	}
}

// Export writes the snapshot. The file is written to a .tmp sibling and
// renamed so node_exporter never reads a half-written file.
func (pe *PrometheusExporter) Export(m *BackupMetrics) error {
	if pe == nil || m == nil {
		return nil
	}
	if pe.textfileDir == "" {
		return fmt.Errorf("metrics textfile directory is empty")
	}

	if err := os.MkdirAll(pe.textfileDir, 0o755); err != nil {
		return fmt.Errorf("create metrics directory %s: %w", pe.textfileDir, err)
	}

	tmpPath := filepath.Join(pe.textfileDir, "borgsave_backup.prom.tmp")
	finalPath := filepath.Join(pe.textfileDir, "borgsave_backup.prom")

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create metrics file %s: %w", tmpPath, err)
	}
	defer f.Close()

	writeMetric := func(name, mtype, help, value string) {
		fmt.Fprintf(f, "# HELP %s %s\n", name, help)
		fmt.Fprintf(f, "# TYPE %s %s\n", name, mtype)
		fmt.Fprintln(f, value)
	}

	aborted := 0
	if m.Aborted {
		aborted = 1
	}

	writeMetric(
		"borgsave_backup_start_time_seconds",
		"gauge",
		"Unix timestamp of backup start",
		fmt.Sprintf("borgsave_backup_start_time_seconds %.0f", float64(m.StartTime.Unix())),
	)
	writeMetric(
		"borgsave_backup_end_time_seconds",
		"gauge",
		"Unix timestamp of backup end",
		fmt.Sprintf("borgsave_backup_end_time_seconds %.0f", float64(m.EndTime.Unix())),
	)
	writeMetric(
		"borgsave_backup_duration_seconds",
		"gauge",
		"Duration of last backup in seconds",
		fmt.Sprintf("borgsave_backup_duration_seconds %.2f", m.Duration.Seconds()),
	)
	writeMetric(
		"borgsave_backup_exit_code",
		"gauge",
		"Exit code of last backup",
		fmt.Sprintf("borgsave_backup_exit_code %d", m.ExitCode),
	)
	writeMetric(
		"borgsave_backup_aborted",
		"gauge",
		"Whether the last run aborted before doing any work",
		fmt.Sprintf("borgsave_backup_aborted %d", aborted),
	)
	writeMetric(
		"borgsave_backup_failures_total",
		"gauge",
		"Number of stage failures in last backup",
		fmt.Sprintf("borgsave_backup_failures_total %d", m.FailureCount),
	)
	writeMetric(
		"borgsave_backup_snapshots_created",
		"gauge",
		"ZFS snapshots created during last backup",
		fmt.Sprintf("borgsave_backup_snapshots_created %d", m.SnapshotsCreated),
	)
	writeMetric(
		"borgsave_backup_archives_created",
		"gauge",
		"Borg archives created during last backup",
		fmt.Sprintf("borgsave_backup_archives_created %d", m.ArchivesCreated),
	)
	writeMetric(
		"borgsave_backup_pools_configured",
		"gauge",
		"ZFS pools configured for backup",
		fmt.Sprintf("borgsave_backup_pools_configured %d", m.PoolCount),
	)
	writeMetric(
		"borgsave_backup_repositories_configured",
		"gauge",
		"Borg repositories configured for backup",
		fmt.Sprintf("borgsave_backup_repositories_configured %d", m.RepositoryCount),
	)

	fmt.Fprintf(f, "# HELP borgsave_backup_info Static information about this backup instance\n")
	fmt.Fprintf(f, "# TYPE borgsave_backup_info gauge\n")
	fmt.Fprintf(f, "borgsave_backup_info{hostname=%q} 1\n", m.Hostname)

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync metrics file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("rename metrics file to %s: %w", finalPath, err)
	}

	if pe.logger != nil {
		pe.logger.Debug("Prometheus metrics exported to %s", finalPath)
	}
	return nil
}
