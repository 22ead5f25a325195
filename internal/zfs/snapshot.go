// Package zfs creates, mounts and destroys ZFS snapshots for a backup run.
package zfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/borgsave/borgsave/internal/command"
	"github.com/borgsave/borgsave/internal/logging"
)

// Snapshot tracks one snapshot through its lifecycle so that teardown can
// undo exactly what was done.
type Snapshot struct {
	// Pool is the dataset the snapshot was taken from
	Pool string

	// Name is the full snapshot name, <pool>@<prefix>-<timestamp>
	Name string

	// MountPath is where the snapshot is (or was to be) mounted read-only
	MountPath string

	// Mounted is true once the read-only mount succeeded
	Mounted bool
}

// Manager runs the zfs and mount tools for snapshot handling.
type Manager struct {
	runner    command.Runner
	logger    *logging.Logger
	workspace string
	dryRun    bool
}

// NewManager returns a snapshot manager mounting under workspace/zfs.
func NewManager(runner command.Runner, logger *logging.Logger, workspace string, dryRun bool) *Manager {
	return &Manager{runner: runner, logger: logger, workspace: workspace, dryRun: dryRun}
}

// SnapshotName builds the snapshot name for a pool and run timestamp.
func SnapshotName(pool, prefix, timestamp string) string {
	return fmt.Sprintf("%s@%s-%s", pool, prefix, timestamp)
}

// MountPath builds the mountpoint for a pool inside the workspace. Slashes
// in nested dataset names are flattened so every pool gets its own
// directory level.
func (m *Manager) MountPath(pool string) string {
	return filepath.Join(m.workspace, "zfs", strings.ReplaceAll(pool, "/", "_"))
}

// CreateAndMount snapshots the pool and mounts the snapshot read-only under
// the workspace. If the mount fails the snapshot is destroyed again so no
// orphan survives the attempt.
func (m *Manager) CreateAndMount(ctx context.Context, pool, prefix, timestamp string) (*Snapshot, error) {
	snap := &Snapshot{
		Pool:      pool,
		Name:      SnapshotName(pool, prefix, timestamp),
		MountPath: m.MountPath(pool),
	}

	if m.dryRun {
		m.logger.Skip("Dry run: would snapshot %s and mount at %s", snap.Name, snap.MountPath)
		return snap, nil
	}

	m.logger.Step("Creating snapshot %s", snap.Name)
	if err := m.run(ctx, "zfs", "snapshot", snap.Name); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", snap.Name, err)
	}

	if err := os.MkdirAll(snap.MountPath, 0750); err != nil {
		m.destroyQuietly(ctx, snap)
		return nil, fmt.Errorf("mountpoint %s: %w", snap.MountPath, err)
	}

	m.logger.Debug("Mounting %s read-only at %s", snap.Name, snap.MountPath)
	if err := m.run(ctx, "mount", "-t", "zfs", "-o", "ro", snap.Name, snap.MountPath); err != nil {
		// Undo the snapshot so a failed mount leaves nothing behind.
		m.destroyQuietly(ctx, snap)
		return nil, fmt.Errorf("mount %s: %w", snap.Name, err)
	}
	snap.Mounted = true
	return snap, nil
}

// UnmountAndDestroy tears one snapshot down: unmount, destroy, remove the
// mountpoint. Each step is attempted even if the previous one failed, and
// the first failure is returned.
func (m *Manager) UnmountAndDestroy(ctx context.Context, snap *Snapshot) error {
	if m.dryRun {
		m.logger.Skip("Dry run: would unmount and destroy %s", snap.Name)
		return nil
	}

	var firstErr error

	if snap.Mounted {
		m.logger.Debug("Unmounting %s", snap.MountPath)
		if err := m.run(ctx, "umount", snap.MountPath); err != nil {
			firstErr = fmt.Errorf("umount %s: %w", snap.MountPath, err)
		} else {
			snap.Mounted = false
		}
	}

	m.logger.Debug("Destroying snapshot %s", snap.Name)
	if err := m.run(ctx, "zfs", "destroy", snap.Name); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("destroy %s: %w", snap.Name, err)
	}

	if err := os.Remove(snap.MountPath); err != nil && !os.IsNotExist(err) {
		m.logger.Debug("Cannot remove mountpoint %s: %v", snap.MountPath, err)
	}
	return firstErr
}

func (m *Manager) destroyQuietly(ctx context.Context, snap *Snapshot) {
	if err := m.run(ctx, "zfs", "destroy", snap.Name); err != nil {
		m.logger.Warning("Cannot destroy snapshot %s after failed mount: %v", snap.Name, err)
	}
	if err := os.Remove(snap.MountPath); err != nil && !os.IsNotExist(err) {
		m.logger.Debug("Cannot remove mountpoint %s: %v", snap.MountPath, err)
	}
}

func (m *Manager) run(ctx context.Context, name string, args ...string) error {
	spec := command.Spec{Name: name, Args: args}
	result, err := m.runner.Run(ctx, spec)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		detail := strings.TrimSpace(result.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(result.Stdout)
		}
		return fmt.Errorf("%s exited with code %d: %s", name, result.ExitCode, detail)
	}
	return nil
}
