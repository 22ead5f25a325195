package checks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/borgsave/borgsave/internal/logging"
	"github.com/borgsave/borgsave/internal/safefs"
	"github.com/borgsave/borgsave/pkg/utils"
)

// ErrDirtyWorkspace is returned when the workspace directory contains
// entries at run start. Leftovers usually mean an earlier run crashed with
// snapshots still mounted, which needs operator attention.
var ErrDirtyWorkspace = errors.New("workspace directory is not empty")

// fsTimeout bounds workspace filesystem calls. A crashed run can leave dead
// snapshot mounts behind, and reading those can hang forever.
const fsTimeout = 15 * time.Second

// Workspace manages the scratch directory where snapshots are mounted
// during a run.
type Workspace struct {
	path   string
	logger *logging.Logger
	dryRun bool
}

// NewWorkspace returns a workspace rooted at path.
func NewWorkspace(path string, logger *logging.Logger, dryRun bool) *Workspace {
	return &Workspace{path: path, logger: logger, dryRun: dryRun}
}

// Path returns the workspace root.
func (w *Workspace) Path() string {
	return w.path
}

// EnsureClean creates the workspace if absent and verifies it is empty.
// The lock file may live inside the workspace; it is the one tolerated entry.
func (w *Workspace) EnsureClean(ctx context.Context, lockPath string) error {
	if _, err := safefs.Stat(ctx, w.path, fsTimeout); err != nil {
		if os.IsNotExist(err) {
			if w.dryRun {
				w.logger.Skip("Dry run: not creating workspace directory %s", w.path)
				return nil
			}
			if mkErr := utils.EnsureDir(w.path, 0750); mkErr != nil {
				return fmt.Errorf("cannot create workspace %s: %w", w.path, mkErr)
			}
			w.logger.Debug("Created workspace directory: %s", w.path)
			return nil
		}
		return fmt.Errorf("cannot access workspace %s: %w", w.path, err)
	}

	entries, err := safefs.ReadDir(ctx, w.path, fsTimeout)
	if err != nil {
		return fmt.Errorf("cannot read workspace %s: %w", w.path, err)
	}
	for _, entry := range entries {
		full := filepath.Join(w.path, entry.Name())
		if full == lockPath {
			continue
		}
		return fmt.Errorf("%w: found %s", ErrDirtyWorkspace, entry.Name())
	}
	return nil
}

// ClearContents removes everything inside the workspace except the lock
// file, leaving the directory itself in place. Removal failures are
// collected so that one stubborn entry does not stop the rest.
func (w *Workspace) ClearContents(ctx context.Context, lockPath string) error {
	entries, err := safefs.ReadDir(ctx, w.path, fsTimeout)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cannot read workspace %s: %w", w.path, err)
	}

	var firstErr error
	for _, entry := range entries {
		full := filepath.Join(w.path, entry.Name())
		if full == lockPath {
			continue
		}
		if err := os.RemoveAll(full); err != nil {
			w.logger.Warning("Cannot remove workspace entry %s: %v", full, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		w.logger.Debug("Removed workspace entry: %s", full)
	}
	return firstErr
}
