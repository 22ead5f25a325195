package checks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestWorkspaceEnsureCleanCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "work")
	ws := NewWorkspace(path, testLogger(), false)

	if err := ws.EnsureClean(context.Background(), ""); err != nil {
		t.Fatalf("EnsureClean: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		t.Fatalf("workspace not created: %v", err)
	}
}

func TestWorkspaceEnsureCleanDryRunDoesNotCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "work")
	ws := NewWorkspace(path, testLogger(), true)

	if err := ws.EnsureClean(context.Background(), ""); err != nil {
		t.Fatalf("EnsureClean: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("dry run must not create the workspace directory")
	}
}

func TestWorkspaceEnsureCleanDryRunStillDetectsDirt(t *testing.T) {
	path := t.TempDir()
	if err := os.WriteFile(filepath.Join(path, "leftover"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	ws := NewWorkspace(path, testLogger(), true)
	if err := ws.EnsureClean(context.Background(), ""); !errors.Is(err, ErrDirtyWorkspace) {
		t.Fatalf("EnsureClean = %v, want ErrDirtyWorkspace", err)
	}
}

func TestWorkspaceEnsureCleanEmptyOK(t *testing.T) {
	path := t.TempDir()
	ws := NewWorkspace(path, testLogger(), false)
	if err := ws.EnsureClean(context.Background(), ""); err != nil {
		t.Errorf("EnsureClean on empty dir: %v", err)
	}
}

func TestWorkspaceEnsureCleanDirty(t *testing.T) {
	path := t.TempDir()
	if err := os.WriteFile(filepath.Join(path, "leftover"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	ws := NewWorkspace(path, testLogger(), false)
	err := ws.EnsureClean(context.Background(), "")
	if !errors.Is(err, ErrDirtyWorkspace) {
		t.Fatalf("EnsureClean = %v, want ErrDirtyWorkspace", err)
	}
}

func TestWorkspaceEnsureCleanToleratesLockFile(t *testing.T) {
	path := t.TempDir()
	lockPath := filepath.Join(path, ".lock")
	if err := os.WriteFile(lockPath, []byte("pid=1\n"), 0640); err != nil {
		t.Fatal(err)
	}

	ws := NewWorkspace(path, testLogger(), false)
	if err := ws.EnsureClean(context.Background(), lockPath); err != nil {
		t.Errorf("the run's own lock file must not count as dirt: %v", err)
	}
}

func TestWorkspaceClearContents(t *testing.T) {
	path := t.TempDir()
	lockPath := filepath.Join(path, ".lock")
	if err := os.WriteFile(lockPath, []byte("pid=1\n"), 0640); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(path, "zfs", "rpool_data"), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "stray"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	ws := NewWorkspace(path, testLogger(), false)
	if err := ws.ClearContents(context.Background(), lockPath); err != nil {
		t.Fatalf("ClearContents: %v", err)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != ".lock" {
		t.Errorf("workspace should contain only the lock file, got %v", entries)
	}
}

func TestWorkspaceClearContentsMissingDir(t *testing.T) {
	ws := NewWorkspace(filepath.Join(t.TempDir(), "absent"), testLogger(), false)
	if err := ws.ClearContents(context.Background(), ""); err != nil {
		t.Errorf("ClearContents on a missing workspace: %v", err)
	}
}

func TestWorkspaceEnsureCleanCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ws := NewWorkspace(t.TempDir(), testLogger(), false)
	if err := ws.EnsureClean(ctx, ""); err == nil {
		t.Error("expected error with cancelled context")
	}
}
