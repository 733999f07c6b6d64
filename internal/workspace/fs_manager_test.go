package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFSManagerCreateOpenRemove(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "workspaces")
	mgr, err := NewFSManager(baseDir)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	ws, err := mgr.Create(context.Background(), "run-a")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	wantPath := filepath.Join(baseDir, "run-a")
	if ws.Dir != wantPath {
		t.Fatalf("Create() dir = %q, want %q", ws.Dir, wantPath)
	}

	opened, err := mgr.Open(context.Background(), "run-a")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if opened != ws {
		t.Fatalf("Open() workspace = %+v, want %+v", opened, ws)
	}

	if _, err := mgr.Create(context.Background(), "run-a"); err == nil {
		t.Fatalf("Create() on existing run should fail")
	}

	if err := os.WriteFile(filepath.Join(ws.Dir, "out.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := mgr.Remove(context.Background(), "run-a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("workspace should be gone, err = %v", err)
	}
	if err := mgr.Remove(context.Background(), "run-a"); err != nil {
		t.Fatalf("Remove() of missing workspace error = %v", err)
	}
}

func TestFSManagerRejectsUnsafeRunIDs(t *testing.T) {
	mgr, err := NewFSManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	for _, id := range []string{"", "  ", ".", "..", "a/b", `a\b`} {
		if _, err := mgr.Create(context.Background(), id); err == nil {
			t.Errorf("Create(%q) should fail", id)
		}
		if err := mgr.Remove(context.Background(), id); err == nil {
			t.Errorf("Remove(%q) should fail", id)
		}
	}

	if _, err := NewFSManager(" "); err == nil {
		t.Fatalf("NewFSManager() with blank base should fail")
	}
}

func TestFSManagerCleanup(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "workspaces")
	mgr, err := NewFSManager(baseDir)
	if err != nil {
		t.Fatalf("NewFSManager() error = %v", err)
	}

	oldWS, err := mgr.Create(context.Background(), "run-old")
	if err != nil {
		t.Fatalf("Create(old) error = %v", err)
	}
	newWS, err := mgr.Create(context.Background(), "run-new")
	if err != nil {
		t.Fatalf("Create(new) error = %v", err)
	}

	oldTime := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldWS.Dir, oldTime, oldTime); err != nil {
		t.Fatalf("Chtimes(old workspace) error = %v", err)
	}

	report, err := mgr.Cleanup(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if report.DeletedDirs != 1 {
		t.Fatalf("Cleanup() deleted = %d, want 1", report.DeletedDirs)
	}

	if _, err := os.Stat(oldWS.Dir); !os.IsNotExist(err) {
		t.Fatalf("old workspace should be deleted, err = %v", err)
	}
	if _, err := os.Stat(newWS.Dir); err != nil {
		t.Fatalf("new workspace should still exist, err = %v", err)
	}

	if _, err := mgr.Cleanup(context.Background(), 0); err == nil {
		t.Fatalf("Cleanup(0) should fail")
	}
}
