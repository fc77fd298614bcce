package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPrepareAndCleanup(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	dir, err := m.Prepare("build-1")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	marker := filepath.Join(dir, "stale")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	again, err := m.Prepare("build-1")
	if err != nil || again != dir {
		t.Fatalf("prepare again: %s %v", again, err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("expected leftovers removed")
	}
	if err := m.Cleanup(dir); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected directory removed")
	}
}

func TestCleanupRefusesOutsideRoot(t *testing.T) {
	m, _ := New(t.TempDir())
	if err := m.Cleanup(t.TempDir()); err == nil {
		t.Fatalf("expected refusal")
	}
	if err := m.Cleanup(m.Root()); err == nil {
		t.Fatalf("expected refusal for root itself")
	}
	if _, err := m.Prepare("../escape"); err == nil {
		t.Fatalf("expected invalid identifier")
	}
}
