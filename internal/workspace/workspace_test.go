package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateAndRemoveStaging(t *testing.T) {
	mgr := NewManager(t.TempDir())

	jobID := NewJobID()
	dir, err := mgr.CreateStaging(jobID)
	if err != nil {
		t.Fatalf("CreateStaging() failed: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("staging directory missing: %v", err)
	}

	if err := mgr.RemoveStaging(dir); err != nil {
		t.Fatalf("RemoveStaging() failed: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("staging directory still exists after removal: %s", dir)
	}
}

func TestStagingDirsAreUniquePerJob(t *testing.T) {
	mgr := NewManager(t.TempDir())

	a, err := mgr.CreateStaging(NewJobID())
	if err != nil {
		t.Fatal(err)
	}
	b, err := mgr.CreateStaging(NewJobID())
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("two jobs received the same staging directory: %s", a)
	}
}

func TestRemoveStagingRefusesOutsidePaths(t *testing.T) {
	root := t.TempDir()
	mgr := NewManager(root)

	victim := filepath.Join(root, "artifacts")
	if err := os.MkdirAll(victim, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := mgr.RemoveStaging(victim); err == nil {
		t.Fatal("expected refusal for non-staging path")
	}
	if _, err := os.Stat(victim); err != nil {
		t.Errorf("victim directory was removed: %v", err)
	}
}

func TestPruneOrphansKeepsActiveJobs(t *testing.T) {
	mgr := NewManager(t.TempDir())

	activeID := NewJobID()
	activeDir, err := mgr.CreateStaging(activeID)
	if err != nil {
		t.Fatal(err)
	}
	orphanDir, err := mgr.CreateStaging(NewJobID())
	if err != nil {
		t.Fatal(err)
	}

	removed := mgr.PruneOrphans(func(jobID string) bool { return jobID == activeID })
	if removed != 1 {
		t.Fatalf("expected 1 orphan removed, got %d", removed)
	}
	if _, err := os.Stat(activeDir); err != nil {
		t.Errorf("active staging directory was pruned: %v", err)
	}
	if _, err := os.Stat(orphanDir); !os.IsNotExist(err) {
		t.Errorf("orphan staging directory survived prune")
	}
}
