// Package workspace manages per-job staging directories nested under the
// persistent cache root. Staging is ephemeral; the cache root is not.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/wasmforge/internal/logfields"
)

// Manager creates and removes uniquely-named staging directories. Staging
// lives under the persistent cache root so sibling jobs share the warm disk,
// but each job's extracted tree is exclusively its own.
type Manager struct {
	cacheRoot string
}

// NewManager returns a staging manager rooted at cacheRoot.
func NewManager(cacheRoot string) *Manager {
	if cacheRoot == "" {
		cacheRoot = os.TempDir()
	}
	return &Manager{cacheRoot: cacheRoot}
}

// CacheRoot returns the persistent root directory.
func (m *Manager) CacheRoot() string { return m.cacheRoot }

// CreateStaging creates a fresh staging directory for the given job.
func (m *Manager) CreateStaging(jobID string) (string, error) {
	dir := filepath.Join(m.cacheRoot, "staging", fmt.Sprintf("job-%s", jobID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	slog.Debug("created staging directory", logfields.JobID(jobID), logfields.Path(dir))
	return dir, nil
}

// RemoveStaging deletes a job's staging directory. Jobs call this
// unconditionally on completion, success or failure.
func (m *Manager) RemoveStaging(dir string) error {
	if dir == "" {
		return nil
	}
	// Refuse to remove anything outside the staging area.
	stagingRoot := filepath.Join(m.cacheRoot, "staging")
	if !strings.HasPrefix(filepath.Clean(dir), stagingRoot+string(os.PathSeparator)) {
		return fmt.Errorf("refusing to remove non-staging path %s", dir)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove staging directory: %w", err)
	}
	slog.Debug("removed staging directory", logfields.Path(dir))
	return nil
}

// PruneOrphans removes staging directories left behind by crashed jobs.
// Returns the number removed.
func (m *Manager) PruneOrphans(active func(jobID string) bool) int {
	stagingRoot := filepath.Join(m.cacheRoot, "staging")
	entries, err := os.ReadDir(stagingRoot)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		jobID := strings.TrimPrefix(e.Name(), "job-")
		if active != nil && active(jobID) {
			continue
		}
		path := filepath.Join(stagingRoot, e.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("failed to remove orphaned staging directory", logfields.Path(path), logfields.Error(err))
			continue
		}
		removed++
	}
	return removed
}

// NewJobID returns a fresh unique job identifier.
func NewJobID() string { return uuid.NewString() }
