package manifest

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/wasmforge/internal/logfields"
)

// ManifestFileName is the dependency manifest the toolchain reads.
const ManifestFileName = "Cargo.toml"

// LockFileName is the resolved dependency graph the toolchain writes.
const LockFileName = "Cargo.lock"

// PatchFile applies the rules to one manifest file in place. Returns whether
// the file changed. Missing files are not an error.
func PatchFile(path string, rules []PatchRule) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	patched, changed := PatchManifest(string(data), rules)
	if !changed {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(patched), 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// PatchTree walks a directory tree and patches every manifest file found.
// Best-effort: individual file failures are logged and skipped; the count of
// patched files is returned.
func PatchTree(root string, rules []PatchRule) int {
	patched := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree; keep walking the rest
		}
		if d.IsDir() || d.Name() != ManifestFileName {
			return nil
		}
		changed, err := PatchFile(path, rules)
		if err != nil {
			slog.Warn("failed to patch manifest", logfields.Path(path), logfields.Error(err))
			return nil
		}
		if changed {
			patched++
			slog.Info("patched manifest", logfields.Path(path))
		}
		return nil
	})
	return patched
}

// RepairLockfileAt applies lockfile repair to the given path in place.
// Returns whether the file changed. A missing lock file is not an error: the
// toolchain regenerates it from the manifest.
func RepairLockfileAt(path string, rules []PatchRule) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	repaired, changed := RepairLockfile(string(data), rules)
	if !changed {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(repaired), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
