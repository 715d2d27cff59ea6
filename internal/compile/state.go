package compile

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/wasmforge/internal/config"
	"git.home.luguber.info/inful/wasmforge/internal/manifest"
)

// CompileRequest describes one source package to compile. Exactly one of
// Archive and GitURL must be set.
type CompileRequest struct {
	// Archive is the raw source package bytes (tar.gz or zip).
	Archive []byte
	// GitURL fetches sources from a git remote instead of an archive.
	GitURL string
	// GitRef selects a branch or tag; empty means the remote default.
	GitRef string
	// OutputDir overrides where harvested artifacts land; empty means a
	// per-job directory under the cache root.
	OutputDir string
}

// Result is returned to the caller on success.
type Result struct {
	JobID string
	// ArtifactDir holds the harvested wasm files and build metadata.
	ArtifactDir string
	// WasmFiles are the harvested artifact paths, in ArtifactDir.
	WasmFiles []string
	Report    *CompileReport
}

// BuildState carries everything a stage needs; stages mutate it in place.
type BuildState struct {
	JobID   string
	Request CompileRequest
	Config  *config.Config
	Rules   manifest.RuleSet

	// StagingDir is the job's exclusive staging directory.
	StagingDir string
	// SourceRoot is the directory holding the package manifest; usually
	// StagingDir itself, or its single top-level subdirectory for archives
	// packed with a root folder.
	SourceRoot string
	// ArtifactDir is where harvest places final outputs; survives cleanup.
	ArtifactDir string
	// CacheKey identifies the artifact cache entry for this source package.
	CacheKey string

	WasmFiles []string
	Report    *CompileReport
}

// deriveCacheKey fingerprints the toolchain configuration plus the package's
// dependency graph. Two packages with identical lockfiles share a warm cache.
func deriveCacheKey(cfg config.ToolchainConfig, stagingDir string) string {
	h := sha256.New()
	h.Write([]byte(cfg.Program))
	h.Write([]byte(strings.Join(cfg.Args, " ")))
	h.Write([]byte(cfg.Channel))

	lock, err := os.ReadFile(filepath.Join(stagingDir, manifest.LockFileName))
	if err == nil {
		h.Write(lock)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
