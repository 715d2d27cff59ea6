package compile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	forgeerrors "git.home.luguber.info/inful/wasmforge/internal/errors"
	"git.home.luguber.info/inful/wasmforge/internal/execx"
	"git.home.luguber.info/inful/wasmforge/internal/logfields"
	"git.home.luguber.info/inful/wasmforge/internal/manifest"
	"git.home.luguber.info/inful/wasmforge/internal/source"
	"git.home.luguber.info/inful/wasmforge/internal/toolchain"
	"git.home.luguber.info/inful/wasmforge/internal/watcher"
)

// maxToolOutputBytes caps the combined toolchain output kept in the report.
// The tail is kept because build tools print the decisive error last.
const maxToolOutputBytes = 16 << 10

// metadataFileName is the build metadata document written next to harvested
// artifacts.
const metadataFileName = "forge-metadata.json"

// validate rejects bad input before any disk state is created. No staging
// directory exists yet when this stage fails.
func (s *Service) validate(ctx context.Context, bs *BuildState) error {
	req := bs.Request

	switch {
	case len(req.Archive) == 0 && req.GitURL == "":
		return NewFatalStageError(StageValidate, fmt.Errorf("%w: %w", ErrInput, forgeerrors.InputMissing()))
	case len(req.Archive) > 0 && req.GitURL != "":
		return NewFatalStageError(StageValidate,
			fmt.Errorf("%w: %w", ErrInput, forgeerrors.InputNotArchive("both archive and git url provided")))
	}

	if len(req.Archive) > 0 {
		if err := source.Validate(req.Archive, s.cfg.Limits.MaxArchiveBytes); err != nil {
			return NewFatalStageError(StageValidate, fmt.Errorf("%w: %w", ErrInput, err))
		}
	}

	if !toolchain.Available(s.cfg.Toolchain) {
		return NewFatalStageError(StageValidate,
			forgeerrors.ToolMissing(s.cfg.Toolchain.Program, nil))
	}
	return nil
}

// stageSources materializes the package into an exclusive staging directory
// and derives the cache key from the resulting tree.
func (s *Service) stageSources(ctx context.Context, bs *BuildState) error {
	dir, err := s.spaces.CreateStaging(bs.JobID)
	if err != nil {
		return NewFatalStageError(StageSources,
			fmt.Errorf("%w: %w", ErrStaging, forgeerrors.StagingUnavailable(dir, err)))
	}
	bs.StagingDir = dir

	if len(bs.Request.Archive) > 0 {
		if err := source.Extract(bs.Request.Archive, dir); err != nil {
			return NewFatalStageError(StageSources, fmt.Errorf("%w: %w", ErrStaging, err))
		}
	} else {
		if err := source.FetchGit(ctx, bs.Request.GitURL, bs.Request.GitRef, dir); err != nil {
			if ctx.Err() != nil {
				return NewCanceledStageError(StageSources, ctx.Err())
			}
			return NewFatalStageError(StageSources,
				fmt.Errorf("%w: %w", ErrStaging, forgeerrors.WorkspaceError("fetch git sources", err)))
		}
	}

	root, err := locateSourceRoot(dir)
	if err != nil {
		return NewFatalStageError(StageSources, fmt.Errorf("%w: %w", ErrInput, err))
	}
	bs.SourceRoot = root
	bs.CacheKey = deriveCacheKey(s.cfg.Toolchain, root)
	bs.Report.CacheKey = bs.CacheKey

	slog.Debug("sources staged",
		logfields.JobID(bs.JobID),
		logfields.Path(root),
		logfields.CacheKey(bs.CacheKey))
	return nil
}

// locateSourceRoot finds the directory containing the package manifest.
// Archives packed with a single root folder are descended into one level.
func locateSourceRoot(dir string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, manifest.ManifestFileName)); err == nil {
		return dir, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", forgeerrors.WorkspaceError("inspect staged sources", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) == 1 {
		nested := filepath.Join(dir, dirs[0])
		if _, err := os.Stat(filepath.Join(nested, manifest.ManifestFileName)); err == nil {
			return nested, nil
		}
	}
	return "", forgeerrors.InputNotArchive(
		fmt.Sprintf("no %s found in package", manifest.ManifestFileName))
}

// cacheWarm restores the previous artifact tree for this cache key.
// Best-effort: a failed warm is a cold start, never a failed build.
func (s *Service) cacheWarm(ctx context.Context, bs *BuildState) error {
	dst := filepath.Join(bs.SourceRoot, s.cfg.Toolchain.TargetSubdir)
	hit, err := s.cache.Warm(bs.CacheKey, dst)
	bs.Report.CacheHit = hit
	s.recorder.IncCacheEvent(hit)
	if err != nil {
		return NewWarnStageError(StageCacheWarm,
			forgeerrors.WorkspaceError("warm artifact cache", err))
	}
	return nil
}

// prePatch rewrites manifests that pin known-bad dependency versions before
// the first toolchain invocation.
func (s *Service) prePatch(ctx context.Context, bs *BuildState) error {
	n := manifest.PatchTree(bs.SourceRoot, bs.Rules.Rules)
	bs.Report.PatchedManifests = n
	if n > 0 {
		slog.Info("manifests patched before build",
			logfields.JobID(bs.JobID),
			slog.Int("count", n))
	}
	return nil
}

// build invokes the toolchain, detecting known defects in its output and
// repairing plus retrying exactly once. A registry watcher patches manifests
// the toolchain downloads mid-build.
func (s *Service) build(ctx context.Context, bs *BuildState) error {
	if s.cfg.Registry.Dir != "" {
		w, err := watcher.Start(ctx, s.cfg.Registry.Dir, bs.Rules.Rules, s.cfg.Registry.SweepInterval)
		if err != nil {
			slog.Warn("registry watcher unavailable",
				logfields.JobID(bs.JobID),
				logfields.Error(err))
		} else {
			defer w.Stop()
		}
	}

	res := toolchain.Invoke(ctx, s.cfg.Toolchain, bs.SourceRoot)
	bs.Report.Attempts = 1
	if err := s.classifyInvocation(res); err != nil {
		return err
	}
	if res.Success {
		return nil
	}

	sig, ok := bs.Rules.MatchDefect(res.Combined())
	if !ok {
		bs.Report.ToolOutput = truncateOutput(res.Combined())
		return NewFatalStageError(StageBuild,
			fmt.Errorf("%w: %w", ErrBuild, forgeerrors.BuildFailed(string(StageBuild),
				fmt.Errorf("toolchain exited with code %d", res.ExitCode))))
	}

	bs.Report.MatchedSignature = sig.Signature
	s.recorder.IncDefectRetry(sig.Signature)
	slog.Info("known defect detected, repairing",
		logfields.JobID(bs.JobID),
		logfields.Signature(sig.Signature),
		logfields.Rule(sig.Rule))

	if err := s.repair(bs, sig); err != nil {
		return err
	}

	if err := sleepCtx(ctx, s.cfg.RetryPolicy().Delay(1)); err != nil {
		return NewCanceledStageError(StageBuild, err)
	}

	res = toolchain.Invoke(ctx, s.cfg.Toolchain, bs.SourceRoot)
	bs.Report.Attempts = 2
	if err := s.classifyInvocation(res); err != nil {
		return err
	}
	if res.Success {
		return nil
	}

	// One repair attempt per job; a second failure is terminal even if the
	// output matches another signature.
	s.recorder.IncDefectRetryFailed(sig.Signature)
	bs.Report.ToolOutput = truncateOutput(res.Combined())
	return NewFatalStageError(StageBuild,
		fmt.Errorf("%w: %w", ErrDefect, forgeerrors.KnownDefect(sig.Signature,
			fmt.Errorf("build failed again after repair, exit code %d", res.ExitCode))))
}

// classifyInvocation maps abnormal invocation endings to stage errors.
// A normal non-zero exit returns nil; the caller inspects res.Success.
func (s *Service) classifyInvocation(res execx.ExecutionResult) error {
	switch {
	case res.Canceled:
		return NewCanceledStageError(StageBuild,
			forgeerrors.ProcessCanceled(s.cfg.Toolchain.Program, res.Err))
	case res.TimedOut:
		return NewFatalStageError(StageBuild,
			fmt.Errorf("%w: %w", ErrBuild, forgeerrors.ProcessTimeout(s.cfg.Toolchain.Program, res.Err)))
	case res.Err != nil:
		return NewFatalStageError(StageBuild,
			fmt.Errorf("%w: %w", ErrBuild, forgeerrors.ProcessStartFailed(s.cfg.Toolchain.Program, res.Err)))
	}
	return nil
}

// repair applies the rule named by a matched defect signature to the staged
// lockfile and manifest.
func (s *Service) repair(bs *BuildState, sig manifest.DefectSignature) error {
	rule, ok := bs.Rules.RuleByName(sig.Rule)
	if !ok {
		return NewFatalStageError(StageBuild,
			forgeerrors.InternalError(
				fmt.Sprintf("defect signature references unknown rule %q", sig.Rule), nil))
	}
	rules := []manifest.PatchRule{rule}

	lockPath := filepath.Join(bs.SourceRoot, manifest.LockFileName)
	repaired, err := manifest.RepairLockfileAt(lockPath, rules)
	if err != nil {
		return NewFatalStageError(StageBuild,
			forgeerrors.WorkspaceError("repair lockfile", err))
	}

	patched, err := manifest.PatchFile(filepath.Join(bs.SourceRoot, manifest.ManifestFileName), rules)
	if err != nil {
		return NewFatalStageError(StageBuild,
			forgeerrors.WorkspaceError("patch manifest", err))
	}

	if repaired || patched {
		s.recorder.IncPatchApplied(rule.Name)
	}
	slog.Info("defect repair applied",
		logfields.JobID(bs.JobID),
		logfields.Rule(rule.Name),
		slog.Bool("lockfile", repaired),
		slog.Bool("manifest", patched))
	return nil
}

// harvest collects wasm artifacts from the target tree into a directory that
// survives staging cleanup, together with a metadata document.
func (s *Service) harvest(ctx context.Context, bs *BuildState) error {
	targetDir := filepath.Join(bs.SourceRoot, s.cfg.Toolchain.TargetSubdir)
	var found []string
	err := filepath.WalkDir(targetDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".wasm") {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return NewFatalStageError(StageHarvest,
			forgeerrors.WorkspaceError("scan build output", err))
	}
	if len(found) == 0 {
		return NewFatalStageError(StageHarvest,
			fmt.Errorf("%w: %w", ErrBuild, forgeerrors.BuildFailed(string(StageHarvest),
				fmt.Errorf("toolchain succeeded but produced no wasm artifact under %s", s.cfg.Toolchain.TargetSubdir))))
	}

	outDir := bs.Request.OutputDir
	if outDir == "" {
		outDir = filepath.Join(s.cfg.Cache.Root, "output", bs.JobID)
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return NewFatalStageError(StageHarvest,
			forgeerrors.WorkspaceError("create artifact directory", err))
	}

	meta := buildMetadata{
		JobID:      bs.JobID,
		CacheKey:   bs.CacheKey,
		Attempts:   bs.Report.Attempts,
		Signature:  bs.Report.MatchedSignature,
		FinishedAt: time.Now().UTC(),
	}
	for _, src := range found {
		dst := filepath.Join(outDir, filepath.Base(src))
		sum, size, err := copyFileChecksum(src, dst)
		if err != nil {
			return NewFatalStageError(StageHarvest,
				forgeerrors.WorkspaceError("copy wasm artifact", err))
		}
		bs.WasmFiles = append(bs.WasmFiles, dst)
		meta.Artifacts = append(meta.Artifacts, artifactEntry{
			Name:   filepath.Base(src),
			Size:   size,
			SHA256: sum,
		})
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return NewFatalStageError(StageHarvest, forgeerrors.InternalError("encode build metadata", err))
	}
	if err := os.WriteFile(filepath.Join(outDir, metadataFileName), data, 0o644); err != nil {
		return NewFatalStageError(StageHarvest,
			forgeerrors.WorkspaceError("write build metadata", err))
	}

	bs.ArtifactDir = outDir
	slog.Info("artifacts harvested",
		logfields.JobID(bs.JobID),
		logfields.Path(outDir),
		slog.Int("wasm_files", len(found)))
	return nil
}

// cacheUpdate publishes the fresh target tree for the next job with this key.
// Failure degrades future builds to cold starts, nothing more.
func (s *Service) cacheUpdate(ctx context.Context, bs *BuildState) error {
	targetDir := filepath.Join(bs.SourceRoot, s.cfg.Toolchain.TargetSubdir)
	if err := s.cache.Update(bs.CacheKey, targetDir); err != nil {
		return NewWarnStageError(StageCacheUpdate,
			forgeerrors.WorkspaceError("update artifact cache", err))
	}
	return nil
}

type buildMetadata struct {
	JobID      string          `json:"job_id"`
	CacheKey   string          `json:"cache_key"`
	Attempts   int             `json:"attempts"`
	Signature  string          `json:"signature,omitempty"`
	FinishedAt time.Time       `json:"finished_at"`
	Artifacts  []artifactEntry `json:"artifacts"`
}

type artifactEntry struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// copyFileChecksum copies src to dst, returning the content hash and size.
func copyFileChecksum(src, dst string) (string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, err
	}
	defer out.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		return "", 0, err
	}
	if err := out.Close(); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// truncateOutput keeps the tail of combined toolchain output.
func truncateOutput(s string) string {
	if len(s) <= maxToolOutputBytes {
		return s
	}
	return "...(truncated)\n" + s[len(s)-maxToolOutputBytes:]
}

// sleepCtx waits for d unless ctx fires first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
