//go:build unix

package compile

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/wasmforge/internal/config"
	forgeerrors "git.home.luguber.info/inful/wasmforge/internal/errors"
)

const testLockfile = `# This file is automatically @generated by Cargo.
version = 3

[[package]]
name = "funty"
version = "1.2.0"
source = "registry+https://github.com/rust-lang/crates.io-index"
checksum = "1234"

[[package]]
name = "mycontract"
version = "0.1.0"
`

const testManifest = `[package]
name = "mycontract"
version = "0.1.0"

[dependencies]
funty = "1.2.0"
`

const successScript = `#!/bin/sh
mkdir -p target/release
printf 'wasm-bytes' > target/release/contract.wasm
exit 0
`

const defectOnceScript = `#!/bin/sh
dir=$(dirname "$0")
n=$(cat "$dir/count" 2>/dev/null || echo 0)
n=$((n+1))
echo "$n" > "$dir/count"
if [ "$n" -eq 1 ]; then
  echo 'error: failed to select a version for the requirement ` + "`funty`" + `' >&2
  exit 101
fi
mkdir -p target/release
printf 'wasm-bytes' > target/release/contract.wasm
exit 0
`

const defectAlwaysScript = `#!/bin/sh
dir=$(dirname "$0")
n=$(cat "$dir/count" 2>/dev/null || echo 0)
n=$((n+1))
echo "$n" > "$dir/count"
echo 'error: failed to select a version for the requirement ` + "`funty`" + `' >&2
exit 101
`

const plainFailScript = `#!/bin/sh
dir=$(dirname "$0")
n=$(cat "$dir/count" 2>/dev/null || echo 0)
n=$((n+1))
echo "$n" > "$dir/count"
echo 'error: something unrelated broke' >&2
exit 101
`

func writeTool(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forge-tool"), []byte(script), 0o755))
	return dir
}

func toolInvocations(t *testing.T, toolDir string) int {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(toolDir, "count"))
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)
	return n
}

func testServiceConfig(t *testing.T, toolDir string) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Limits: config.LimitsConfig{MaxArchiveBytes: 10 << 20},
		Toolchain: config.ToolchainConfig{
			Program:      "forge-tool",
			StableDir:    toolDir,
			Home:         filepath.Join(root, "home"),
			Channel:      "stable",
			BuildTimeout: 30 * time.Second,
			TargetSubdir: "target",
		},
		Cache: config.CacheConfig{Root: root},
		Retry: config.RetryConfig{
			Backoff: config.RetryBackoffFixed,
			Initial: 10 * time.Millisecond,
			Max:     50 * time.Millisecond,
		},
	}
}

func makeArchive(t *testing.T, prefix string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	files := map[string]string{
		prefix + "Cargo.toml": testManifest,
		prefix + "Cargo.lock": testLockfile,
		prefix + "src/lib.rs": "// contract entry point\n",
	}
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func newTestService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	svc, err := NewService(cfg, Options{})
	require.NoError(t, err)
	return svc
}

func TestCompileSuccess(t *testing.T) {
	cfg := testServiceConfig(t, writeTool(t, successScript))
	svc := newTestService(t, cfg)

	res, err := svc.Compile(t.Context(), CompileRequest{Archive: makeArchive(t, "")})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, res.Report.Outcome)
	assert.Equal(t, 1, res.Report.Attempts)
	require.Len(t, res.WasmFiles, 1)
	assert.FileExists(t, res.WasmFiles[0])
	assert.FileExists(t, filepath.Join(res.ArtifactDir, metadataFileName))

	// Staging must be gone after a finished job.
	entries, readErr := os.ReadDir(filepath.Join(cfg.Cache.Root, "staging"))
	if readErr == nil {
		assert.Empty(t, entries)
	}
}

func TestCompileArchiveWithRootFolder(t *testing.T) {
	cfg := testServiceConfig(t, writeTool(t, successScript))
	svc := newTestService(t, cfg)

	res, err := svc.Compile(t.Context(), CompileRequest{Archive: makeArchive(t, "mycontract/")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Report.Outcome)
	require.Len(t, res.WasmFiles, 1)
}

func TestCompileRejectsEmptyRequest(t *testing.T) {
	cfg := testServiceConfig(t, writeTool(t, successScript))
	svc := newTestService(t, cfg)

	res, err := svc.Compile(t.Context(), CompileRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInput)
	assert.True(t, forgeerrors.IsCategory(err, forgeerrors.CategoryValidation))
	assert.Equal(t, OutcomeFailed, res.Report.Outcome)

	// Rejected input must not leave any staging behind; the stage never ran.
	_, statErr := os.Stat(filepath.Join(cfg.Cache.Root, "staging"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCompileRejectsMissingTool(t *testing.T) {
	cfg := testServiceConfig(t, t.TempDir())
	cfg.Toolchain.Program = "no-such-build-tool"
	svc := newTestService(t, cfg)

	_, err := svc.Compile(t.Context(), CompileRequest{Archive: makeArchive(t, "")})
	require.Error(t, err)
	assert.True(t, forgeerrors.IsCategory(err, forgeerrors.CategoryEnvironment))
}

func TestCompileKnownDefectRepairedAndRetried(t *testing.T) {
	toolDir := writeTool(t, defectOnceScript)
	cfg := testServiceConfig(t, toolDir)
	svc := newTestService(t, cfg)

	res, err := svc.Compile(t.Context(), CompileRequest{Archive: makeArchive(t, "")})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuccess, res.Report.Outcome)
	assert.Equal(t, 2, res.Report.Attempts)
	assert.Contains(t, res.Report.MatchedSignature, "funty")
	assert.Equal(t, 2, toolInvocations(t, toolDir))
}

func TestCompileKnownDefectRetriesExactlyOnce(t *testing.T) {
	toolDir := writeTool(t, defectAlwaysScript)
	cfg := testServiceConfig(t, toolDir)
	svc := newTestService(t, cfg)

	res, err := svc.Compile(t.Context(), CompileRequest{Archive: makeArchive(t, "")})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrDefect)
	assert.True(t, forgeerrors.IsCategory(err, forgeerrors.CategoryDefect))
	assert.Equal(t, OutcomeFailed, res.Report.Outcome)
	assert.Equal(t, 2, res.Report.Attempts)
	assert.Equal(t, 2, toolInvocations(t, toolDir))
	assert.NotEmpty(t, res.Report.ToolOutput)
}

func TestCompileUnknownFailureDoesNotRetry(t *testing.T) {
	toolDir := writeTool(t, plainFailScript)
	cfg := testServiceConfig(t, toolDir)
	svc := newTestService(t, cfg)

	res, err := svc.Compile(t.Context(), CompileRequest{Archive: makeArchive(t, "")})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrBuild)
	assert.True(t, forgeerrors.IsCategory(err, forgeerrors.CategoryBuild))
	assert.Equal(t, 1, res.Report.Attempts)
	assert.Equal(t, 1, toolInvocations(t, toolDir))
	assert.Contains(t, res.Report.ToolOutput, "something unrelated")
}

func TestCompileWarmCacheOnSecondRun(t *testing.T) {
	cfg := testServiceConfig(t, writeTool(t, successScript))
	svc := newTestService(t, cfg)
	archive := makeArchive(t, "")

	first, err := svc.Compile(t.Context(), CompileRequest{Archive: archive})
	require.NoError(t, err)
	assert.False(t, first.Report.CacheHit)

	second, err := svc.Compile(t.Context(), CompileRequest{Archive: archive})
	require.NoError(t, err)
	assert.True(t, second.Report.CacheHit)
	assert.Equal(t, first.Report.CacheKey, second.Report.CacheKey)
}

func TestCompileCanceledMidBuild(t *testing.T) {
	cfg := testServiceConfig(t, writeTool(t, "#!/bin/sh\nsleep 10\n"))
	svc := newTestService(t, cfg)

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := svc.Compile(ctx, CompileRequest{Archive: makeArchive(t, "")})
	require.Error(t, err)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageErrorCanceled, se.Kind)
	assert.Equal(t, OutcomeCanceled, res.Report.Outcome)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCompileOutputDirOverride(t *testing.T) {
	cfg := testServiceConfig(t, writeTool(t, successScript))
	svc := newTestService(t, cfg)
	out := filepath.Join(t.TempDir(), "artifacts")

	res, err := svc.Compile(t.Context(), CompileRequest{Archive: makeArchive(t, ""), OutputDir: out})
	require.NoError(t, err)
	assert.Equal(t, out, res.ArtifactDir)
	assert.FileExists(t, filepath.Join(out, "contract.wasm"))
}
