package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/wasmforge/internal/config"
	"git.home.luguber.info/inful/wasmforge/internal/execx"
)

// Invoke runs the configured build tool in the given staging directory with
// the isolated environment and the configured build timeout.
func Invoke(ctx context.Context, cfg config.ToolchainConfig, stagingDir string) execx.ExecutionResult {
	env := Env(cfg)
	return execx.Run(ctx, execx.ExecutionRequest{
		Program: resolveProgram(cfg.Program, env["PATH"]),
		Args:    cfg.Args,
		Dir:     stagingDir,
		Env:     env,
		Timeout: cfg.BuildTimeout,
	})
}

// resolveProgram resolves a bare program name against the composed search
// path; exec would otherwise consult the parent's PATH. Absolute and
// relative paths pass through untouched, as does an unresolvable name so the
// spawn failure surfaces from the engine.
func resolveProgram(program, searchPath string) string {
	if strings.ContainsRune(program, os.PathSeparator) {
		return program
	}
	for _, dir := range filepath.SplitList(searchPath) {
		candidate := filepath.Join(dir, program)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate
		}
	}
	return program
}

// Available reports whether the configured build tool can be found, either on
// the composed search path or the ambient one.
func Available(cfg config.ToolchainConfig) bool {
	resolved := resolveProgram(cfg.Program, Env(cfg)["PATH"])
	if strings.ContainsRune(resolved, os.PathSeparator) {
		info, err := os.Stat(resolved)
		return err == nil && !info.IsDir() && info.Mode()&0o111 != 0
	}
	_, ok := execx.Probe(resolved)
	return ok
}
