// Package toolchain composes the isolated environment for the external
// contract build tool and wraps its invocation.
package toolchain

import (
	"log/slog"
	"path/filepath"
	"strings"

	"git.home.luguber.info/inful/wasmforge/internal/config"
	"git.home.luguber.info/inful/wasmforge/internal/execx"
)

// AcceleratorTool is the optional shared compilation cache probed on PATH.
const AcceleratorTool = "sccache"

// Env builds the fully controlled child environment for a toolchain
// invocation. The ambient PATH is never inherited wholesale: the search path
// is rebuilt from wrapper, stable and vendor directories in that priority
// order, deduplicated.
func Env(cfg config.ToolchainConfig) map[string]string {
	env := map[string]string{
		"HOME":        cfg.Home,
		"CARGO_HOME":  filepath.Join(cfg.Home, "cargo"),
		"RUSTUP_HOME": filepath.Join(cfg.Home, "rustup"),
	}
	if cfg.Channel != "" {
		env["RUSTUP_TOOLCHAIN"] = cfg.Channel
	}

	env["PATH"] = composePath(cfg.WrapperDir, cfg.StableDir, cfg.VendorDir, "/usr/bin", "/bin")

	if path, ok := execx.Probe(AcceleratorTool); ok {
		env["RUSTC_WRAPPER"] = path
		slog.Debug("compilation cache accelerator enabled", "tool", AcceleratorTool, "path", path)
	}
	return env
}

// composePath joins directories into a PATH string, skipping empties and
// keeping only the first occurrence of each directory.
func composePath(dirs ...string) string {
	seen := make(map[string]struct{}, len(dirs))
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if d == "" {
			continue
		}
		clean := filepath.Clean(d)
		if _, dup := seen[clean]; dup {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return strings.Join(out, string(filepath.ListSeparator))
}
