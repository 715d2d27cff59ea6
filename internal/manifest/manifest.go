package manifest

import (
	"fmt"
	"regexp"
	"strings"
)

// PatchManifest rewrites known-bad dependency requirements in a manifest
// (Cargo.toml shape). It returns the patched content and whether anything
// changed. Applying the same rules to already-patched content is a no-op.
func PatchManifest(content string, rules []PatchRule) (string, bool) {
	lines := strings.Split(content, "\n")
	changed := false
	section := ""

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			section = strings.Trim(trimmed, "[]")
			continue
		}
		for _, rule := range rules {
			if rule.PinVersion == "" {
				continue
			}
			if !dependencySection(section) {
				continue
			}
			if newLine, ok := patchRequirementLine(line, rule, section); ok {
				lines[i] = newLine
				changed = true
			}
		}
	}
	return strings.Join(lines, "\n"), changed
}

// dependencySection reports whether a manifest table can declare dependency
// requirements: [dependencies], [dev-dependencies], [build-dependencies],
// [workspace.dependencies] and dotted per-package tables beneath them.
func dependencySection(section string) bool {
	return strings.Contains(section, "dependencies")
}

var quotedValue = regexp.MustCompile(`"([^"]*)"`)

// patchRequirementLine rewrites `pkg = "<bad>"` or the version value inside
// `pkg = { version = "<bad>", ... }`, and bare `version = "<bad>"` lines
// inside the package's own dotted dependency table.
func patchRequirementLine(line string, rule PatchRule, section string) (string, bool) {
	key, rest, found := strings.Cut(line, "=")
	if !found {
		return line, false
	}
	keyName := strings.TrimSpace(key)

	switch {
	case keyName == rule.Package:
	case keyName == "version" && strings.HasSuffix(section, "dependencies."+rule.Package):
	default:
		return line, false
	}

	matched := false
	out := quotedValue.ReplaceAllStringFunc(rest, func(quoted string) string {
		if matched {
			return quoted
		}
		version := normalizeRequirement(strings.Trim(quoted, `"`))
		if !rule.isBad(version) {
			return quoted
		}
		matched = true
		return fmt.Sprintf("%q", rule.PinVersion)
	})
	if !matched {
		return line, false
	}
	return key + "=" + out, true
}

// normalizeRequirement strips requirement operators so "^1.2.0", "=1.2.0"
// and "1.2.0" all compare equal.
func normalizeRequirement(req string) string {
	return strings.TrimLeft(strings.TrimSpace(req), "^=~")
}
