package manifest

import (
	"strings"
)

// Lockfile is a structural view of a cargo-style lock file: a prelude (the
// format version) followed by [[package]] blocks. Parsing is deliberately
// line-oriented; the repair pass only needs to drop, pin and deduplicate
// entries while preserving everything else byte-for-byte.
type Lockfile struct {
	Prelude  []string
	Packages []LockPackage
}

// LockPackage is one [[package]] block as an ordered list of entries. An
// entry is a `key = value` line plus any continuation lines (multi-line
// dependency arrays).
type LockPackage struct {
	Entries []LockEntry
}

// LockEntry is one key with its raw lines.
type LockEntry struct {
	Key   string
	Lines []string
}

// Name returns the package name, empty if the block is malformed.
func (p LockPackage) Name() string { return p.value("name") }

// Version returns the package version, empty if absent.
func (p LockPackage) Version() string { return p.value("version") }

func (p LockPackage) value(key string) string {
	for _, e := range p.Entries {
		if e.Key == key && len(e.Lines) == 1 {
			if _, rest, ok := strings.Cut(e.Lines[0], "="); ok {
				return strings.Trim(strings.TrimSpace(rest), `"`)
			}
		}
	}
	return ""
}

// ParseLockfile splits lock file content into prelude and package blocks.
func ParseLockfile(content string) Lockfile {
	var lf Lockfile
	var current *LockPackage

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "[[package]]":
			lf.Packages = append(lf.Packages, LockPackage{})
			current = &lf.Packages[len(lf.Packages)-1]
		case current == nil:
			lf.Prelude = append(lf.Prelude, line)
		case trimmed == "":
			// Block separator; tolerated inside blocks too.
		case isContinuation(line, current):
			last := &current.Entries[len(current.Entries)-1]
			last.Lines = append(last.Lines, line)
		default:
			key := trimmed
			if k, _, ok := strings.Cut(trimmed, "="); ok {
				key = strings.TrimSpace(k)
			}
			current.Entries = append(current.Entries, LockEntry{Key: key, Lines: []string{line}})
		}
	}
	// Trim trailing blank prelude lines left by the first block separator.
	for len(lf.Prelude) > 0 && strings.TrimSpace(lf.Prelude[len(lf.Prelude)-1]) == "" {
		lf.Prelude = lf.Prelude[:len(lf.Prelude)-1]
	}
	return lf
}

// isContinuation reports whether a line belongs to the previous entry: array
// elements and closing brackets of a multi-line value.
func isContinuation(line string, p *LockPackage) bool {
	if len(p.Entries) == 0 {
		return false
	}
	trimmed := strings.TrimSpace(line)
	if trimmed == "]" || strings.HasPrefix(trimmed, `"`) {
		return true
	}
	last := p.Entries[len(p.Entries)-1]
	open := strings.Count(strings.Join(last.Lines, "\n"), "[")
	closed := strings.Count(strings.Join(last.Lines, "\n"), "]")
	return open > closed
}

// Render regenerates lock file text: prelude, then blocks separated by blank
// lines, entry order preserved.
func (lf Lockfile) Render() string {
	var b strings.Builder
	for _, line := range lf.Prelude {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, pkg := range lf.Packages {
		b.WriteByte('\n')
		b.WriteString("[[package]]\n")
		for _, e := range pkg.Entries {
			for _, line := range e.Lines {
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}
	}
	return b.String()
}

// RepairLockfile applies the rule set to lock file content: duplicate keys
// within a block are dropped (first wins), entries for known-bad versions are
// pinned or removed, and the file is regenerated internally consistent.
// Idempotent: repairing already-repaired content changes nothing.
func RepairLockfile(content string, rules []PatchRule) (string, bool) {
	lf := ParseLockfile(content)
	changed := false

	// Pass 1: deduplicate keys inside every block.
	for i := range lf.Packages {
		if deduped := dedupEntries(&lf.Packages[i]); deduped {
			changed = true
		}
	}

	// Pass 2: apply version rules.
	kept := lf.Packages[:0]
	for _, pkg := range lf.Packages {
		rule, applies := matchingRule(pkg, rules)
		if !applies {
			kept = append(kept, pkg)
			continue
		}
		switch rule.action() {
		case ActionRemove:
			changed = true
			// dropped: the toolchain re-resolves this package
		case ActionPin:
			pinPackage(&pkg, rule.PinVersion)
			changed = true
			kept = append(kept, pkg)
		default:
			kept = append(kept, pkg)
		}
	}
	lf.Packages = kept

	if !changed {
		return content, false
	}
	return lf.Render(), true
}

func matchingRule(pkg LockPackage, rules []PatchRule) (PatchRule, bool) {
	for _, r := range rules {
		if pkg.Name() == r.Package && r.isBad(pkg.Version()) {
			return r, true
		}
	}
	return PatchRule{}, false
}

func dedupEntries(pkg *LockPackage) bool {
	seen := make(map[string]struct{}, len(pkg.Entries))
	out := pkg.Entries[:0]
	dropped := false
	for _, e := range pkg.Entries {
		if _, dup := seen[e.Key]; dup {
			dropped = true
			continue
		}
		seen[e.Key] = struct{}{}
		out = append(out, e)
	}
	pkg.Entries = out
	return dropped
}

// pinPackage rewrites the version entry and drops the stale checksum so the
// toolchain recomputes it for the pinned version.
func pinPackage(pkg *LockPackage, version string) {
	out := pkg.Entries[:0]
	for _, e := range pkg.Entries {
		switch e.Key {
		case "version":
			e.Lines = []string{`version = "` + version + `"`}
			out = append(out, e)
		case "checksum":
			// stale for the new version
		default:
			out = append(out, e)
		}
	}
	pkg.Entries = out
}
