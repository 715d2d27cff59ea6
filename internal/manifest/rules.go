// Package manifest implements the curated dependency-defect rule set: known
// incompatible third-party versions are rewritten in manifests and lock files
// before and between build attempts. Every rewrite is idempotent.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Action is the repair operation a rule applies to lock files.
type Action string

const (
	// ActionPin replaces bad versions of Package with PinVersion.
	ActionPin Action = "pin"
	// ActionRemove drops lockfile entries for Package at bad versions so the
	// toolchain re-resolves them.
	ActionRemove Action = "remove"
)

// PatchRule identifies one known-incompatible dependency and its fix.
type PatchRule struct {
	// Name labels the rule in logs and the defect table.
	Name string `yaml:"name"`
	// Package is the dependency name the rule applies to.
	Package string `yaml:"package"`
	// BadVersions lists exact versions known to be incompatible with the
	// pinned toolchain.
	BadVersions []string `yaml:"bad_versions"`
	// PinVersion is the compatible replacement used by ActionPin.
	PinVersion string `yaml:"pin_version"`
	// Action selects the lockfile repair behavior. Defaults to ActionPin.
	Action Action `yaml:"action"`
}

func (r PatchRule) action() Action {
	if r.Action == "" {
		return ActionPin
	}
	return r.Action
}

func (r PatchRule) isBad(version string) bool {
	for _, v := range r.BadVersions {
		if v == version {
			return true
		}
	}
	return false
}

// DefectSignature maps a toolchain output substring to the rule that
// repairs it. Signatures are evaluated in table order; first match wins.
type DefectSignature struct {
	Signature string `yaml:"signature"`
	Rule      string `yaml:"rule"`
}

// RuleSet bundles patch rules with the defect signatures that trigger them.
type RuleSet struct {
	Rules      []PatchRule       `yaml:"rules"`
	Signatures []DefectSignature `yaml:"signatures"`
}

// DefaultRuleSet returns the built-in curated rules. The set is intentionally
// narrow: only dependency-graph outcomes observed to break the pinned
// toolchain are listed.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Rules: []PatchRule{
			{
				Name:        "pin-funty",
				Package:     "funty",
				BadVersions: []string{"1.2.0"},
				PinVersion:  "1.1.0",
			},
			{
				Name:        "pin-parity-wasm",
				Package:     "parity-wasm",
				BadVersions: []string{"0.45.0"},
				PinVersion:  "0.42.2",
			},
			{
				Name:        "unpin-wasm-opt",
				Package:     "wasm-opt",
				BadVersions: []string{"0.113.0"},
				Action:      ActionRemove,
			},
		},
		Signatures: []DefectSignature{
			{Signature: "failed to select a version for the requirement `funty`", Rule: "pin-funty"},
			{Signature: "perhaps a crate was updated and forgotten to be re-vendored", Rule: "pin-funty"},
			{Signature: "feature `edition2021` is required", Rule: "pin-parity-wasm"},
			{Signature: "lock file version 4 requires `-Znext-lockfile-bump`", Rule: "unpin-wasm-opt"},
			{Signature: "duplicate key `version`", Rule: "unpin-wasm-opt"},
		},
	}
}

// LoadRuleSet reads a rule set from a YAML file, replacing the defaults.
func LoadRuleSet(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rule set %s: %w", path, err)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("parse rule set %s: %w", path, err)
	}
	if err := rs.Validate(); err != nil {
		return RuleSet{}, fmt.Errorf("rule set %s: %w", path, err)
	}
	return rs, nil
}

// Validate checks internal consistency of the rule set.
func (rs RuleSet) Validate() error {
	byName := make(map[string]struct{}, len(rs.Rules))
	for _, r := range rs.Rules {
		if r.Name == "" || r.Package == "" {
			return fmt.Errorf("rule needs name and package: %+v", r)
		}
		if _, dup := byName[r.Name]; dup {
			return fmt.Errorf("duplicate rule name %q", r.Name)
		}
		if r.action() == ActionPin && r.PinVersion == "" {
			return fmt.Errorf("rule %q: pin action requires pin_version", r.Name)
		}
		byName[r.Name] = struct{}{}
	}
	for _, s := range rs.Signatures {
		if s.Signature == "" {
			return fmt.Errorf("empty defect signature")
		}
		if _, ok := byName[s.Rule]; !ok {
			return fmt.Errorf("signature %q references unknown rule %q", s.Signature, s.Rule)
		}
	}
	return nil
}

// RuleByName looks up a rule; second return is false when absent.
func (rs RuleSet) RuleByName(name string) (PatchRule, bool) {
	for _, r := range rs.Rules {
		if r.Name == name {
			return r, true
		}
	}
	return PatchRule{}, false
}
