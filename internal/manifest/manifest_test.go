package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pinFunty = PatchRule{
	Name:        "pin-funty",
	Package:     "funty",
	BadVersions: []string{"1.2.0"},
	PinVersion:  "1.1.0",
}

const sampleManifest = `[package]
name = "flipper"
version = "0.1.0"
edition = "2018"

[dependencies]
funty = "1.2.0"
ink_lang = { version = "3.0.0", default-features = false }

[dependencies.scale]
package = "parity-scale-codec"
version = "2.3.1"

[dev-dependencies]
funty = { version = "^1.2.0", default-features = false }
`

func TestPatchManifestRewritesBadVersions(t *testing.T) {
	patched, changed := PatchManifest(sampleManifest, []PatchRule{pinFunty})
	require.True(t, changed)
	assert.Contains(t, patched, `funty = "1.1.0"`)
	assert.Contains(t, patched, `funty = { version = "1.1.0", default-features = false }`)
	// Untouched requirements survive byte-for-byte.
	assert.Contains(t, patched, `ink_lang = { version = "3.0.0", default-features = false }`)
	assert.Contains(t, patched, `version = "2.3.1"`)
}

func TestPatchManifestIdempotent(t *testing.T) {
	once, changed := PatchManifest(sampleManifest, []PatchRule{pinFunty})
	require.True(t, changed)

	twice, changedAgain := PatchManifest(once, []PatchRule{pinFunty})
	assert.False(t, changedAgain)
	assert.Equal(t, once, twice)
}

func TestPatchManifestIgnoresPackageSection(t *testing.T) {
	content := "[package]\nfunty = \"1.2.0\"\n"
	_, changed := PatchManifest(content, []PatchRule{pinFunty})
	assert.False(t, changed, "a [package] table is not a dependency declaration")
}

func TestPatchManifestDottedDependencyTable(t *testing.T) {
	content := "[dependencies.funty]\nversion = \"1.2.0\"\ndefault-features = false\n"
	patched, changed := PatchManifest(content, []PatchRule{pinFunty})
	require.True(t, changed)
	assert.Contains(t, patched, `version = "1.1.0"`)
}

func TestPatchFileAndTree(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "crates", "funty-1.2.0")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(sampleManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(nested, ManifestFileName), []byte(sampleManifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "lib.rs"), []byte("// not a manifest"), 0o644))

	patched := PatchTree(dir, []PatchRule{pinFunty})
	assert.Equal(t, 2, patched)

	// Second sweep finds nothing left to do.
	assert.Equal(t, 0, PatchTree(dir, []PatchRule{pinFunty}))
}

func TestPatchFileMissingIsNoop(t *testing.T) {
	changed, err := PatchFile(filepath.Join(t.TempDir(), "absent.toml"), []PatchRule{pinFunty})
	require.NoError(t, err)
	assert.False(t, changed)
}
