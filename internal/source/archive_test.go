package source

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	forgeerrors "git.home.luguber.info/inful/wasmforge/internal/errors"
)

func makeTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
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

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDetectKind(t *testing.T) {
	assert.Equal(t, KindTarGz, DetectKind(makeTarGz(t, map[string]string{"a": "x"})))
	assert.Equal(t, KindZip, DetectKind(makeZip(t, map[string]string{"a": "x"})))
	assert.Equal(t, KindUnknown, DetectKind([]byte("plain text")))
	assert.Equal(t, KindUnknown, DetectKind(nil))
}

func TestValidate(t *testing.T) {
	archive := makeTarGz(t, map[string]string{"Cargo.toml": "[package]"})

	assert.NoError(t, Validate(archive, 1<<20))

	err := Validate(nil, 1<<20)
	assert.True(t, forgeerrors.IsCategory(err, forgeerrors.CategoryValidation))

	err = Validate(archive, 4)
	require.Error(t, err)
	assert.True(t, forgeerrors.IsCategory(err, forgeerrors.CategoryValidation))

	err = Validate([]byte("just some text, right size"), 1<<20)
	require.Error(t, err)
	assert.True(t, forgeerrors.IsCategory(err, forgeerrors.CategoryValidation))
}

func TestExtractTarGz(t *testing.T) {
	dst := t.TempDir()
	archive := makeTarGz(t, map[string]string{
		"Cargo.toml":  "[package]\nname = \"flipper\"",
		"src/lib.rs":  "// contract",
		"src/flip.rs": "// module",
	})

	require.NoError(t, Extract(archive, dst))

	data, err := os.ReadFile(filepath.Join(dst, "Cargo.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "flipper")

	_, err = os.Stat(filepath.Join(dst, "src", "lib.rs"))
	assert.NoError(t, err)
}

func TestExtractZip(t *testing.T) {
	dst := t.TempDir()
	archive := makeZip(t, map[string]string{"Cargo.toml": "[package]"})

	require.NoError(t, Extract(archive, dst))
	_, err := os.Stat(filepath.Join(dst, "Cargo.toml"))
	assert.NoError(t, err)
}

func TestExtractTarGzDotPrefixedEntries(t *testing.T) {
	// tar -czf pkg.tgz -C src . produces a leading "./" directory entry
	// and "./"-prefixed file names.
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "./",
		Mode:     0o755,
		Typeflag: tar.TypeDir,
	}))
	content := "[package]\nname = \"flipper\""
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "./Cargo.toml",
		Mode: 0o644,
		Size: int64(len(content)),
	}))
	_, err := tw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	dst := t.TempDir()
	require.NoError(t, Extract(buf.Bytes(), dst))

	data, err := os.ReadFile(filepath.Join(dst, "Cargo.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "flipper")
}

func TestExtractRejectsTraversal(t *testing.T) {
	dst := t.TempDir()
	archive := makeTarGz(t, map[string]string{"../escape.txt": "gotcha"})

	err := Extract(archive, dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes staging directory")

	_, statErr := os.Stat(filepath.Join(filepath.Dir(dst), "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}
