// Package source validates and stages submitted contract source packages:
// uploaded archives (tar.gz or zip) or git references.
package source

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	forgeerrors "git.home.luguber.info/inful/wasmforge/internal/errors"
)

// Kind identifies the archive container format.
type Kind string

const (
	KindTarGz   Kind = "tar.gz"
	KindZip     Kind = "zip"
	KindUnknown Kind = "unknown"
)

// DetectKind sniffs the container format from magic bytes.
func DetectKind(data []byte) Kind {
	switch {
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		return KindTarGz
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("PK\x03\x04")):
		return KindZip
	default:
		return KindUnknown
	}
}

// Validate checks the submitted archive before any staging occurs: present,
// within the size limit, and a recognizable archive container.
func Validate(data []byte, maxBytes int64) error {
	if len(data) == 0 {
		return forgeerrors.InputMissing()
	}
	if int64(len(data)) > maxBytes {
		return forgeerrors.InputTooLarge(int64(len(data)), maxBytes)
	}
	if DetectKind(data) == KindUnknown {
		return forgeerrors.InputNotArchive("unrecognized magic bytes")
	}
	return nil
}

// Extract unpacks the archive into dst. Entries escaping dst are rejected.
func Extract(data []byte, dst string) error {
	switch DetectKind(data) {
	case KindTarGz:
		return extractTarGz(data, dst)
	case KindZip:
		return extractZip(data, dst)
	default:
		return forgeerrors.InputNotArchive("unrecognized magic bytes")
	}
}

func extractTarGz(data []byte, dst string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}
		target, err := secureJoin(dst, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return fmt.Errorf("create directory %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		default:
			// symlinks, devices etc. are dropped from staged source
		}
	}
}

func extractZip(data []byte, dst string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open zip archive: %w", err)
	}
	for _, f := range zr.File {
		target, err := secureJoin(dst, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o750); err != nil {
				return fmt.Errorf("create directory %s: %w", f.Name, err)
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}
		err = writeEntry(target, rc, f.FileInfo().Mode().Perm())
		rc.Close()
		if err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

// secureJoin resolves an archive entry name under dst, rejecting traversal.
// An entry resolving to dst itself ("./" directory entries from tar -C) is
// allowed and maps to dst.
func secureJoin(dst, name string) (string, error) {
	root := filepath.Clean(dst)
	target := filepath.Join(dst, filepath.Clean(name))
	if target == root {
		return root, nil
	}
	if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes staging directory", name)
	}
	return target, nil
}

func writeEntry(target string, src io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return err
	}
	return out.Close()
}
