// Package artifactcache persists the most recent successful build's
// incremental artifact tree per toolchain/target cache key, warming later
// jobs so the external toolchain can skip redundant work.
package artifactcache

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/wasmforge/internal/logfields"
)

// Cache stores one artifact tree per key under <root>/artifacts/<key>.
// Readers and writers of the same key are serialized by a per-key mutex;
// updates are staged and atomically renamed so a crashed writer never leaves
// a half-written tree behind.
type Cache struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates the cache layout under root.
func New(root string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Join(root, "artifacts"), 0o750); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	return &Cache{root: root, locks: make(map[string]*sync.Mutex)}, nil
}

// Root returns the persistent cache root directory.
func (c *Cache) Root() string { return c.root }

func (c *Cache) keyLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

func (c *Cache) entryPath(key string) string {
	return filepath.Join(c.root, "artifacts", sanitizeKey(key))
}

// Warm copies the cached tree for key into dst, returning whether a cached
// tree existed. Best-effort by contract: callers treat any error as a cold
// start.
func (c *Cache) Warm(key, dst string) (bool, error) {
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	src := c.entryPath(key)
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := copyTree(src, dst); err != nil {
		return false, fmt.Errorf("warm cache %s: %w", key, err)
	}
	return true, nil
}

// Update replaces the cached tree for key with src. The new tree is staged
// next to the final location and swapped in with a rename, so concurrent
// Warm callers on the same key observe either the old tree or the new one.
func (c *Cache) Update(key, src string) error {
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	final := c.entryPath(key)
	staging := final + ".staging-" + uuid.NewString()

	if err := copyTree(src, staging); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("stage cache update %s: %w", key, err)
	}
	if err := os.RemoveAll(final); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("drop previous cache entry %s: %w", key, err)
	}
	if err := os.Rename(staging, final); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("publish cache entry %s: %w", key, err)
	}
	return nil
}

// Has reports whether a cached tree exists for key.
func (c *Cache) Has(key string) bool {
	_, err := os.Stat(c.entryPath(key))
	return err == nil
}

// Prune removes cache entries older than maxAge and leftover staging
// directories from interrupted updates. Returns the number of entries
// removed.
func (c *Cache) Prune(maxAge time.Duration) int {
	return c.pruneDir(filepath.Join(c.root, "artifacts"), maxAge, true)
}

// PruneOutput removes harvested output directories under <root>/output older
// than maxAge. Output written to an explicit destination outside the cache
// root is never touched.
func (c *Cache) PruneOutput(maxAge time.Duration) int {
	return c.pruneDir(filepath.Join(c.root, "output"), maxAge, false)
}

func (c *Cache) pruneDir(dir string, maxAge time.Duration, sweepStaging bool) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("cache prune failed to list entries", logfields.Path(dir), logfields.Error(err))
		}
		return 0
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		stale := sweepStaging && strings.Contains(e.Name(), ".staging-")
		if !stale {
			info, err := e.Info()
			if err != nil {
				continue
			}
			stale = info.ModTime().Before(cutoff)
		}
		if !stale {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("cache prune failed to remove entry", logfields.Path(path), logfields.Error(err))
			continue
		}
		removed++
		slog.Info("pruned cache entry", logfields.Path(path))
	}
	return removed
}

// sanitizeKey maps a cache key to a safe directory name.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, key)
}

// copyTree recursively copies a directory tree, preserving file modes.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		if !info.Mode().IsRegular() {
			return nil // sockets, symlinks etc. have no place in the cache
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
