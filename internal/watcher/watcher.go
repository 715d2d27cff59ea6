// Package watcher patches dependency manifests in the shared registry cache
// the moment they appear on disk. The external toolchain parses a
// dependency's manifest synchronously during download, before the one-shot
// pre-patch pass can see it, so the watcher runs alongside the build.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/wasmforge/internal/logfields"
	"git.home.luguber.info/inful/wasmforge/internal/manifest"
)

// RegistryWatcher applies patch rules to manifests appearing under one
// directory tree. Entirely best-effort: every internal failure is logged and
// swallowed, never surfaced to the owning build.
type RegistryWatcher struct {
	dir    string
	rules  []manifest.PatchRule
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
	stop   sync.Once
}

// Start begins watching dir. The returned watcher must be stopped when the
// owning build step concludes, whatever its outcome. A sweepInterval > 0
// adds a polling fallback pass for events the OS watcher missed.
func Start(ctx context.Context, dir string, rules []manifest.PatchRule, sweepInterval time.Duration) (*RegistryWatcher, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := addRecursive(fsw, dir); err != nil {
		fsw.Close()
		return nil, err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &RegistryWatcher{dir: dir, rules: rules, fsw: fsw, cancel: cancel}

	// Initial sweep catches manifests that landed before the watch existed.
	manifest.PatchTree(dir, rules)

	w.wg.Add(1)
	go w.loop(watchCtx, sweepInterval)

	slog.Debug("registry watcher started", logfields.Path(dir))
	return w, nil
}

// Stop cancels the watcher and waits for its goroutine. Safe to call more
// than once.
func (w *RegistryWatcher) Stop() {
	w.stop.Do(func() {
		w.cancel()
		w.wg.Wait()
		if err := w.fsw.Close(); err != nil {
			slog.Warn("failed to close registry watcher", logfields.Error(err))
		}
		slog.Debug("registry watcher stopped", logfields.Path(w.dir))
	})
}

func (w *RegistryWatcher) loop(ctx context.Context, sweepInterval time.Duration) {
	defer w.wg.Done()

	var sweep <-chan time.Time
	if sweepInterval > 0 {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("registry watcher error", logfields.Error(err))

		case <-sweep:
			manifest.PatchTree(w.dir, w.rules)
		}
	}
}

func (w *RegistryWatcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return // already gone
	}

	if info.IsDir() {
		// New package directories appear as the toolchain downloads; watch
		// them too and sweep their contents immediately.
		if err := addRecursive(w.fsw, event.Name); err != nil {
			slog.Warn("failed to watch new registry directory",
				logfields.Path(event.Name), logfields.Error(err))
		}
		manifest.PatchTree(event.Name, w.rules)
		return
	}

	if filepath.Base(event.Name) != manifest.ManifestFileName {
		return
	}
	changed, err := manifest.PatchFile(event.Name, w.rules)
	if err != nil {
		slog.Warn("failed to patch registry manifest",
			logfields.Path(event.Name), logfields.Error(err))
		return
	}
	if changed {
		slog.Info("patched registry manifest on arrival", logfields.Path(event.Name))
	}
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				return err
			}
		}
		return nil
	})
}
