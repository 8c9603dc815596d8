// Package watch reports notebook files changed or removed outside the
// service, so open sessions can be told their saved content moved on.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/nbkeep/internal/models"
)

// Kind classifies a watcher event.
type Kind string

// Event kinds.
const (
	Changed Kind = "changed"
	Deleted Kind = "deleted"
)

const (
	notebookExt     = ".ipynb"
	defaultDebounce = 100 * time.Millisecond
)

// Callback receives debounced notebook events.
type Callback func(kind Kind, uri models.URI)

// Options configures Watch.
type Options struct {
	// Root is the workspace directory, watched recursively.
	Root string
	// Ignore lists directories whose contents never produce events, such as
	// the hot-exit backup directory.
	Ignore []string
	// Debounce coalesces bursts of events for one file. Zero selects 100ms.
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watch runs an fsnotify watcher over opts.Root until ctx is cancelled.
// Directories created at runtime are added to the watch list and the
// notebooks already inside them are reported as changed.
func Watch(ctx context.Context, opts Options, cb Callback) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return err
	}
	ignore := make([]string, 0, len(opts.Ignore))
	for _, dir := range opts.Ignore {
		if abs, absErr := filepath.Abs(dir); absErr == nil {
			ignore = append(ignore, abs)
		}
	}
	ignored := func(p string) bool {
		for _, dir := range ignore {
			if p == dir || strings.HasPrefix(p, dir+string(filepath.Separator)) {
				return true
			}
		}
		return false
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root, ignored); err != nil {
		return err
	}
	logger.Info("watcher: started", slog.String("root", root))

	// Last kind per path wins within one debounce window.
	pending := make(map[string]Kind)
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	schedule := func(path string, kind Kind) {
		pending[path] = kind
		if flushTimer == nil {
			flushTimer = time.NewTimer(debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(debounce)
		}
	}

	flush := func() {
		for path, kind := range pending {
			logger.Debug("watcher: notebook event",
				slog.String("path", path),
				slog.String("kind", string(kind)))
			if cb != nil {
				cb(kind, models.FileURI(path))
			}
		}
		clear(pending)
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			flush()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name
			if ignored(absPath) {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath, ignored); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					for _, nb := range notebooksIn(absPath) {
						schedule(nb, Changed)
					}
					continue
				}
			}

			if !strings.HasSuffix(absPath, notebookExt) {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				schedule(absPath, Changed)
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// fsnotify reports a rename on the old path; the new path
				// arrives as its own Create.
				schedule(absPath, Deleted)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// notebooksIn lists notebook files below dir.
func notebooksIn(dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, notebookExt) {
			return nil
		}
		out = append(out, path)
		return nil
	})
	return out
}

// addDirsRecursive adds root and all its non-ignored subdirectories to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string, ignored func(string) bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if ignored(path) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
