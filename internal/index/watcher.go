package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/backlinks/internal/storage"
)

// reconcileDelay debounces rename reconciliation.
const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the pages root and feeds page changes
// made outside the service (editors, git checkouts) to hooks until ctx is
// cancelled.
//
// New namespace directories are added to the watch list as they appear.
// fsnotify reports a rename only for the old path, so renames forget the old
// page at once and schedule a Sync to pick up the new one.
func Watch(ctx context.Context, db *DB, store storage.Provider, root string, hooks Hooks, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if _, err := Sync(ctx, db, store, hooks, logger); err != nil {
				logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			// New namespace directory: watch it and index what it already holds.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					indexNewDir(ctx, store, root, absPath, hooks, logger)
					continue
				}
			}

			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			id := storage.IDFromPath(rel)
			if id == "" {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, readErr := store.Read(id)
				if readErr != nil {
					logger.Warn("watcher: read failed", slog.String("page", id.String()), slog.String("error", readErr.Error()))
					continue
				}
				if idxErr := hooks.IndexPage(ctx, id, data); idxErr != nil {
					logger.Warn("watcher: index failed", slog.String("page", id.String()), slog.String("error", idxErr.Error()))
					continue
				}
				logger.Debug("watcher: indexed", slog.String("page", id.String()), slog.String("op", ev.Op.String()))

			case ev.Op&fsnotify.Remove != 0:
				if delErr := hooks.ForgetPage(ctx, id); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("page", id.String()), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("page", id.String()))

			case ev.Op&fsnotify.Rename != 0:
				if delErr := hooks.ForgetPage(ctx, id); delErr != nil {
					logger.Warn("watcher: rename delete failed", slog.String("page", id.String()), slog.String("error", delErr.Error()))
				} else {
					logger.Debug("watcher: rename old deleted", slog.String("page", id.String()))
				}
				scheduleReconcile()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// indexNewDir indexes any pages found in a newly created directory.
func indexNewDir(ctx context.Context, store storage.Provider, root, dirPath string, hooks Hooks, logger *slog.Logger) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, storage.Ext) {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		id := storage.IDFromPath(rel)
		if id == "" {
			return nil
		}
		data, readErr := store.Read(id)
		if readErr != nil {
			return nil
		}
		if idxErr := hooks.IndexPage(ctx, id, data); idxErr == nil {
			logger.Debug("watcher: indexed from new dir", slog.String("page", id.String()))
		}
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
