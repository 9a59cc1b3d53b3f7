package index

import (
	"context"
	"log/slog"

	"github.com/starford/backlinks/internal/pageid"
	"github.com/starford/backlinks/internal/storage"
)

// SyncStats summarises one Sync pass.
type SyncStats struct {
	Indexed   int
	Removed   int
	Unchanged int
	Failed    int
}

// Sync walks the page store and brings the index up to date:
//   - new/changed pages are handed to hooks.IndexPage
//   - pages removed from the store are handed to hooks.ForgetPage
//
// Per-page failures are logged and counted; they do not abort the pass.
func Sync(ctx context.Context, db *DB, store storage.Provider, hooks Hooks, logger *slog.Logger) (SyncStats, error) {
	var stats SyncStats

	metas, err := store.List("")
	if err != nil {
		return stats, err
	}

	checksums, err := db.AllChecksums(ctx)
	if err != nil {
		return stats, err
	}

	present := make(map[pageid.ID]struct{}, len(metas))
	for _, m := range metas {
		present[m.ID] = struct{}{}

		if cs, ok := checksums[m.ID]; ok && cs == m.Checksum {
			stats.Unchanged++
			continue
		}

		data, err := store.Read(m.ID)
		if err != nil {
			stats.Failed++
			logger.Warn("sync: read failed", slog.String("page", m.ID.String()), slog.String("error", err.Error()))
			continue
		}
		if err := hooks.IndexPage(ctx, m.ID, data); err != nil {
			stats.Failed++
			logger.Warn("sync: index failed", slog.String("page", m.ID.String()), slog.String("error", err.Error()))
			continue
		}
		stats.Indexed++
		logger.Debug("sync: indexed", slog.String("page", m.ID.String()))
	}

	// Remove pages that no longer exist.
	for id := range checksums {
		if _, ok := present[id]; ok {
			continue
		}
		if err := hooks.ForgetPage(ctx, id); err != nil {
			stats.Failed++
			logger.Warn("sync: delete failed", slog.String("page", id.String()), slog.String("error", err.Error()))
			continue
		}
		stats.Removed++
		logger.Debug("sync: removed stale", slog.String("page", id.String()))
	}

	return stats, nil
}
