package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSync(t *testing.T) {
	dir, store, db := watcherTestEnv(t)
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	hooks := linkHooks{db: db}

	_ = store.Write("a", []byte("see [[b]] and [[ns:c]]"))
	_ = store.Write("ns:d", []byte("up to [[..:b]]"))

	stats, err := Sync(ctx, db, store, hooks, logger)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if stats.Indexed != 2 || stats.Unchanged != 0 {
		t.Errorf("first sync stats = %+v", stats)
	}
	if got, _ := db.Backlinks(ctx, "b"); !reflect.DeepEqual(got, ids("a", "ns:d")) {
		t.Errorf("Backlinks(b) = %v", got)
	}

	stats, _ = Sync(ctx, db, store, hooks, logger)
	if stats.Indexed != 0 || stats.Unchanged != 2 {
		t.Errorf("second sync stats = %+v, want all unchanged", stats)
	}

	// Out-of-band change and removal.
	_ = os.WriteFile(filepath.Join(dir, "a.txt"), []byte("only [[ns:c]]"), 0o644)
	_ = os.Remove(filepath.Join(dir, "ns", "d.txt"))

	stats, _ = Sync(ctx, db, store, hooks, logger)
	if stats.Indexed != 1 || stats.Removed != 1 {
		t.Errorf("third sync stats = %+v", stats)
	}
	if got, _ := db.Backlinks(ctx, "b"); len(got) != 0 {
		t.Errorf("Backlinks(b) = %v, want empty", got)
	}
	if got, _ := db.Backlinks(ctx, "ns:c"); !reflect.DeepEqual(got, ids("a")) {
		t.Errorf("Backlinks(ns:c) = %v", got)
	}
}

func TestSyncAfterResetReindexesEverything(t *testing.T) {
	_, store, db := watcherTestEnv(t)
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	hooks := linkHooks{db: db}

	_ = store.Write("a", []byte("[[b]]"))
	_, _ = Sync(ctx, db, store, hooks, logger)
	_ = db.ResetChecksums(ctx)

	stats, _ := Sync(ctx, db, store, hooks, logger)
	if stats.Indexed != 1 {
		t.Errorf("stats = %+v, want 1 indexed", stats)
	}
}
