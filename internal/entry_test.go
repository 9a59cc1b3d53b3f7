package internal

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func reindexConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Wiki.PagesPath = filepath.Join(dir, "pages")
	cfg.SQLite.Path = filepath.Join(dir, "db", "backlinks.db")
	return cfg
}

func writePage(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReindexCreatesDirsAndIndexes(t *testing.T) {
	cfg := reindexConfig(t)
	writePage(t, cfg.Wiki.PagesPath, "start.txt", "see [[ns:a]]\n")
	writePage(t, cfg.Wiki.PagesPath, "ns/a.txt", "back to [[start]]\n")

	ctx := context.Background()
	stats, err := Reindex(ctx, false, WithConfig(cfg), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if stats.Indexed != 2 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 2 indexed", stats)
	}

	// Second incremental pass finds nothing to do.
	stats, err = Reindex(ctx, false, WithConfig(cfg), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatalf("Reindex again: %v", err)
	}
	if stats.Indexed != 0 || stats.Unchanged != 2 {
		t.Errorf("stats = %+v, want 2 unchanged", stats)
	}

	// A full pass re-extracts everything.
	stats, err = Reindex(ctx, true, WithConfig(cfg), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatalf("Reindex full: %v", err)
	}
	if stats.Indexed != 2 {
		t.Errorf("stats = %+v, want 2 indexed", stats)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background(), WithLogOutput(io.Discard)); err == nil {
		t.Error("expected error without config")
	}
	if _, err := Reindex(context.Background(), false); err == nil {
		t.Error("expected error without config")
	}
}
