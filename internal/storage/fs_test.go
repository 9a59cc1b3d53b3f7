package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/backlinks/internal/pageid"
)

func tempPages(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return s
}

func TestWriteAndRead(t *testing.T) {
	s := tempPages(t)
	content := []byte("====== Hello ======\nWorld\n")
	if err := s.Write("hello", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("hello")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "hello.txt")); err != nil {
		t.Errorf("expected hello.txt on disk: %v", err)
	}
}

func TestWriteCreatesNamespaceDirs(t *testing.T) {
	s := tempPages(t)
	if err := s.Write("a:b:c", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "a", "b", "c.txt")); err != nil {
		t.Fatalf("expected a/b/c.txt: %v", err)
	}
	got, err := s.Read("a:b:c")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestReadMissingIsNotExist(t *testing.T) {
	s := tempPages(t)
	_, err := s.Read("nope")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want fs.ErrNotExist", err)
	}
}

func TestExists(t *testing.T) {
	s := tempPages(t)
	_ = s.Write("ns:here", []byte("x"))
	if !s.Exists("ns:here") {
		t.Error("ns:here should exist")
	}
	if s.Exists("ns:missing") {
		t.Error("ns:missing should not exist")
	}
	if s.Exists("ns") {
		t.Error("a namespace directory is not a page")
	}
}

func TestDeletePrunesEmptyNamespaces(t *testing.T) {
	s := tempPages(t)
	_ = s.Write("a:b:gone", []byte("bye"))
	_ = s.Write("a:stay", []byte("hi"))
	if err := s.Delete("a:b:gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("a:b:gone"); err == nil {
		t.Error("expected error reading deleted page")
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "a", "b")); !os.IsNotExist(err) {
		t.Error("empty namespace dir a/b should be removed")
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "a")); err != nil {
		t.Error("non-empty namespace dir a should remain")
	}
}

func TestMove(t *testing.T) {
	s := tempPages(t)
	_ = s.Write("old", []byte("data"))
	if err := s.Move("old", "sub:new"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("sub:new")
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}
	if s.Exists("old") {
		t.Error("old page should not exist")
	}
}

func TestList(t *testing.T) {
	s := tempPages(t)
	_ = s.Write("a", []byte("a"))
	_ = s.Write("ns:b", []byte("b"))
	_ = s.Write("ns:sub:c", []byte("c"))
	_ = os.WriteFile(filepath.Join(s.Root(), "readme.md"), []byte("not a page"), 0o644)
	_ = os.WriteFile(filepath.Join(s.Root(), "Bad Name.txt"), []byte("not canonical"), 0o644)

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("len = %d, want 3: %+v", len(items), items)
	}

	items, err = s.List("ns")
	if err != nil {
		t.Fatalf("List(ns): %v", err)
	}
	if len(items) != 2 {
		t.Errorf("len(ns) = %d, want 2", len(items))
	}

	items, err = s.List("empty")
	if err != nil {
		t.Fatalf("List(empty): %v", err)
	}
	if len(items) != 0 {
		t.Errorf("len(empty) = %d, want 0", len(items))
	}
}

func TestIDFromPath(t *testing.T) {
	cases := map[string]pageid.ID{
		"a.txt":              "a",
		"ns/sub/page.txt":    "ns:sub:page",
		"page.md":            "",
		"Upper.txt":          "",
		"with space.txt":     "",
		".hidden/x.txt":      "",
		"ns/ok_name-1.2.txt": "ns:ok_name-1.2",
	}
	for in, want := range cases {
		if got := IDFromPath(in); got != want {
			t.Errorf("IDFromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInvalidIDsRejected(t *testing.T) {
	s := tempPages(t)

	cases := []pageid.ID{
		"../../etc/passwd",
		"..:outside",
		"Upper",
		"",
	}
	for _, id := range cases {
		if _, err := s.Read(id); err == nil {
			t.Errorf("expected error for id %q", id)
		}
		if err := s.Write(id, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", id)
		}
	}
}

func TestAtomicWriteNoLeftovers(t *testing.T) {
	s := tempPages(t)
	_ = s.Write("atomic", []byte("original content"))

	updated := []byte("updated content")
	if err := s.Write("atomic", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	matches, _ := filepath.Glob(filepath.Join(s.root, ".page-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/backlinks-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "backlinks-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
