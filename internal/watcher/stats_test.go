package watcher

import (
	"testing"

	"github.com/spf13/afero"
)

func TestStatPathMissingIsNotAnError(t *testing.T) {
	fsys := afero.NewMemMapFs()

	stats, err := statPath(fsys, "/nowhere/file.txt")
	if err != nil {
		t.Fatalf("stat missing path: %v", err)
	}
	if stats != nil {
		t.Fatalf("expected nil stats for missing path, got %+v", stats)
	}
}

func TestStatPathFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := afero.WriteFile(fsys, "/data/a.txt", []byte("hello"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	stats, err := statPath(fsys, "/data/a.txt")
	if err != nil {
		t.Fatalf("stat file: %v", err)
	}
	if stats == nil {
		t.Fatal("expected stats for existing file")
	}
	if !stats.Exists || !stats.IsFile || stats.IsDirectory {
		t.Fatalf("unexpected classification: %+v", stats)
	}
	if stats.FileSize != 5 {
		t.Fatalf("expected size 5, got %d", stats.FileSize)
	}
}

func TestStatPathDirectory(t *testing.T) {
	fsys := afero.NewMemMapFs()
	if err := fsys.MkdirAll("/data/sub", 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	stats, err := statPath(fsys, "/data/sub")
	if err != nil {
		t.Fatalf("stat directory: %v", err)
	}
	if stats == nil {
		t.Fatal("expected stats for existing directory")
	}
	if !stats.Exists || stats.IsFile || !stats.IsDirectory {
		t.Fatalf("unexpected classification: %+v", stats)
	}
}
