package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stritefax/heelixchat/internal/models"
)

func statSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return info.Size()
}

func TestMeasureDiskUsage_CountsWALSidecars(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "heelix.db")
	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.CreateDocument(context.Background(), &models.Document{Title: "t", Content: "some content"}); err != nil {
		t.Fatal(err)
	}

	want := statSize(t, dbPath) + statSize(t, dbPath+"-wal") + statSize(t, dbPath+"-shm")
	if statSize(t, dbPath+"-wal") == 0 {
		t.Fatalf("expected a WAL file next to %s", dbPath)
	}

	u, err := MeasureDiskUsage(dbPath, "")
	if err != nil {
		t.Fatal(err)
	}
	if u.Database != want {
		t.Errorf("database: got %d bytes, want %d", u.Database, want)
	}
	if u.KeywordIndex != 0 {
		t.Errorf("keyword index: got %d bytes, want 0", u.KeywordIndex)
	}
}

func TestMeasureDiskUsage_KeywordIndexTree(t *testing.T) {
	dir := t.TempDir()
	kw := filepath.Join(dir, "keyword.bleve")
	if err := os.MkdirAll(filepath.Join(kw, "store"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(kw, "index_meta.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(kw, "store", "root.bolt"), make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}

	u, err := MeasureDiskUsage(filepath.Join(dir, "missing.db"), kw)
	if err != nil {
		t.Fatal(err)
	}
	if u.Database != 0 {
		t.Errorf("missing database: got %d bytes, want 0", u.Database)
	}
	if u.KeywordIndex != 102 {
		t.Errorf("keyword index: got %d bytes, want 102", u.KeywordIndex)
	}
	if u.Total() != 102 {
		t.Errorf("total: got %d bytes, want 102", u.Total())
	}

	u, err = MeasureDiskUsage("", filepath.Join(dir, "nonexistent"))
	if err != nil {
		t.Fatal(err)
	}
	if u.Total() != 0 {
		t.Errorf("missing paths: got %d bytes, want 0", u.Total())
	}
}
