// manager_test.go - Tests for upload staging storage
package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func createTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestNewLocalStore(t *testing.T) {
	t.Run("creates upload directory", func(t *testing.T) {
		uploadDir := filepath.Join(t.TempDir(), "staging", "nested")

		if _, err := NewLocalStore(uploadDir); err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}

		if _, err := os.Stat(uploadDir); os.IsNotExist(err) {
			t.Error("Expected upload directory to be created")
		}
	})
}

func TestLocalStore_SaveAndOpen(t *testing.T) {
	store := createTestStore(t)

	content := "frame data"
	info, err := store.Save("clip.mp4", "video/mp4", strings.NewReader(content))
	if err != nil {
		t.Fatalf("Failed to save file: %v", err)
	}

	if info.ID == "" {
		t.Error("Expected ID to be set")
	}
	if info.Name != "clip.mp4" {
		t.Errorf("Expected name 'clip.mp4', got %v", info.Name)
	}
	if info.ContentType != "video/mp4" {
		t.Errorf("Expected content type 'video/mp4', got %v", info.ContentType)
	}
	if info.Size != int64(len(content)) {
		t.Errorf("Expected size %d, got %d", len(content), info.Size)
	}

	rc, got, err := store.Open(info.ID)
	if err != nil {
		t.Fatalf("Failed to open file: %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != content {
		t.Errorf("Expected content %q, got %q", content, string(data))
	}
	if got.ID != info.ID {
		t.Errorf("Expected metadata for %s, got %s", info.ID, got.ID)
	}
}

func TestLocalStore_GetMissing(t *testing.T) {
	store := createTestStore(t)

	if _, err := store.Get("nope"); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, _, err := store.Open("nope"); err == nil {
		t.Error("Expected error opening missing file")
	}
}

func TestLocalStore_ListOrdersNewestFirst(t *testing.T) {
	store := createTestStore(t)

	first, _ := store.Save("a.wav", "", strings.NewReader("a"))
	time.Sleep(5 * time.Millisecond)
	second, _ := store.Save("b.wav", "", strings.NewReader("b"))

	list, err := store.List(10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Error("Expected newest file first")
	}

	limited, _ := store.List(1)
	if len(limited) != 1 {
		t.Errorf("Expected limit to apply, got %d", len(limited))
	}
}

func TestLocalStore_Delete(t *testing.T) {
	store := createTestStore(t)

	info, _ := store.Save("a.wav", "", strings.NewReader("a"))
	path := filepath.Join(store.uploadDir, info.ID)

	if err := store.Delete(info.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected file to be removed from disk")
	}
	if err := store.Delete(info.ID); err == nil {
		t.Error("Expected error deleting twice")
	}
}

func TestLocalStore_PurgeOlderThan(t *testing.T) {
	store := createTestStore(t)

	old, _ := store.Save("old.wav", "", strings.NewReader("o"))
	store.files[old.ID].UploadedAt = time.Now().Add(-2 * time.Hour)
	fresh, _ := store.Save("fresh.wav", "", strings.NewReader("f"))

	if removed := store.PurgeOlderThan(time.Hour); removed != 1 {
		t.Errorf("Expected 1 purged file, got %d", removed)
	}
	if _, err := store.Get(old.ID); err == nil {
		t.Error("Expected old file to be purged")
	}
	if _, err := store.Get(fresh.ID); err != nil {
		t.Error("Expected fresh file to remain")
	}
}

func TestLocalStore_PurgeOlderThanRemovesLeftovers(t *testing.T) {
	dir := t.TempDir()
	leftover := filepath.Join(dir, "0b6d1f3e-left-over")
	if err := os.WriteFile(leftover, []byte("partial"), 0644); err != nil {
		t.Fatalf("Failed to seed file: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(leftover, old, old); err != nil {
		t.Fatalf("Failed to age file: %v", err)
	}
	recent := filepath.Join(dir, "recent-leftover")
	if err := os.WriteFile(recent, []byte("partial"), 0644); err != nil {
		t.Fatalf("Failed to seed file: %v", err)
	}

	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if removed := store.PurgeOlderThan(24 * time.Hour); removed != 1 {
		t.Errorf("Expected 1 purged file, got %d", removed)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Error("Expected stale leftover to be removed from disk")
	}
	if _, err := os.Stat(recent); err != nil {
		t.Error("Expected recent leftover to remain")
	}
}
