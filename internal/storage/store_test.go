package storage

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s, err := New(filepath.Join(t.TempDir(), "attachments"), logrus.NewEntry(logger))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}

func TestSaveAndRead(t *testing.T) {
	s := testStore(t)
	received := time.Date(2026, 3, 2, 14, 5, 0, 0, time.UTC)

	saved, err := s.Save(42, "Quote Final.PDF", []byte("%PDF-1.4 data"), received)
	if err != nil {
		t.Fatalf("failed to save attachment: %v", err)
	}

	pattern := regexp.MustCompile(`^202603021405_42_[0-9a-f-]{36}\.PDF$`)
	if !pattern.MatchString(saved.StoredFilename) {
		t.Errorf("stored filename = %q, want YYYYMMDDHHMM_uid_uuid.ext", saved.StoredFilename)
	}
	if saved.FileSize != int64(len("%PDF-1.4 data")) {
		t.Errorf("file size = %d", saved.FileSize)
	}
	if filepath.Dir(saved.FilePath) != s.baseDir {
		t.Errorf("unexpected file path %q", saved.FilePath)
	}

	data, err := s.Read(saved.StoredFilename)
	if err != nil {
		t.Fatalf("failed to read attachment: %v", err)
	}
	if string(data) != "%PDF-1.4 data" {
		t.Errorf("read back %q", data)
	}
}

func TestSaveFlatDirectory(t *testing.T) {
	s := testStore(t)

	// A hostile original filename must not escape the base directory.
	saved, err := s.Save(1, "../../etc/passwd", []byte("x"), time.Now())
	if err != nil {
		t.Fatalf("failed to save attachment: %v", err)
	}
	if strings.Contains(saved.StoredFilename, "/") || strings.Contains(saved.StoredFilename, "..") {
		t.Errorf("stored filename leaks path components: %q", saved.StoredFilename)
	}
	if filepath.Dir(saved.FilePath) != s.baseDir {
		t.Errorf("file landed outside base dir: %q", saved.FilePath)
	}
}

func TestSaveUniqueNames(t *testing.T) {
	s := testStore(t)
	received := time.Now()

	a, err := s.Save(7, "same.txt", []byte("a"), received)
	if err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	b, err := s.Save(7, "same.txt", []byte("b"), received)
	if err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if a.StoredFilename == b.StoredFilename {
		t.Error("expected distinct stored names for identical inputs")
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)

	saved, err := s.Save(1, "a.txt", []byte("x"), time.Now())
	if err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := s.Delete(saved.StoredFilename); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}
	if _, err := s.Read(saved.StoredFilename); err == nil {
		t.Error("expected read after delete to fail")
	}

	// Deleting a missing file is not an error.
	if err := s.Delete("never-existed.bin"); err != nil {
		t.Errorf("delete of missing file returned %v", err)
	}
}

func TestCleanupOlderThan(t *testing.T) {
	s := testStore(t)

	old, err := s.Save(1, "old.txt", []byte("x"), time.Now())
	if err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	fresh, err := s.Save(2, "fresh.txt", []byte("y"), time.Now())
	if err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	stale := time.Now().AddDate(0, 0, -40)
	if err := os.Chtimes(old.FilePath, stale, stale); err != nil {
		t.Fatalf("failed to age file: %v", err)
	}

	removed, err := s.CleanupOlderThan(30)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := s.Read(old.StoredFilename); err == nil {
		t.Error("expected old file to be removed")
	}
	if _, err := s.Read(fresh.StoredFilename); err != nil {
		t.Errorf("fresh file should survive cleanup: %v", err)
	}
}
