// Package storage materializes attachment bytes in one flat directory.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store writes attachment files under a single base directory. Filenames
// are generated, never derived from user input, so the original filename
// cannot traverse outside the directory.
type Store struct {
	baseDir string
	log     *logrus.Entry
}

// SavedFile describes one materialized attachment.
type SavedFile struct {
	StoredFilename string
	FilePath       string
	FileSize       int64
}

// New creates the base directory if needed and returns the store.
func New(baseDir string, log *logrus.Entry) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}
	return &Store{baseDir: baseDir, log: log}, nil
}

// Save writes one attachment. The stored name is
// YYYYMMDDHHMM_<uid>_<uuid><ext>, keeping only the extension of the
// original filename.
func (s *Store) Save(emailUID uint32, originalFilename string, content []byte, receivedAt time.Time) (*SavedFile, error) {
	name := fmt.Sprintf("%s_%d_%s%s",
		receivedAt.Format("200601021504"),
		emailUID,
		uuid.New().String(),
		filepath.Ext(originalFilename))
	path := filepath.Join(s.baseDir, name)

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write attachment %s: %w", name, err)
	}

	return &SavedFile{
		StoredFilename: name,
		FilePath:       path,
		FileSize:       int64(len(content)),
	}, nil
}

// Read returns the bytes of a stored attachment.
func (s *Store) Read(storedFilename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, filepath.Base(storedFilename)))
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %s: %w", storedFilename, err)
	}
	return data, nil
}

// Delete removes a stored attachment. Missing files are not an error.
func (s *Store) Delete(storedFilename string) error {
	err := os.Remove(filepath.Join(s.baseDir, filepath.Base(storedFilename)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete attachment %s: %w", storedFilename, err)
	}
	return nil
}

// CleanupOlderThan removes files whose modification time is older than
// the given number of days and returns how many were removed.
func (s *Store) CleanupOlderThan(days int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -days)

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("failed to list attachment directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.log.WithError(err).WithField("file", entry.Name()).Warn("failed to stat attachment")
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.baseDir, entry.Name())); err != nil {
			s.log.WithError(err).WithField("file", entry.Name()).Warn("failed to remove old attachment")
			continue
		}
		removed++
	}
	return removed, nil
}
