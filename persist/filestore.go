package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStore keeps one file per entry in a flat directory. It is the default
// backend for a persistent cache directory.
type FileStore struct {
	dir string
}

// NewFileStore opens a file store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileStore{dir: dir}, nil
}

// Dir returns the directory the store writes into.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(key CacheKey) string {
	return filepath.Join(s.dir, key.Filename())
}

func (s *FileStore) Get(key CacheKey) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}

	return data, true, nil
}

// Put writes the entry atomically: a uuid-suffixed temp file in the same
// directory, then a rename over the final name. Concurrent writers of the
// same key leave one complete winner.
func (s *FileStore) Put(key CacheKey, data []byte) error {
	final := s.path(key)
	tmp := final + ".tmp." + uuid.NewString()

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize cache entry: %w", err)
	}

	return nil
}

func (s *FileStore) Delete(key CacheKey) error {
	err := os.Remove(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}

	return nil
}

func (s *FileStore) Close() error {
	return nil
}

// Files returns the paths of every persisted entry in the store directory.
func (s *FileStore) Files() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+EntryExt))
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}

	return matches, nil
}

// Clear removes every persisted entry, leaving the directory in place.
func (s *FileStore) Clear() (int, error) {
	files, err := s.Files()
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, f := range files {
		if err := os.Remove(f); err != nil {
			return removed, fmt.Errorf("failed to delete cache entry: %w", err)
		}

		removed++
	}

	return removed, nil
}

// Stats returns the entry count and total size in bytes.
func (s *FileStore) Stats() (int, int64, error) {
	files, err := s.Files()
	if err != nil {
		return 0, 0, err
	}

	var total int64

	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}

		total += info.Size()
	}

	return len(files), total, nil
}
