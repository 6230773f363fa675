package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ArchiveStore keeps copies of generated quote comparison exports on disk,
// partitioned by generation date so operators can prune old directories.
type ArchiveStore struct {
	baseDir string
}

// NewArchiveStore ensures the base directory exists and returns a handle.
func NewArchiveStore(baseDir string) (*ArchiveStore, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return &ArchiveStore{baseDir: baseDir}, nil
}

// Save writes an export payload under <base>/<yyyy-mm-dd>/<filename> and
// returns the path relative to the base directory.
func (s *ArchiveStore) Save(filename string, data []byte) (string, error) {
	rel := filepath.Join(time.Now().UTC().Format("2006-01-02"), filepath.Base(filename))
	path := filepath.Join(s.baseDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare archive directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write archive file: %w", err)
	}
	return rel, nil
}

// Prune removes date directories older than the retention window. It returns
// the number of directories removed.
func (s *ArchiveStore) Prune(retention time.Duration) (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("read archive directory: %w", err)
	}
	cutoff := time.Now().UTC().Add(-retention)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		day, err := time.Parse("2006-01-02", entry.Name())
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(s.baseDir, entry.Name())); err != nil {
				return removed, fmt.Errorf("prune archive day %s: %w", entry.Name(), err)
			}
			removed++
		}
	}
	return removed, nil
}
