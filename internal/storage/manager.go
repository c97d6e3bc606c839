package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/editsuite/orchestrator/internal/models"
	"github.com/google/uuid"
)

// Store defines the interface for staging uploaded files.
type Store interface {
	Save(name, contentType string, r io.Reader) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	Open(id string) (io.ReadCloser, *models.FileInfo, error)
	List(limit int) ([]*models.FileInfo, error)
	Delete(id string) error
}

// LocalStore implements Store using the local filesystem.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	files     map[string]*models.FileInfo
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(uploadDir string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	return &LocalStore{
		uploadDir: uploadDir,
		files:     make(map[string]*models.FileInfo),
	}, nil
}

// Save writes r to a new uuid-named file.
func (s *LocalStore) Save(name, contentType string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	info := &models.FileInfo{
		ID:          id,
		Name:        name,
		Size:        size,
		ContentType: contentType,
		UploadedAt:  time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = info

	return info, nil
}

// Get retrieves file metadata by ID.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", id)
	}

	return info, nil
}

// Open returns a reader over a staged file together with its metadata.
func (s *LocalStore) Open(id string) (io.ReadCloser, *models.FileInfo, error) {
	info, err := s.Get(id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(filepath.Join(s.uploadDir, id))
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	return f, info, nil
}

// List returns the most recent files.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		list = append(list, info)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	return list, nil
}

// Delete removes a file from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("file not found: %s", id)
	}

	path := filepath.Join(s.uploadDir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}

	delete(s.files, id)
	return nil
}

// PurgeOlderThan deletes staged files older than maxAge, including files a
// previous run left on disk that were never indexed by this store.
func (s *LocalStore) PurgeOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id := entry.Name()
		stamp := time.Time{}
		if info, ok := s.files[id]; ok {
			stamp = info.UploadedAt
		} else if fi, err := entry.Info(); err == nil {
			stamp = fi.ModTime()
		} else {
			continue
		}
		if !stamp.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.uploadDir, id)); err != nil && !os.IsNotExist(err) {
			continue
		}
		delete(s.files, id)
		removed++
	}
	return removed
}
