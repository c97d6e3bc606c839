// mock_storage.go - In-memory staging store for handler tests
package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/editsuite/orchestrator/internal/models"
	"github.com/editsuite/orchestrator/internal/storage"
)

// MockStorage implements storage.Store in memory.
type MockStorage struct {
	files    map[string]*models.FileInfo
	fileData map[string][]byte
	mu       sync.RWMutex

	// SaveErr, when set, is returned by Save.
	SaveErr error
}

// NewMockStorage creates an empty mock store.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		files:    make(map[string]*models.FileInfo),
		fileData: make(map[string][]byte),
	}
}

func (m *MockStorage) Save(name, contentType string, r io.Reader) (*models.FileInfo, error) {
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := generateTestID()
	file := &models.FileInfo{
		ID:          id,
		Name:        name,
		Size:        int64(len(data)),
		ContentType: contentType,
		UploadedAt:  time.Now(),
	}
	m.files[id] = file
	m.fileData[id] = data
	return file, nil
}

func (m *MockStorage) Get(id string) (*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	file, ok := m.files[id]
	if !ok {
		return nil, errors.New("file not found")
	}
	return file, nil
}

func (m *MockStorage) Open(id string) (io.ReadCloser, *models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	file, ok := m.files[id]
	if !ok {
		return nil, nil, errors.New("file not found")
	}
	return io.NopCloser(bytes.NewReader(m.fileData[id])), file, nil
}

func (m *MockStorage) List(limit int) ([]*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var files []*models.FileInfo
	for _, file := range m.files {
		files = append(files, file)
		if limit > 0 && len(files) >= limit {
			break
		}
	}
	return files, nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.files[id]; !exists {
		return errors.New("file not found")
	}
	delete(m.files, id)
	delete(m.fileData, id)
	return nil
}

var _ storage.Store = (*MockStorage)(nil)

// GetFileCount returns the number of staged files.
func (m *MockStorage) GetFileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

var testIDCounter int
var testIDMutex sync.Mutex

func generateTestID() string {
	testIDMutex.Lock()
	defer testIDMutex.Unlock()
	testIDCounter++
	return fmt.Sprintf("test-id-%d", testIDCounter)
}
