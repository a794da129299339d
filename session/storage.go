package session

import (
	"errors"
	"sync"

	"github.com/davon-library/webgate/storage"
)

// Storage is the client-side key/value area a Store persists the raw token
// in. It plays the role a browser's local storage plays for a web page.
type Storage interface {
	// Load returns the value for key and whether it was present.
	Load(key string) (string, bool, error)
	Save(key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error
}

// MemoryStorage is a Storage that lives for the life of the process.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]string)}
}

func (m *MemoryStorage) Load(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStorage) Save(key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Remove(key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

const (
	clientNamespace  = "__client"
	clientRecordType = "KV"
)

// RepositoryStorage persists values in a storage.Repository, typically a
// bbolt file, so a session survives process restarts.
type RepositoryStorage struct {
	repo storage.Repository
}

var _ Storage = (*RepositoryStorage)(nil)

// NewRepositoryStorage wraps repo.
func NewRepositoryStorage(repo storage.Repository) *RepositoryStorage {
	return &RepositoryStorage{repo: repo}
}

func (s *RepositoryStorage) Load(key string) (string, bool, error) {
	data, err := s.repo.Get(clientNamespace, clientRecordType, key)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func (s *RepositoryStorage) Save(key, value string) error {
	return s.repo.Put(clientNamespace, clientRecordType, key, []byte(value))
}

func (s *RepositoryStorage) Remove(key string) error {
	err := s.repo.Delete(clientNamespace, clientRecordType, key)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrNamespaceNotFound) {
		return nil
	}
	return err
}
