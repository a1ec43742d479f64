package storage

import "sync"

type MemoryStorage struct {
	blobs  map[string]string
	mu     sync.RWMutex
	closed bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		blobs: make(map[string]string),
	}
}

func (m *MemoryStorage) Get(key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrInvalidKey
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", false, ErrClosed
	}
	value, exists := m.blobs[key]
	return value, exists, nil
}

func (m *MemoryStorage) Set(key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.blobs[key] = value
	return nil
}

func (m *MemoryStorage) Remove(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.blobs, key)
	return nil
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.blobs = make(map[string]string)
	return nil
}
