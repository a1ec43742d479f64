package storage

import (
	"errors"
	"fmt"
	"sync"

	"zefa-sync/pkg/logger"

	"github.com/cockroachdb/pebble"
)

const pebbleKeyPrefix = "blob:"

// PebbleStorage stores blobs in a Pebble LSM under a "blob:" key namespace.
type PebbleStorage struct {
	mu sync.RWMutex
	db *pebble.DB
}

func NewPebbleStorage(path string) (*PebbleStorage, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageInit, err)
	}
	logger.Infof("Pebble blob store opened at %s", path)
	return &PebbleStorage{db: db}, nil
}

func pebbleKey(key string) []byte {
	return []byte(pebbleKeyPrefix + key)
}

func (p *PebbleStorage) Get(key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrInvalidKey
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return "", false, ErrClosed
	}
	value, closer, err := p.db.Get(pebbleKey(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	defer closer.Close()

	// value is only valid until closer.Close
	return string(value), true, nil
}

func (p *PebbleStorage) Set(key, value string) error {
	if key == "" {
		return ErrInvalidKey
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return ErrClosed
	}
	if err := p.db.Set(pebbleKey(key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (p *PebbleStorage) Remove(key string) error {
	if key == "" {
		return ErrInvalidKey
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return ErrClosed
	}
	if err := p.db.Delete(pebbleKey(key), pebble.Sync); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (p *PebbleStorage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	if err != nil {
		return err
	}
	logger.Info("Pebble blob store closed")
	return nil
}
