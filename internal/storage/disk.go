package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"zefa-sync/pkg/logger"
)

var validKey = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]*$`)

// DiskStorage keeps one file per key under dataDir/blobs.
type DiskStorage struct {
	dataDir string
	mu      sync.RWMutex
}

func NewDiskStorage(dataDir string) (*DiskStorage, error) {
	d := &DiskStorage{dataDir: dataDir}

	if err := os.MkdirAll(d.blobDir(), 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Infof("Disk blob store initialized at %s", d.blobDir())
	return d, nil
}

func (d *DiskStorage) blobDir() string {
	return filepath.Join(d.dataDir, "blobs")
}

func (d *DiskStorage) pathFor(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(d.blobDir(), key+".json"), nil
}

func (d *DiskStorage) Get(key string) (string, bool, error) {
	path, err := d.pathFor(key)
	if err != nil {
		return "", false, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return string(data), true, nil
}

// Set writes through a temp file and renames it into place so a crash never
// leaves a half-written blob.
func (d *DiskStorage) Set(key, value string) error {
	path, err := d.pathFor(key)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, []byte(value), 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStorage) Remove(key string) error {
	path, err := d.pathFor(key)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStorage) Close() error {
	return nil
}
