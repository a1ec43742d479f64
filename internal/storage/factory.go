package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"zefa-sync/internal/config"
)

// New opens the blob store selected by cfg.Type.
func New(cfg config.StorageConfig) (BlobStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStorage(), nil
	case "disk":
		return NewDiskStorage(cfg.DataDir)
	case "pebble":
		return NewPebbleStorage(filepath.Join(cfg.DataDir, "pebble"))
	case "sqlite":
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageInit, err)
		}
		return NewSQLiteStorage(filepath.Join(cfg.DataDir, "zefa.db"))
	default:
		return nil, fmt.Errorf("%w: unsupported storage type %q", ErrStorageInit, cfg.Type)
	}
}
