package storage

import "errors"

var (
	ErrInvalidKey    = errors.New("invalid key")
	ErrStorageInit   = errors.New("storage initialization failed")
	ErrFileOperation = errors.New("file operation failed")
	ErrClosed        = errors.New("storage closed")
)
