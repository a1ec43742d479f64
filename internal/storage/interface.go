package storage

// BlobStore is a process-local key-value store of opaque string blobs.
// Get reports found=false for a missing key; that is not an error.
type BlobStore interface {
	Get(key string) (value string, found bool, err error)
	Set(key, value string) error
	Remove(key string) error
	Close() error
}
