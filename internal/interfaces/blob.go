package interfaces

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Key       string
	SizeBytes int64
	ModTime   time.Time
}

// BlobStore persists original uploaded bytes. Keys follow
// documents/{document_id}/v{version}/{filename}; implementations must reject
// keys that escape their root.
type BlobStore interface {
	// Put streams content under key and returns the byte count written.
	// The write is atomic: readers never observe partial objects.
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	// Get opens the object for reading. ErrNotFound when absent.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (*BlobInfo, error)
	// Delete removes the object. Deleting an absent key is not an error;
	// the bool reports whether anything was removed.
	Delete(ctx context.Context, key string) (bool, error)
	// SignURL mints a time-limited download URL for the object.
	SignURL(key string, expiresAt time.Time) (string, error)
	// VerifyURL checks a presigned path+signature pair and returns the key.
	VerifyURL(key, expires, signature string) (string, error)
}
