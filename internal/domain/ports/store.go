package ports

import "context"

// BlobStore persists opaque blobs by key. Load returns domain.ErrNotFound for
// unknown keys.
type BlobStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}
