// Package file stores persistence blobs as plain files. Keys are file paths.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"torrent2http/internal/domain"
	"torrent2http/internal/domain/ports"
)

type BlobStore struct {
	// Dir resolves relative keys; empty means the working directory.
	Dir string
}

var _ ports.BlobStore = BlobStore{}

func (s BlobStore) path(key string) (string, error) {
	if key == "" {
		return "", errors.New("empty blob key")
	}
	if filepath.IsAbs(key) || s.Dir == "" {
		return filepath.Clean(key), nil
	}
	return filepath.Join(s.Dir, key), nil
}

func (s BlobStore) Load(ctx context.Context, key string) ([]byte, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrNotFound
	}
	return data, err
}

// Save writes through a temp file and a rename so a failed write keeps the
// previous copy intact.
func (s BlobStore) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, p); err != nil {
		cleanup()
		return err
	}
	return nil
}
