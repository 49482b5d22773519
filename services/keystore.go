package services

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// KeyStore is the secure local persistence collaborator for device secret
// material. Implementations must return (nil, nil) for an absent key.
type KeyStore interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

// FileKeyStore persists secrets as 0600 files under a directory. Used by
// kiosk deployments where the service itself owns the device identity.
type FileKeyStore struct {
	dir string
}

func NewFileKeyStore(dir string) (*FileKeyStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileKeyStore{dir: dir}, nil
}

func (s *FileKeyStore) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *FileKeyStore) Set(key string, value []byte) error {
	return os.WriteFile(filepath.Join(s.dir, key), value, 0o600)
}
