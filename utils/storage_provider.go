package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	StorageProviderGCS   = "gcs"
	StorageProviderLocal = "local"
)

// FileStore holds uploaded import files and verification photos.
type FileStore interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Save(ctx context.Context, path string, r io.Reader) (string, error)
	Delete(ctx context.Context, path string) error
}

func GetStorageProvider() string {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_PROVIDER")))
	if provider == "" {
		return StorageProviderLocal
	}
	return provider
}

// NewFileStoreFromEnv picks the store from STORAGE_PROVIDER (local|gcs).
func NewFileStoreFromEnv(ctx context.Context) (FileStore, error) {
	switch GetStorageProvider() {
	case StorageProviderLocal:
		dir := strings.TrimSpace(os.Getenv("LOCAL_STORAGE_DIR"))
		if dir == "" {
			dir = "storage"
		}
		return NewLocalFileStore(dir)
	case StorageProviderGCS:
		return NewGCSFileStore(ctx, os.Getenv("GCS_BUCKET"))
	default:
		return nil, fmt.Errorf("unsupported STORAGE_PROVIDER %q", GetStorageProvider())
	}
}

type LocalFileStore struct {
	root string
}

func NewLocalFileStore(root string) (*LocalFileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalFileStore{root: root}, nil
}

func (s *LocalFileStore) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if clean == "/" {
		return "", errors.New("empty storage path")
	}
	return filepath.Join(s.root, clean), nil
}

func (s *LocalFileStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

func (s *LocalFileStore) Save(_ context.Context, path string, r io.Reader) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(full)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

func (s *LocalFileStore) Delete(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
