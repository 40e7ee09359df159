package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps files on disk under basePath and serves them through
// the /files route. Local URLs carry no expiry, so media references
// pointing at them never need the refresh sweep.
type LocalStore struct {
	basePath string
}

func NewLocalStore(basePath string) *LocalStore {
	return &LocalStore{basePath: basePath}
}

func (s *LocalStore) Upload(_ context.Context, key, contentType string, size int64, r io.Reader) (*StoredObject, error) {
	path := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}

	return &StoredObject{
		Key:         key,
		URL:         "/files/" + key,
		ContentType: contentType,
		SizeBytes:   size,
	}, nil
}

func (s *LocalStore) Refresh(_ context.Context, key, contentType string, size int64) (*StoredObject, error) {
	return &StoredObject{
		Key:         key,
		URL:         "/files/" + key,
		ContentType: contentType,
		SizeBytes:   size,
	}, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	path := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	// Drop the parent dir when it became empty.
	_ = os.Remove(filepath.Dir(path))
	return nil
}

// Open returns a reader for a stored file, used by the /files route.
func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path := filepath.Join(s.basePath, filepath.FromSlash(key))
	if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(s.basePath)+string(os.PathSeparator)) {
		return nil, fmt.Errorf("invalid key %q", key)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}
