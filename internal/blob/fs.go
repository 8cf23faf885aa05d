package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Filesystem keeps images as flat files under a root directory that the
// HTTP server exposes at the base URL.
type Filesystem struct {
	root   string
	prefix urlPrefix
}

// NewFilesystem returns a filesystem-backed store rooted at root, creating it
// if needed.
func NewFilesystem(root, baseURL string) (*Filesystem, error) {
	if root == "" {
		root = "./data/images"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root %s: %w", root, err)
	}
	return &Filesystem{root: root, prefix: newURLPrefix(baseURL)}, nil
}

func (s *Filesystem) Driver() Driver { return DriverFilesystem }

// Root is the directory served under the base URL.
func (s *Filesystem) Root() string { return s.root }

func (s *Filesystem) Put(_ context.Context, data []byte, contentType string) (string, error) {
	key := newKey(contentType)

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp blob: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.root, key)); err != nil {
		return "", fmt.Errorf("failed to move blob into place: %w", err)
	}
	return s.prefix.urlFor(key), nil
}

func (s *Filesystem) Delete(_ context.Context, url string) error {
	key, ok := s.prefix.keyOf(url)
	if !ok {
		return ErrForeignURL
	}
	err := os.Remove(filepath.Join(s.root, key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

func (s *Filesystem) Owns(url string) bool {
	_, ok := s.prefix.keyOf(url)
	return ok
}
