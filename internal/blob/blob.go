// Package blob stores machine images and hands back the URL they are
// served from.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"machine-catalog-backend/config"
)

// Driver identifies a blob backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

// ErrForeignURL is returned when asked to delete a URL the store did not
// issue.
var ErrForeignURL = errors.New("url is not owned by this blob store")

// Store persists image bytes. Put returns the public URL of the new object;
// Delete removes the object behind a URL previously returned by Put and is
// a no-op for objects that are already gone.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, url string) error
	Owns(url string) bool
	Driver() Driver
}

// Open selects a Store implementation from cfg.
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch Driver(cfg.Driver) {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSDir, cfg.BaseURL)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// newKey names a new object: a random uuid plus an extension matching the
// content type.
func newKey(contentType string) string {
	return uuid.NewString() + extensionFor(contentType)
}

func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

// urlPrefix binds keys to a public base URL.
type urlPrefix string

func newURLPrefix(base string) urlPrefix {
	return urlPrefix(strings.TrimRight(base, "/") + "/")
}

func (p urlPrefix) urlFor(key string) string {
	return string(p) + key
}

// keyOf returns the object key behind url, or false when url was not issued
// under this prefix.
func (p urlPrefix) keyOf(url string) (string, bool) {
	if !strings.HasPrefix(url, string(p)) {
		return "", false
	}
	key := strings.TrimPrefix(url, string(p))
	if key == "" || strings.Contains(key, "/") || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}
