package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Backend is write-once object storage addressable by a generated key.
type Backend interface {
	// Store writes the object and returns the number of bytes written.
	Store(ctx context.Context, key string, r io.Reader) (int64, error)

	// Open returns a reader over a stored object.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns the stable retrieval URL for a stored object.
	URL(key string) string
}

// Filesystem stores objects under a base directory. Collision resistance is
// the caller's responsibility via generated keys; directories are appended
// to, never rewritten.
type Filesystem struct {
	basePath string
	urlBase  string
}

// NewFilesystem creates the base directory and returns a filesystem backend.
func NewFilesystem(basePath, urlBase string) (*Filesystem, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if urlBase == "" {
		urlBase = "/storage"
	}
	return &Filesystem{basePath: abs, urlBase: strings.TrimRight(urlBase, "/")}, nil
}

func (f *Filesystem) Store(ctx context.Context, key string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	full := filepath.Join(f.basePath, sanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, fmt.Errorf("create object directory: %w", err)
	}
	dst, err := os.Create(full)
	if err != nil {
		return 0, fmt.Errorf("create object %s: %w", key, err)
	}
	defer dst.Close()
	size, err := io.Copy(dst, r)
	if err != nil {
		os.Remove(full)
		return 0, fmt.Errorf("write object %s: %w", key, err)
	}
	return size, nil
}

func (f *Filesystem) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(f.basePath, sanitizeKey(key)))
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return file, nil
}

func (f *Filesystem) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(filepath.Join(f.basePath, sanitizeKey(key)))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}

func (f *Filesystem) URL(key string) string {
	return f.urlBase + "/" + path.Clean("/"+sanitizeKey(key))[1:]
}

// sanitizeKey prevents directory traversal through stored keys.
func sanitizeKey(key string) string {
	key = filepath.ToSlash(filepath.Clean(key))
	key = strings.TrimPrefix(key, "/")
	key = strings.ReplaceAll(key, "..", "_")
	return key
}
