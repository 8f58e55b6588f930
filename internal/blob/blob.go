package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound    = errors.New("blob: object not found")
	ErrExists      = errors.New("blob: object already exists")
	ErrInvalidPath = errors.New("blob: invalid object path")
)

// Bucket stores objects addressed by slash separated paths.
type Bucket interface {
	Name() string
	Put(ctx context.Context, objectPath string, r io.Reader, contentType string) (int64, error)
	Open(ctx context.Context, objectPath string) (io.ReadCloser, error)
	Delete(ctx context.Context, objectPath string) error
}

// FSBucket keeps objects under a directory on the local filesystem.
type FSBucket struct {
	name string
	root string
}

// NewFSBucket creates the bucket directory if needed.
func NewFSBucket(root, name string) (*FSBucket, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid bucket name %q", name)
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create bucket dir: %w", err)
	}
	return &FSBucket{name: name, root: dir}, nil
}

func (b *FSBucket) Name() string { return b.name }

// CleanPath validates an object path and returns its canonical form.
func CleanPath(objectPath string) (string, error) {
	p := strings.TrimSpace(objectPath)
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalidPath
		}
	}
	return path.Clean(p), nil
}

func (b *FSBucket) resolve(objectPath string) (string, error) {
	p, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(b.root, filepath.FromSlash(p)), nil
}

// Put writes a new object. Existing objects are never replaced.
func (b *FSBucket) Put(ctx context.Context, objectPath string, r io.Reader, _ string) (int64, error) {
	full, err := b.resolve(objectPath)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if errors.Is(err, fs.ErrExist) {
		return 0, ErrExists
	}
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(full)
		return 0, err
	}
	return n, nil
}

// Open returns a reader for the object.
func (b *FSBucket) Open(_ context.Context, objectPath string) (io.ReadCloser, error) {
	full, err := b.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

// Delete removes the object. Missing objects are not an error.
func (b *FSBucket) Delete(_ context.Context, objectPath string) error {
	full, err := b.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
