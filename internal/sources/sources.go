// Package sources opens layer source files from a local directory or an
// S3-compatible bucket.
package sources

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

// Store kinds reported in layer info.
const (
	KindFile = "file"
	KindS3   = "s3"
)

var (
	// ErrNotFound is returned when a source does not exist.
	ErrNotFound = errors.New("source not found")
	// ErrInvalidName is returned for empty, absolute or escaping names.
	ErrInvalidName = errors.New("invalid source name")
)

// Object is an opened source. Callers must close Body.
type Object struct {
	Name string
	Size int64
	Body io.ReadCloser
}

// Store opens named sources.
type Store interface {
	Open(ctx context.Context, name string) (Object, error)
	Kind() string
}

// CleanName validates a source name and returns it in slash form.
func CleanName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}
	name = filepath.ToSlash(name)
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	clean := path.Clean(name)
	if clean == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, seg := range strings.Split(clean, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return clean, nil
}

// ReadAll opens name and reads it fully.
func ReadAll(ctx context.Context, s Store, name string) ([]byte, Object, error) {
	obj, err := s.Open(ctx, name)
	if err != nil {
		return nil, Object{}, err
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, Object{}, fmt.Errorf("reading %s: %w", name, err)
	}
	obj.Size = int64(len(data))
	return data, obj, nil
}

// Dir is a Store over a local directory.
type Dir struct {
	Root string
}

// Open implements Store.
func (d Dir) Open(ctx context.Context, name string) (Object, error) {
	clean, err := CleanName(name)
	if err != nil {
		return Object{}, err
	}
	f, err := os.Open(filepath.Join(d.Root, filepath.FromSlash(clean)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, fmt.Errorf("%w: %s", ErrNotFound, clean)
		}
		return Object{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return Object{}, err
	}
	if info.IsDir() {
		f.Close()
		return Object{}, fmt.Errorf("%w: %s is a directory", ErrInvalidName, clean)
	}
	return Object{Name: clean, Size: info.Size(), Body: f}, nil
}

// Kind implements Store.
func (Dir) Kind() string { return KindFile }
