package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements Storage using local disk. Export outputs are
// written under tempDir and the library is a directory on the same host.
type LocalStorage struct {
	tempDir    string
	libraryDir string
}

// NewLocalStorage creates a new LocalStorage instance.
// If tempDir is empty, a "videocollage" directory under os.TempDir() is used.
// If libraryDir is empty, it defaults to tempDir/library.
// Both directories are created if they don't exist.
func NewLocalStorage(tempDir, libraryDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "videocollage")
	}
	if libraryDir == "" {
		libraryDir = filepath.Join(tempDir, "library")
	}

	if err := os.MkdirAll(tempDir, 0o750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	if err := os.MkdirAll(libraryDir, 0o750); err != nil {
		return nil, fmt.Errorf("create library directory: %w", err)
	}

	return &LocalStorage{tempDir: tempDir, libraryDir: libraryDir}, nil
}

// TempDir returns the temporary directory path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// LibraryDir returns the media library directory path.
func (s *LocalStorage) LibraryDir() string {
	return s.libraryDir
}

// OutputPath returns tempDir/<base name of name>.
func (s *LocalStorage) OutputPath(name string) (string, error) {
	base := cleanBase(name)
	if base == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.tempDir, base), nil
}

// Exists reports whether a file exists at path.
func (s *LocalStorage) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Remove deletes the file at path. A missing file is not an error.
func (s *LocalStorage) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Persist copies the file at path to libraryDir/key and returns the new path.
// An existing library file with the same key is replaced.
func (s *LocalStorage) Persist(ctx context.Context, path, key string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dst, err := s.libraryPath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", fmt.Errorf("create library directory: %w", err)
	}

	src, err := os.Open(path) // #nosec G304 - path is produced by the exporter
	if err != nil {
		return "", fmt.Errorf("open output: %w", err)
	}
	defer func() { _ = src.Close() }()

	// Write next to the destination and rename so readers never see a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".persist_*")
	if err != nil {
		return "", fmt.Errorf("create library file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("copy to library: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close library file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("move into library: %w", err)
	}

	return dst, nil
}

// libraryPath resolves key inside libraryDir, rejecting keys that escape it.
func (s *LocalStorage) libraryPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimLeft(key, "/")))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, key)
	}
	return filepath.Join(s.libraryDir, clean), nil
}

// cleanBase returns the base name of name, or "" when nothing usable remains.
func cleanBase(name string) string {
	base := filepath.Base(filepath.FromSlash(strings.TrimSpace(name)))
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return ""
	}
	return base
}
