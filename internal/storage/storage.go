// Package storage provides the filesystem used for export destinations and
// the media library where finished collages are kept.
// It defines the Storage interface (port) for hexagonal architecture and
// implementations for local disk and S3 storage.
package storage

import (
	"context"
	"errors"
)

// ErrInvalidName is returned when an output name has no usable base name.
var ErrInvalidName = errors.New("storage: invalid output name")

// Storage defines the interface for export destinations and media library persistence.
type Storage interface {
	// OutputPath returns the destination path for an output file name.
	// Only the base name of name is used.
	OutputPath(name string) (string, error)

	// Exists reports whether a file exists at path.
	Exists(path string) (bool, error)

	// Remove deletes the file at path. A missing file is not an error.
	Remove(path string) error

	// Persist copies the file at path into the media library under key and
	// returns its location (a local path or an object URL).
	Persist(ctx context.Context, path, key string) (location string, err error)
}
