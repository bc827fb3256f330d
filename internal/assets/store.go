// Package assets reads downloadable files from a read-only store and
// packages them for delivery.
package assets

import (
	"context"
	"errors"
	"io"
	"io/fs"
)

// ErrNotExist is returned for missing files and empty directories.
var ErrNotExist = fs.ErrNotExist

// Store is a read-only tree of named files. Names use forward slashes and
// are relative to the store root.
type Store interface {
	// Stat returns the file size.
	Stat(ctx context.Context, name string) (int64, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// List returns every file below dir, sorted, as names relative to the root.
	List(ctx context.Context, dir string) ([]string, error)
}

// IsNotExist reports whether err means the asset is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}
