package assets

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

// Local serves assets from a directory on disk. Lookups cannot escape it.
type Local struct {
	root *os.Root
}

// NewLocal opens dir as an asset store.
func NewLocal(dir string) (*Local, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open asset dir %q: %w", dir, err)
	}
	return &Local{root: root}, nil
}

// Close releases the directory handle.
func (l *Local) Close() error { return l.root.Close() }

func (l *Local) Stat(_ context.Context, name string) (int64, error) {
	fi, err := l.root.Stat(clean(name))
	if err != nil {
		return 0, err
	}
	if fi.IsDir() {
		return 0, fmt.Errorf("%s: is a directory: %w", name, ErrNotExist)
	}
	return fi.Size(), nil
}

func (l *Local) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return l.root.Open(clean(name))
}

func (l *Local) List(ctx context.Context, dir string) ([]string, error) {
	dir = clean(dir)
	var out []string
	err := fs.WalkDir(l.root.FS(), dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.Type().IsRegular() {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty directory: %w", dir, ErrNotExist)
	}
	sort.Strings(out)
	return out, nil
}

func clean(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}
