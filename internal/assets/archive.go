package assets

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// Entry maps a store file to its name inside an archive.
type Entry struct {
	Source string
	Name   string
}

// CheckAll verifies every entry exists before anything is streamed.
func CheckAll(ctx context.Context, store Store, entries []Entry) error {
	for _, e := range entries {
		if _, err := store.Stat(ctx, e.Source); err != nil {
			return fmt.Errorf("asset %s: %w", e.Source, err)
		}
	}
	return nil
}

// WriteZip streams a deflate archive of entries to w.
func WriteZip(ctx context.Context, w io.Writer, store Store, entries []Entry) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addEntry(ctx, zw, store, e); err != nil {
			return err
		}
	}
	return zw.Close()
}

func addEntry(ctx context.Context, zw *zip.Writer, store Store, e Entry) error {
	src, err := store.Open(ctx, e.Source)
	if err != nil {
		return fmt.Errorf("open %s: %w", e.Source, err)
	}
	defer src.Close()

	dst, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("create entry %s: %w", e.Name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write entry %s: %w", e.Name, err)
	}
	return nil
}
