package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/yololab/pkg/iox"
)

// Directory keeps blobs as files under Root. Blob names map to relative paths.
type Directory struct {
	Root string
}

func NewDirectory(root string) (*Directory, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("Failed to create archive directory %v (relative path %v): %w", absRoot, root, err)
	}
	return &Directory{Root: absRoot}, nil
}

// path rejects names that could escape Root
func (d *Directory) path(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "..") || strings.Contains(name, "\\") {
		return "", fmt.Errorf("Invalid archive name '%v'", name)
	}
	return filepath.Join(d.Root, filepath.FromSlash(name)), nil
}

// Put writes through a temporary file, so a reader never sees a partial archive
func (d *Directory) Put(ctx context.Context, name string, data []byte) error {
	full, err := d.path(name)
	if err != nil {
		return err
	}
	return iox.WriteFileAtomic(full, bytes.NewReader(data))
}

func (d *Directory) Open(ctx context.Context, name string) (*Blob, error) {
	full, err := d.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Blob{
		ReadCloser: f,
		Size:       st.Size(),
		ModifiedAt: st.ModTime(),
	}, nil
}

func (d *Directory) Delete(ctx context.Context, name string) error {
	full, err := d.path(name)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func (d *Directory) URL(name string) (string, error) {
	return "", ErrNoPublicUrl
}
