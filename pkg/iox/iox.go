// Package iox has file helpers that the standard library lacks
package iox

import (
	"io"
	"os"
	"path/filepath"
)

// WriteFileAtomic streams src into a temporary file next to dst, and renames it to dst
// once the copy succeeds. A failed copy leaves dst untouched.
func WriteFileAtomic(dst string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
