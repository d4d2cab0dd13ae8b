// Package storage keeps copies of exported dataset archives in a blob store
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

var ErrNoPublicUrl = errors.New("Storage has no public URLs")
var ErrNotFound = errors.New("Archive not found")

// Blobs is a flat store of named byte blobs, such as a directory or a GCS bucket.
// Names are slash separated.
type Blobs interface {
	Put(ctx context.Context, name string, data []byte) error

	// Open returns ErrNotFound if the blob does not exist. The caller must close the Blob.
	Open(ctx context.Context, name string) (*Blob, error)

	// Delete returns ErrNotFound if the blob does not exist
	Delete(ctx context.Context, name string) error

	// URL returns a public URL for the blob, or ErrNoPublicUrl
	URL(name string) (string, error)
}

// Blob is an open blob
type Blob struct {
	io.ReadCloser
	Size       int64
	ModifiedAt time.Time
}

// Archives names, stores, reads and prunes dataset archives
type Archives struct {
	log   logs.Log
	blobs Blobs
	keep  int

	lock sync.Mutex
	last time.Time // Timestamp of the most recent Save, so that names never repeat
}

// NewArchives wraps a blob store. keep is the number of newest archives that Prune
// retains, or 0 to keep them all.
func NewArchives(log logs.Log, blobs Blobs, keep int) *Archives {
	return &Archives{
		log:   log,
		blobs: blobs,
		keep:  keep,
	}
}

// Name is the blob name of an export of the given dataset folder, created at 'at'
func Name(folder string, at time.Time) string {
	return fmt.Sprintf("exports/%v/%v.zip", folder, at.UTC().Format("20060102T150405.000000000Z"))
}

// Save stores a zip archive of an exported dataset, and returns its blob name
func (a *Archives) Save(ctx context.Context, folder string, zip []byte, at time.Time) (string, error) {
	a.lock.Lock()
	if !at.After(a.last) {
		at = a.last.Add(time.Nanosecond)
	}
	a.last = at
	a.lock.Unlock()

	name := Name(folder, at)
	if err := a.blobs.Put(ctx, name, zip); err != nil {
		return "", fmt.Errorf("Failed to archive %v: %w", name, err)
	}
	a.log.Infof("Archived %v (%v bytes)", name, len(zip))
	return name, nil
}

// Read returns the content of an archive
func (a *Archives) Read(ctx context.Context, name string) ([]byte, error) {
	blob, err := a.blobs.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer blob.Close()
	data, err := io.ReadAll(blob)
	if err != nil {
		return nil, fmt.Errorf("Failed to read archive %v: %w", name, err)
	}
	if blob.Size >= 0 && int64(len(data)) != blob.Size {
		return nil, fmt.Errorf("Archive %v is truncated: read %v of %v bytes", name, len(data), blob.Size)
	}
	return data, nil
}

// URL returns a public URL for the archive, or ErrNoPublicUrl
func (a *Archives) URL(name string) (string, error) {
	return a.blobs.URL(name)
}

// Prune deletes the archives beyond the retention count. names must be ordered newest first.
// It returns the names that no longer exist in the store, including those that were
// already gone. Failures are logged, and the archive is retried on the next Prune.
func (a *Archives) Prune(ctx context.Context, names []string) []string {
	if a.keep <= 0 || len(names) <= a.keep {
		return nil
	}
	gone := []string{}
	for _, name := range names[a.keep:] {
		err := a.blobs.Delete(ctx, name)
		if err != nil && !errors.Is(err, ErrNotFound) {
			a.log.Warnf("Failed to delete expired archive %v: %v", name, err)
			continue
		}
		a.log.Infof("Deleted expired archive %v", name)
		gone = append(gone, name)
	}
	return gone
}
