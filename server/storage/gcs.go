package storage

import (
	"context"
	"errors"
	"fmt"

	gcs "cloud.google.com/go/storage"
)

// Bucket keeps blobs as objects in a Google Cloud Storage bucket
type Bucket struct {
	name     string
	handle   *gcs.BucketHandle
	isPublic bool
}

// NewBucket connects with the ambient application default credentials
func NewBucket(ctx context.Context, name string, isPublic bool) (*Bucket, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("Failed to connect to GCS bucket %v: %w", name, err)
	}
	return &Bucket{
		name:     name,
		handle:   client.Bucket(name),
		isPublic: isPublic,
	}, nil
}

func (b *Bucket) Put(ctx context.Context, name string, data []byte) error {
	w := b.handle.Object(name).NewWriter(ctx)
	w.ContentType = "application/zip"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	// The object only exists once Close succeeds
	return w.Close()
}

func (b *Bucket) Open(ctx context.Context, name string) (*Blob, error) {
	r, err := b.handle.Object(name).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &Blob{
		ReadCloser: r,
		Size:       r.Attrs.Size,
		ModifiedAt: r.Attrs.LastModified,
	}, nil
}

func (b *Bucket) Delete(ctx context.Context, name string) error {
	err := b.handle.Object(name).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return ErrNotFound
	}
	return err
}

func (b *Bucket) URL(name string) (string, error) {
	if !b.isPublic {
		return "", ErrNoPublicUrl
	}
	return "https://storage.googleapis.com/" + b.name + "/" + name, nil
}
