package zarr

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

const GCSStoreType = "GCSStore"

// GCSStore keeps zarr keys as objects in a cloud storage bucket, below an
// optional object name prefix
type GCSStore struct {
	bucket *storage.BucketHandle
	prefix Path
}

var _ Store = (*GCSStore)(nil)

// NewGCSStore creates a store backed by bucket. The client is owned by the
// caller.
func NewGCSStore(client *storage.Client, bucket, prefix string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs store: bucket name is required")
	}
	p, err := NewPath(prefix)
	if err != nil {
		return nil, err
	}
	return &GCSStore{
		bucket: client.Bucket(bucket),
		prefix: p,
	}, nil
}

func (s *GCSStore) Type() string { return GCSStoreType }

func (s *GCSStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	return r, err
}

func (s *GCSStore) Put(ctx context.Context, key string, val io.Reader) error {
	w := s.object(key).NewWriter(ctx)
	if _, err := io.Copy(w, val); err != nil {
		w.Close()
		return fmt.Errorf("writing %q: %w", key, err)
	}
	return w.Close()
}

func (s *GCSStore) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (s *GCSStore) objectName(key string) string {
	return s.prefix.Join(key).String()
}

func (s *GCSStore) object(key string) *storage.ObjectHandle {
	return s.bucket.Object(s.objectName(key))
}
