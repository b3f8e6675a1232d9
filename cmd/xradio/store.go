package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/qri-io/xradio/internal/config"
	"github.com/qri-io/xradio/zarr"
)

// openStore opens a local directory or gs://bucket/prefix location. The
// returned func releases the cloud storage client, if any.
func openStore(ctx context.Context, location string) (zarr.Store, func() error, error) {
	noop := func() error { return nil }
	bucket, prefix, ok := config.GCSLocation(location)
	if !ok {
		local, err := zarr.NewLocalStore(location)
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s: %w", location, err)
		}
		return local, noop, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("creating storage client: %w", err)
	}
	gcs, err := zarr.NewGCSStore(client, bucket, prefix)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return gcs, client.Close, nil
}

// location picks the positional argument at i, falling back to the
// configured store
func (a *app) location(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return a.cfg.Store.Location
}
