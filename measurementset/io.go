package measurementset

import (
	"context"
	"fmt"

	"github.com/qri-io/xradio/xds"
	"github.com/qri-io/xradio/zarr"
)

// Open loads the processing set stored at root
func Open(ctx context.Context, store zarr.Store, root string, opts xds.ReadOptions) (*xds.Tree, error) {
	t, err := xds.OpenTree(ctx, store, root, opts)
	if err != nil {
		return nil, err
	}
	if !IsProcessingSet(t) {
		return nil, fmt.Errorf("%w: %s/%s is not a processing set node.", ErrInvalidAccessorLocation, store.Type(), root)
	}
	return t, nil
}

// Write stores a processing set at root
func Write(ctx context.Context, store zarr.Store, root string, ps *xds.Tree, opts xds.WriteOptions) error {
	if err := NewProcessingSet(ps).check(); err != nil {
		return err
	}
	return xds.WriteTree(ctx, store, root, ps, opts)
}
