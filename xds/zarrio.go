package xds

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qri-io/xradio/internal/logging"
	"github.com/qri-io/xradio/zarr"
)

const (
	// dimsAttr is the xarray convention for naming array dimensions
	dimsAttr = "_ARRAY_DIMENSIONS"
	// coordsAttr lists the coordinate variables of a group
	coordsAttr = "coordinates"

	defaultConcurrency = 4
)

// WriteOptions configure WriteTree
type WriteOptions struct {
	// Compressor applied to every chunk, nil for raw chunks
	Compressor *zarr.CompressionMeta
	// Chunks caps the chunk length per dimension name. Dimensions not listed
	// are stored in a single chunk.
	Chunks map[string]int
	// Concurrency bounds the number of arrays written at once
	Concurrency int
	// Mode is the persistence mode arrays are created with, default zarr.ModeWrite
	Mode zarr.PersistenceMode
}

// ReadOptions configure OpenTree
type ReadOptions struct {
	// Concurrency bounds the number of arrays read at once
	Concurrency int
}

func groupPath(root zarr.Path, t *Tree) zarr.Path {
	var parts []string
	for n := t; n.parent != nil; n = n.parent {
		parts = append([]string{n.Name}, parts...)
	}
	return root.Join(parts...)
}

// WriteTree stores every node of t as a zarr group below root, every variable
// as an array, and consolidates the metadata at root
func WriteTree(ctx context.Context, store zarr.Store, root string, t *Tree, opts WriteOptions) error {
	log := logging.From(ctx)
	mode := opts.Mode
	if mode == "" {
		mode = zarr.ModeWrite
	}
	rp, err := zarr.NewPath(root)
	if err != nil {
		return err
	}

	type arrayJob struct {
		path string
		v    *Variable
	}
	var (
		jobs []arrayJob
		keys []string
	)
	rel := func(p zarr.Path, mt zarr.MetaType) string {
		return zarr.Path(p[len(rp):]).Join(string(mt)).String()
	}

	err = t.Walk(func(n *Tree) error {
		gp := groupPath(rp, n)
		attrs := zarr.Attributes{}
		for k, v := range n.Dataset.Attrs {
			attrs[k] = v
		}
		if coords := n.Dataset.CoordNames(); len(coords) > 0 {
			attrs[coordsAttr] = strings.Join(coords, " ")
		}
		if err := zarr.CreateGroup(ctx, store, gp.String(), attrs); err != nil {
			return fmt.Errorf("writing group %s: %w", n.Path(), err)
		}
		keys = append(keys, rel(gp, zarr.MTGroup), rel(gp, zarr.MTAttributes))

		for _, name := range append(n.Dataset.CoordNames(), n.Dataset.VarNames()...) {
			if _, isChild := n.Child(name); isChild {
				return fmt.Errorf("node %s: variable %q collides with a child node", n.Path(), name)
			}
			v, _ := n.Dataset.Var(name)
			ap := gp.Join(name)
			jobs = append(jobs, arrayJob{path: ap.String(), v: v})
			keys = append(keys, rel(ap, zarr.MTArray), rel(ap, zarr.MTAttributes))
		}
		return nil
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit(opts.Concurrency))
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			return writeVariable(gctx, store, j.path, j.v, opts.Compressor, opts.Chunks, mode)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if _, err := zarr.Consolidate(ctx, store, rp.String(), keys); err != nil {
		return fmt.Errorf("consolidating metadata: %w", err)
	}
	log.Debug("wrote tree", zap.String("root", rp.String()), zap.Int("arrays", len(jobs)))
	return nil
}

func limit(n int) int {
	if n < 1 {
		return defaultConcurrency
	}
	return n
}

func writeVariable(ctx context.Context, store zarr.Store, path string, v *Variable, comp *zarr.CompressionMeta, chunkCaps map[string]int, mode zarr.PersistenceMode) error {
	dt, err := zarr.DtypeOf(v.Values)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	chunks := make([]int, len(v.Shape))
	for i, s := range v.Shape {
		chunks[i] = s
		if c, ok := chunkCaps[v.Dims[i]]; ok && c > 0 && c < s {
			chunks[i] = c
		}
		if chunks[i] < 1 {
			chunks[i] = 1
		}
	}

	arr, err := zarr.Create(ctx, store, path, &zarr.ArrayMeta{
		Shape:      v.Shape,
		Chunks:     chunks,
		Dtype:      dt,
		Compressor: comp,
	}, mode)
	if err != nil {
		return err
	}
	if err := arr.Write(ctx, v.Values); err != nil {
		return err
	}
	logging.From(ctx).Debug("wrote array", zap.Stringer("array", arr))

	attrs := zarr.Attributes{}
	for k, a := range v.Attrs {
		attrs[k] = a
	}
	dims := v.Dims
	if dims == nil {
		dims = []string{}
	}
	attrs[dimsAttr] = dims
	return arr.SetAttrs(ctx, attrs)
}

// OpenTree rebuilds a tree from the consolidated metadata at root, loading
// all array values
func OpenTree(ctx context.Context, store zarr.Store, root string, opts ReadOptions) (*Tree, error) {
	log := logging.From(ctx)
	rp, err := zarr.NewPath(root)
	if err != nil {
		return nil, err
	}
	cm, err := zarr.ReadConsolidated(ctx, store, rp.String())
	if err != nil {
		return nil, fmt.Errorf("opening tree at %q: %w", root, err)
	}

	nodes := map[string]*Tree{}
	coordNames := map[string]map[string]bool{}
	groups := cm.Groups()
	sort.Strings(groups)
	for _, g := range groups {
		gp, _ := zarr.NewPath(g)
		attrs := cm.Attributes(g)
		ds := New()
		coordNames[g] = map[string]bool{}
		for k, v := range attrs {
			if k == coordsAttr {
				if s, ok := v.(string); ok {
					for _, c := range strings.Fields(s) {
						coordNames[g][c] = true
					}
				}
				continue
			}
			ds.Attrs[k] = v
		}
		node := NewTree(gp.Base(), ds)
		if len(gp) > 0 {
			parent, ok := nodes[gp.Parent().String()]
			if !ok {
				return nil, fmt.Errorf("group %q has no parent group", g)
			}
			if err := parent.AddChild(node); err != nil {
				return nil, err
			}
		}
		nodes[gp.String()] = node
	}
	rootNode, ok := nodes[""]
	if !ok {
		return nil, fmt.Errorf("opening tree at %q: no root group", root)
	}

	arrays := cm.Arrays()
	vars := make([]*Variable, len(arrays))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit(opts.Concurrency))
	for i, a := range arrays {
		i, a := i, a
		g.Go(func() error {
			v, err := readVariable(gctx, store, rp.Join(a).String(), cm.Array(a), cm.Attributes(a))
			if err != nil {
				return fmt.Errorf("reading %q: %w", a, err)
			}
			vars[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, a := range arrays {
		ap, _ := zarr.NewPath(a)
		gkey := ap.Parent().String()
		node, ok := nodes[gkey]
		if !ok {
			return nil, fmt.Errorf("array %q has no parent group", a)
		}
		name := ap.Base()
		v := vars[i]
		isCoord := coordNames[gkey][name] || (len(v.Dims) == 1 && v.Dims[0] == name)
		if isCoord {
			err = node.Dataset.SetCoord(name, v)
		} else {
			err = node.Dataset.SetVar(name, v)
		}
		if err != nil {
			return nil, fmt.Errorf("array %q: %w", a, err)
		}
	}

	log.Debug("opened tree", zap.String("root", rp.String()), zap.Int("groups", len(groups)), zap.Int("arrays", len(arrays)))
	return rootNode, nil
}

func readVariable(ctx context.Context, store zarr.Store, path string, meta *zarr.ArrayMeta, attrs zarr.Attributes) (*Variable, error) {
	if meta == nil {
		return nil, fmt.Errorf("missing array metadata")
	}
	arr, err := zarr.OpenWithMeta(store, path, zarr.ModeRead, meta)
	if err != nil {
		return nil, err
	}
	values, err := arr.Read(ctx)
	if err != nil {
		return nil, err
	}
	values = widen(values)

	var dims []string
	va := map[string]interface{}{}
	for k, a := range attrs {
		if k == dimsAttr {
			list, _ := a.([]interface{})
			for _, d := range list {
				s, ok := d.(string)
				if !ok {
					return nil, fmt.Errorf("invalid %s entry %v", dimsAttr, d)
				}
				dims = append(dims, s)
			}
			continue
		}
		va[k] = a
	}
	if dims == nil && len(meta.Shape) > 0 {
		for i := range meta.Shape {
			dims = append(dims, fmt.Sprintf("dim_%d", i))
		}
	}
	return NewVariable(dims, meta.Shape, values, va)
}

// widen converts integer types xds does not model to int64
func widen(values interface{}) interface{} {
	switch x := values.(type) {
	case []int8:
		out := make([]int64, len(x))
		for i, v := range x {
			out[i] = int64(v)
		}
		return out
	case []int16:
		out := make([]int64, len(x))
		for i, v := range x {
			out[i] = int64(v)
		}
		return out
	case []uint8:
		out := make([]int64, len(x))
		for i, v := range x {
			out[i] = int64(v)
		}
		return out
	case []uint16:
		out := make([]int64, len(x))
		for i, v := range x {
			out[i] = int64(v)
		}
		return out
	case []uint32:
		out := make([]int64, len(x))
		for i, v := range x {
			out[i] = int64(v)
		}
		return out
	case []uint64:
		out := make([]int64, len(x))
		for i, v := range x {
			out[i] = int64(v)
		}
		return out
	}
	return values
}
