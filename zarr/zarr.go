// Package zarr reads and writes chunked, compressed N-dimensional arrays
// following the zarr v2 storage specification
package zarr

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"reflect"
	"unicode/utf8"
)

var (
	// ErrUnsupportedDtype indicates a data type this package cannot encode or decode
	ErrUnsupportedDtype = errors.New("unsupported dtype")
	// ErrUnsupportedCodec indicates a compressor this package cannot apply
	ErrUnsupportedCodec = errors.New("unsupported codec")
	// ErrReadOnly is returned when writing to an array opened with ModeRead
	ErrReadOnly = errors.New("array is read only")
	// ErrExists is returned by ModeWriteFail when an array is already present
	ErrExists = errors.New("already exists")
)

type Array struct {
	path  Path
	store Store
	mode  PersistenceMode
	meta  *ArrayMeta
	fill  interface{}
}

// Create initializes an array at path, writing its ".zarray" metadata.
// Missing metadata fields are defaulted: format 2, "C" order, the dtype's
// default fill value.
func Create(ctx context.Context, store Store, path string, m *ArrayMeta, mode PersistenceMode) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	if !mode.Writable() {
		return nil, fmt.Errorf("creating %q: %w", path, ErrReadOnly)
	}

	meta := *m
	if meta.ZarrFormat == 0 {
		meta.ZarrFormat = ZarrFormat
	}
	if meta.Order == "" {
		meta.Order = "C"
	}
	if meta.FillValue == nil {
		meta.FillValue = DefaultFillValue(meta.Dtype)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("creating %q: %w", path, err)
	}

	key := p.Join(string(MTArray)).String()
	exists, err := store.Has(ctx, key)
	if err != nil {
		return nil, err
	}
	switch mode {
	case ModeWriteFail:
		if exists {
			return nil, fmt.Errorf("creating %q: %w", path, ErrExists)
		}
	case ModeReadWrite:
		if !exists {
			return nil, fmt.Errorf("creating %q: %w", path, ErrNotfound)
		}
	}

	fill, err := fillScalar(meta.Dtype, meta.FillValue)
	if err != nil {
		return nil, err
	}
	if err := putJSON(ctx, store, key, &meta); err != nil {
		return nil, err
	}

	return &Array{
		path:  p,
		store: store,
		mode:  mode,
		meta:  &meta,
		fill:  fill,
	}, nil
}

// Open loads an existing array
func Open(ctx context.Context, store Store, path string, mode PersistenceMode) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}

	meta := &ArrayMeta{}
	if err := getJSON(ctx, store, p.Join(string(MTArray)).String(), meta); err != nil {
		return nil, err
	}
	return openWithMeta(store, p, mode, meta)
}

// OpenWithMeta opens an array whose metadata has already been read, usually
// from consolidated metadata
func OpenWithMeta(store Store, path string, mode PersistenceMode, meta *ArrayMeta) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	return openWithMeta(store, p, mode, meta)
}

func openWithMeta(store Store, p Path, mode PersistenceMode, meta *ArrayMeta) (*Array, error) {
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("opening %q: %w", p, err)
	}
	fill, err := fillScalar(meta.Dtype, meta.FillValue)
	if err != nil {
		return nil, err
	}
	return &Array{
		path:  p,
		store: store,
		mode:  mode,
		meta:  meta,
		fill:  fill,
	}, nil
}

// String describes the array's path, shape, chunking and dtype
func (a *Array) String() string {
	return fmt.Sprintf("<zarr.Array %q shape=%v chunks=%v dtype=%s>", a.Path(), a.meta.Shape, a.meta.Chunks, a.meta.Dtype)
}

func (a *Array) Path() string {
	return a.path.String()
}

// Meta returns the array metadata. Callers must not modify it.
func (a *Array) Meta() *ArrayMeta {
	return a.meta
}

// Size is the total number of items in the array
func (a *Array) Size() int {
	n := 1
	for _, s := range a.meta.Shape {
		n *= s
	}
	return n
}

// Attrs reads the ".zattrs" stored alongside the array. Arrays without
// attributes return an empty map.
func (a *Array) Attrs(ctx context.Context) (Attributes, error) {
	return ReadAttrs(ctx, a.store, a.path.String())
}

// SetAttrs replaces the ".zattrs" stored alongside the array
func (a *Array) SetAttrs(ctx context.Context, attrs Attributes) error {
	if !a.mode.Writable() {
		return ErrReadOnly
	}
	return putJSON(ctx, a.store, a.path.Join(string(MTAttributes)).String(), attrs)
}

// Write stores values, a flat C-ordered slice of the array's Go type
// holding exactly Size() items, chunk by chunk
func (a *Array) Write(ctx context.Context, values interface{}) error {
	if !a.mode.Writable() {
		return ErrReadOnly
	}
	if n := sliceLen(values); n != a.Size() {
		return fmt.Errorf("writing %q: got %d values for %d items", a.Path(), n, a.Size())
	}
	if _, err := a.meta.Dtype.NewSlice(0); err != nil {
		return err
	}

	src := reflect.ValueOf(values)
	chunkLen := a.chunkLen()
	for _, coords := range chunkGrid(a.meta) {
		if err := ctx.Err(); err != nil {
			return err
		}
		buf, err := a.filledChunk(chunkLen)
		if err != nil {
			return err
		}
		dst := reflect.ValueOf(buf)
		if dst.Type() != src.Type() {
			return fmt.Errorf("writing %q: %w: %T for dtype %s", a.Path(), ErrUnsupportedDtype, values, a.meta.Dtype)
		}
		for _, r := range projectChunk(a.meta.Shape, a.meta.Chunks, coords).Runs {
			reflect.Copy(dst.Slice(r.ChunkOffset, r.ChunkOffset+r.Length), src.Slice(r.OutOffset, r.OutOffset+r.Length))
		}

		raw, err := encodeValues(a.meta.Dtype, buf)
		if err != nil {
			return err
		}
		enc, err := a.meta.Compressor.Encode(raw)
		if err != nil {
			return err
		}
		if err := a.store.Put(ctx, a.chunkPath(coords).String(), bytes.NewReader(enc)); err != nil {
			return fmt.Errorf("writing chunk %v of %q: %w", coords, a.Path(), err)
		}
	}
	return nil
}

// Read loads the whole array into a flat C-ordered slice. Chunks missing from
// the store read as the fill value.
func (a *Array) Read(ctx context.Context) (interface{}, error) {
	out, err := a.filledChunk(a.Size())
	if err != nil {
		return nil, err
	}
	dst := reflect.ValueOf(out)
	chunkLen := a.chunkLen()

	for _, coords := range chunkGrid(a.meta) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := a.readChunk(ctx, coords, chunkLen)
		if errors.Is(err, ErrNotfound) {
			continue
		} else if err != nil {
			return nil, err
		}
		src := reflect.ValueOf(chunk)
		for _, r := range projectChunk(a.meta.Shape, a.meta.Chunks, coords).Runs {
			reflect.Copy(dst.Slice(r.OutOffset, r.OutOffset+r.Length), src.Slice(r.ChunkOffset, r.ChunkOffset+r.Length))
		}
	}
	return out, nil
}

func (a *Array) readChunk(ctx context.Context, coords []int, n int) (interface{}, error) {
	f, err := a.store.Get(ctx, a.chunkPath(coords).String())
	if err != nil {
		return nil, err
	}
	rc, err := a.meta.Compressor.Decompressor(f)
	if err != nil {
		return nil, fmt.Errorf("decoding chunk %v of %q: %w", coords, a.Path(), err)
	}
	defer rc.Close()
	raw, err := ioutil.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading chunk %v of %q: %w", coords, a.Path(), err)
	}
	return decodeValues(a.meta.Dtype, raw, n)
}

func (a *Array) chunkLen() int {
	n := 1
	for _, c := range a.meta.Chunks {
		n *= c
	}
	return n
}

// filledChunk allocates n items initialized to the fill value
func (a *Array) filledChunk(n int) (interface{}, error) {
	buf, err := a.meta.Dtype.NewSlice(n)
	if err != nil {
		return nil, err
	}
	v := reflect.ValueOf(buf)
	fill := reflect.ValueOf(a.fill)
	if !fill.IsValid() || fill.IsZero() {
		return buf, nil
	}
	if fill.Type() != v.Type().Elem() {
		fill = fill.Convert(v.Type().Elem())
	}
	for i := 0; i < n; i++ {
		v.Index(i).Set(fill)
	}
	return buf, nil
}

func (a *Array) chunkPath(coords []int) Path {
	return a.path.Join(chunkKey(coords, a.meta.DimensionSeparator))
}

func encodeValues(dt Dtype, values interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	if strs, ok := values.([]string); ok {
		width := dt.ByteSize
		cell := make([]byte, 4*width)
		for i, s := range strs {
			for j := range cell {
				cell[j] = 0
			}
			k := 0
			for _, r := range s {
				if k == width {
					return nil, fmt.Errorf("string %d %q exceeds dtype width %d", i, s, width)
				}
				dt.binaryOrder().PutUint32(cell[4*k:], uint32(r))
				k++
			}
			buf.Write(cell)
		}
		return buf.Bytes(), nil
	}
	if err := binary.Write(buf, dt.binaryOrder(), values); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", dt, err)
	}
	return buf.Bytes(), nil
}

func decodeValues(dt Dtype, raw []byte, n int) (interface{}, error) {
	if len(raw) != n*dt.ItemSize() {
		return nil, fmt.Errorf("decoded chunk has %d bytes, want %d", len(raw), n*dt.ItemSize())
	}
	out, err := dt.NewSlice(n)
	if err != nil {
		return nil, err
	}
	if strs, ok := out.([]string); ok {
		width := dt.ByteSize
		runes := make([]byte, 0, width)
		for i := range strs {
			runes = runes[:0]
			cell := raw[4*width*i : 4*width*(i+1)]
			for k := 0; k < width; k++ {
				r := rune(dt.binaryOrder().Uint32(cell[4*k:]))
				if r == 0 {
					break
				}
				runes = utf8.AppendRune(runes, r)
			}
			strs[i] = string(runes)
		}
		return strs, nil
	}
	if err := binary.Read(bytes.NewReader(raw), dt.binaryOrder(), out); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", dt, err)
	}
	return out, nil
}

type PersistenceMode string

const (
	// Persistence mode:
	// 'r' means read only (must exist);
	ModeRead PersistenceMode = "r"
	// 'r+' means read/write (must exist)
	ModeReadWrite PersistenceMode = "r+"
	// 'a' means read/write (create if doesn't exist)
	ModeReadWriteCreate PersistenceMode = "a"
	// 'w' means create (overwrite if exists)
	ModeWrite PersistenceMode = "w"
	// 'w-' means create (fail if exists).
	ModeWriteFail PersistenceMode = "w-"
)

// Writable reports whether the mode permits modifying the store
func (m PersistenceMode) Writable() bool {
	return m != ModeRead
}

// CreateGroup writes group metadata and attributes at path
func CreateGroup(ctx context.Context, store Store, path string, attrs Attributes) error {
	p, err := NewPath(path)
	if err != nil {
		return err
	}
	if err := putJSON(ctx, store, p.Join(string(MTGroup)).String(), Group{ZarrFormat: ZarrFormat}); err != nil {
		return err
	}
	if attrs == nil {
		attrs = Attributes{}
	}
	return putJSON(ctx, store, p.Join(string(MTAttributes)).String(), attrs)
}

// ReadAttrs loads the ".zattrs" document at path. A missing document yields
// empty attributes.
func ReadAttrs(ctx context.Context, store Store, path string) (Attributes, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	attrs := Attributes{}
	err = getJSON(ctx, store, p.Join(string(MTAttributes)).String(), &attrs)
	if errors.Is(err, ErrNotfound) {
		return Attributes{}, nil
	}
	return attrs, err
}

func putJSON(ctx context.Context, store Store, key string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	return store.Put(ctx, key, bytes.NewReader(data))
}

func getJSON(ctx context.Context, store Store, key string, v interface{}) error {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("decoding %q: %w", key, err)
	}
	return nil
}
