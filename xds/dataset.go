// Package xds holds labelled N-d datasets and trees of datasets, the in
// memory model for visibility and image data, and persists them to zarr
package xds

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
)

var (
	// ErrUnsupportedType is returned for variable values of an unknown Go type
	ErrUnsupportedType = errors.New("unsupported value type")
	// ErrKeyNotFound is returned when a label selection matches nothing
	ErrKeyNotFound = errors.New("label not found")
	// ErrDimMismatch is returned when a variable disagrees with a dataset's
	// dimension sizes
	ErrDimMismatch = errors.New("dimension size mismatch")
	// ErrConflict is returned when datasets being combined disagree on a
	// variable they share
	ErrConflict = errors.New("conflicting variable")
)

// Dataset is a set of coordinate and data variables sharing dimensions
type Dataset struct {
	Coords   map[string]*Variable
	DataVars map[string]*Variable
	Attrs    map[string]interface{}
}

// New creates an empty dataset
func New() *Dataset {
	return &Dataset{
		Coords:   map[string]*Variable{},
		DataVars: map[string]*Variable{},
		Attrs:    map[string]interface{}{},
	}
}

// SetCoord adds or replaces a coordinate variable
func (ds *Dataset) SetCoord(name string, v *Variable) error {
	if err := ds.checkDims(name, v); err != nil {
		return err
	}
	delete(ds.DataVars, name)
	ds.Coords[name] = v
	return nil
}

// SetVar adds or replaces a data variable
func (ds *Dataset) SetVar(name string, v *Variable) error {
	if err := ds.checkDims(name, v); err != nil {
		return err
	}
	delete(ds.Coords, name)
	ds.DataVars[name] = v
	return nil
}

func (ds *Dataset) checkDims(name string, v *Variable) error {
	dims := ds.Dims()
	for i, d := range v.Dims {
		if n, ok := dims[d]; ok && n != v.Shape[i] {
			if existing, ok := ds.Var(name); ok && len(existing.Dims) == 1 && existing.Dims[0] == d {
				// replacing the only variable defining d is allowed
				if ds.dimUsers(d) == 1 {
					continue
				}
			}
			return fmt.Errorf("%w: %q has %s=%d, dataset has %d", ErrDimMismatch, name, d, v.Shape[i], n)
		}
	}
	return nil
}

func (ds *Dataset) dimUsers(dim string) int {
	n := 0
	for _, v := range ds.all() {
		if v.Axis(dim) >= 0 {
			n++
		}
	}
	return n
}

// Var looks a variable up among coords then data vars
func (ds *Dataset) Var(name string) (*Variable, bool) {
	if v, ok := ds.Coords[name]; ok {
		return v, true
	}
	v, ok := ds.DataVars[name]
	return v, ok
}

// IsCoord reports whether name is a coordinate
func (ds *Dataset) IsCoord(name string) bool {
	_, ok := ds.Coords[name]
	return ok
}

func (ds *Dataset) all() map[string]*Variable {
	m := make(map[string]*Variable, len(ds.Coords)+len(ds.DataVars))
	for k, v := range ds.DataVars {
		m[k] = v
	}
	for k, v := range ds.Coords {
		m[k] = v
	}
	return m
}

// Dims maps every dimension name to its size
func (ds *Dataset) Dims() map[string]int {
	dims := map[string]int{}
	for _, v := range ds.all() {
		for i, d := range v.Dims {
			dims[d] = v.Shape[i]
		}
	}
	return dims
}

// HasDim reports whether any variable uses dim
func (ds *Dataset) HasDim(dim string) bool {
	_, ok := ds.Dims()[dim]
	return ok
}

// CoordNames lists coordinate names in lexical order
func (ds *Dataset) CoordNames() []string {
	return sortedKeys(ds.Coords)
}

// VarNames lists data variable names in lexical order
func (ds *Dataset) VarNames() []string {
	return sortedKeys(ds.DataVars)
}

func sortedKeys(m map[string]*Variable) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Copy returns a dataset with fresh maps sharing variables with ds
func (ds *Dataset) Copy() *Dataset {
	out := New()
	for k, v := range ds.Coords {
		out.Coords[k] = v
	}
	for k, v := range ds.DataVars {
		out.DataVars[k] = v
	}
	for k, v := range ds.Attrs {
		out.Attrs[k] = v
	}
	return out
}

// DropVars returns a copy of ds without the named variables. Unknown names
// are ignored.
func (ds *Dataset) DropVars(names ...string) *Dataset {
	out := ds.Copy()
	for _, n := range names {
		delete(out.Coords, n)
		delete(out.DataVars, n)
	}
	return out
}

// Index is a positional selection along one dimension
type Index struct {
	positions []int
	scalar    bool
}

// At selects a single position, dropping the dimension
func At(i int) Index { return Index{positions: []int{i}, scalar: true} }

// Take selects a list of positions, keeping the dimension
func Take(idx ...int) Index { return Index{positions: idx} }

// Isel selects by position
func (ds *Dataset) Isel(indexers map[string]Index) (*Dataset, error) {
	dims := ds.Dims()
	for dim := range indexers {
		if _, ok := dims[dim]; !ok {
			return nil, fmt.Errorf("dimension %q does not exist", dim)
		}
	}

	sel := func(v *Variable) (*Variable, error) {
		var err error
		for _, dim := range sortedIndexDims(indexers) {
			idx := indexers[dim]
			if v.Axis(dim) < 0 {
				continue
			}
			if idx.scalar {
				v, err = v.At(dim, idx.positions[0])
			} else {
				v, err = v.Take(dim, idx.positions)
			}
			if err != nil {
				return nil, err
			}
		}
		return v, nil
	}

	out := New()
	for k, a := range ds.Attrs {
		out.Attrs[k] = a
	}
	for name, v := range ds.Coords {
		sv, err := sel(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out.Coords[name] = sv
	}
	for name, v := range ds.DataVars {
		sv, err := sel(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out.DataVars[name] = sv
	}
	return out, nil
}

func sortedIndexDims(m map[string]Index) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SelOptions configure label based selection
type SelOptions struct {
	// Method is "" for exact matches or "nearest"
	Method string
	// Tolerance bounds the distance of nearest matches, 0 for unbounded
	Tolerance float64
}

// Sel selects by coordinate label. Indexer values are a scalar label, which
// drops the dimension, or a slice of labels.
func (ds *Dataset) Sel(indexers map[string]interface{}, opts SelOptions) (*Dataset, error) {
	switch opts.Method {
	case "", "nearest":
	default:
		return nil, fmt.Errorf("unknown selection method %q", opts.Method)
	}

	isel := map[string]Index{}
	for dim, label := range indexers {
		coord, ok := ds.Coords[dim]
		if !ok || len(coord.Dims) != 1 || coord.Dims[0] != dim {
			return nil, fmt.Errorf("no index coordinate for dimension %q", dim)
		}

		labels, scalar := labelList(label)
		positions := make([]int, 0, len(labels))
		for _, l := range labels {
			i, err := locate(coord, l, opts)
			if err != nil {
				return nil, fmt.Errorf("%s=%v: %w", dim, l, err)
			}
			positions = append(positions, i)
		}
		if scalar {
			isel[dim] = At(positions[0])
		} else {
			isel[dim] = Take(positions...)
		}
	}
	return ds.Isel(isel)
}

func labelList(label interface{}) ([]interface{}, bool) {
	rv := reflect.ValueOf(label)
	if rv.Kind() != reflect.Slice {
		return []interface{}{label}, true
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, false
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}

func locate(coord *Variable, label interface{}, opts SelOptions) (int, error) {
	if nums, err := coord.Float64s(); err == nil {
		target, ok := toFloat(label)
		if !ok {
			return 0, fmt.Errorf("%w: %v is not numeric", ErrKeyNotFound, label)
		}
		best, bestDist := -1, math.Inf(1)
		for i, n := range nums {
			d := math.Abs(n - target)
			if d == 0 {
				return i, nil
			}
			if d < bestDist {
				best, bestDist = i, d
			}
		}
		if opts.Method == "nearest" && best >= 0 && (opts.Tolerance == 0 || bestDist <= opts.Tolerance) {
			return best, nil
		}
		return 0, ErrKeyNotFound
	}

	want := fmt.Sprint(label)
	for i, l := range coord.Labels() {
		if l == want {
			return i, nil
		}
	}
	return 0, ErrKeyNotFound
}

// Concat joins datasets along dim. Variables without dim must be equal in
// every dataset and are kept once. Attributes come from the first dataset.
func Concat(dim string, dss ...*Dataset) (*Dataset, error) {
	if len(dss) == 0 {
		return nil, fmt.Errorf("nothing to concatenate")
	}
	first := dss[0]
	out := New()
	for k, a := range first.Attrs {
		out.Attrs[k] = a
	}

	join := func(name string, get func(*Dataset) (*Variable, bool)) (*Variable, error) {
		vars := make([]*Variable, 0, len(dss))
		for i, ds := range dss {
			dv, ok := get(ds)
			if !ok {
				return nil, fmt.Errorf("dataset %d has no variable %q", i, name)
			}
			vars = append(vars, dv)
		}
		v := vars[0]
		if v.Axis(dim) >= 0 {
			return concatValues(dim, vars)
		}
		for i, dv := range vars[1:] {
			if !v.Equal(dv) {
				return nil, fmt.Errorf("%w: %q differs between datasets 0 and %d", ErrConflict, name, i+1)
			}
		}
		return v, nil
	}

	for name := range first.Coords {
		n := name
		v, err := join(n, func(ds *Dataset) (*Variable, bool) { v, ok := ds.Coords[n]; return v, ok })
		if err != nil {
			return nil, err
		}
		out.Coords[n] = v
	}
	for name := range first.DataVars {
		n := name
		v, err := join(n, func(ds *Dataset) (*Variable, bool) { v, ok := ds.DataVars[n]; return v, ok })
		if err != nil {
			return nil, err
		}
		out.DataVars[n] = v
	}
	return out, nil
}

// DropDuplicates keeps the first occurrence of each label of the dim
// coordinate
func (ds *Dataset) DropDuplicates(dim string) (*Dataset, error) {
	coord, ok := ds.Coords[dim]
	if !ok {
		return nil, fmt.Errorf("no index coordinate for dimension %q", dim)
	}
	seen := map[string]bool{}
	var keep []int
	for i, l := range coord.Labels() {
		if !seen[l] {
			seen[l] = true
			keep = append(keep, i)
		}
	}
	return ds.Isel(map[string]Index{dim: Take(keep...)})
}

// Unique returns the sorted distinct values of a variable as a vector along
// a dimension named after it, keeping the variable's element type
func (ds *Dataset) Unique(name string) (*Variable, error) {
	v, ok := ds.Var(name)
	if !ok {
		return nil, fmt.Errorf("no variable %q", name)
	}
	return Vector(name, uniqueValues(v)), nil
}

// UniqueLabels is Unique rendered as labels
func (ds *Dataset) UniqueLabels(name string) ([]string, error) {
	u, err := ds.Unique(name)
	if err != nil {
		return nil, err
	}
	return u.Labels(), nil
}

// DecodeAttr converts attribute key into out via a JSON round trip, so typed
// in-memory attributes and generic attributes read back from storage decode
// the same way
func DecodeAttr(attrs map[string]interface{}, key string, out interface{}) error {
	v, ok := attrs[key]
	if !ok {
		return fmt.Errorf("missing attribute %q", key)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("attribute %q: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("attribute %q: %w", key, err)
	}
	return nil
}
