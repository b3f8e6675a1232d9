package zarr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

type MetaType string

const (
	// MTAttributes stores userland metadata keyed by array name
	MTAttributes MetaType = ".zattrs"
	// MTArray is the key for storing metadata on an array store
	MTArray MetaType = ".zarray"
	// MTGroup is the key for storing group definitions on an array store
	MTGroup MetaType = ".zgroup"
	// MTMetadata is the key for composite metadata
	MTMetadata MetaType = ".zmetadata"
)

// ZarrFormat is the version of the storage specification this package writes
const ZarrFormat = 2

type MetaTyper interface {
	MetaType() MetaType
}

var metaTypes = map[MetaType]struct{}{
	MTAttributes: {},
	MTArray:      {},
	MTGroup:      {},
}

// keyMetaType relies on every metadata key name being 7 characters long
func keyMetaType(s string) (mt MetaType, ok bool) {
	if len(s) < 7 {
		return mt, false
	}
	mt = MetaType(s[len(s)-7:])
	_, ok = metaTypes[mt]
	return mt, ok
}

type Attributes map[string]interface{}

func (Attributes) MetaType() MetaType { return MTAttributes }

// Arrays can be organized into groups which can also contain other groups.
// A group is created by storing group metadata under the ".zgroup" key under
// some logical path. E.g., a group exists at the root of an array store if the
// ".zgroup" key exists in the store, and a group exists at logical path
// "foo/bar" if the "foo/bar/.zgroup" key exists in the store.
type Group struct {
	ZarrFormat int `json:"zarr_format"`
}

func (Group) MetaType() MetaType { return MTGroup }

// ConsolidatedMetadata collects every metadata document below a group into
// a single ".zmetadata" key, so a hierarchy can be opened with one read
type ConsolidatedMetadata struct {
	ConsolidatedFormat int                  `json:"zarr_consolidated_format"`
	Metadata           map[string]MetaTyper `json:"metadata"`
}

type consolidatedMetaDecoder struct {
	ConsolidatedFormat int                        `json:"zarr_consolidated_format"`
	Metadata           map[string]json.RawMessage `json:"metadata"`
}

func (m *ConsolidatedMetadata) UnmarshalJSON(d []byte) error {
	cd := consolidatedMetaDecoder{}
	if err := json.Unmarshal(d, &cd); err != nil {
		return err
	}
	cm := ConsolidatedMetadata{
		ConsolidatedFormat: cd.ConsolidatedFormat,
		Metadata:           map[string]MetaTyper{},
	}

	for key, data := range cd.Metadata {
		kt, ok := keyMetaType(key)
		if !ok {
			return fmt.Errorf("invalid consoldated metadata key: %q", key)
		}

		switch kt {
		case MTArray:
			arr := &ArrayMeta{}
			if err := json.Unmarshal(data, arr); err != nil {
				return fmt.Errorf("reading %q metadata: %w", key, err)
			}
			cm.Metadata[key] = arr
		case MTAttributes:
			attr := Attributes{}
			if err := json.Unmarshal(data, &attr); err != nil {
				return fmt.Errorf("reading %q attributes: %w", key, err)
			}
			cm.Metadata[key] = attr
		case MTGroup:
			grp := Group{}
			if err := json.Unmarshal(data, &grp); err != nil {
				return fmt.Errorf("reading %q group: %w", key, err)
			}
			cm.Metadata[key] = grp
		}
	}

	*m = cm
	return nil
}

// Keys returns the metadata keys in lexical order
func (m *ConsolidatedMetadata) Keys() []string {
	keys := make([]string, 0, len(m.Metadata))
	for k := range m.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Groups lists the paths of all groups, the root group as ""
func (m *ConsolidatedMetadata) Groups() []string {
	return m.pathsOf(MTGroup)
}

// Arrays lists the paths of all arrays
func (m *ConsolidatedMetadata) Arrays() []string {
	return m.pathsOf(MTArray)
}

// Attributes returns the attributes stored for path, or nil
func (m *ConsolidatedMetadata) Attributes(path string) Attributes {
	p, _ := NewPath(path)
	if a, ok := m.Metadata[p.Join(string(MTAttributes)).String()].(Attributes); ok {
		return a
	}
	return nil
}

// Array returns the array metadata stored for path, or nil
func (m *ConsolidatedMetadata) Array(path string) *ArrayMeta {
	p, _ := NewPath(path)
	if a, ok := m.Metadata[p.Join(string(MTArray)).String()].(*ArrayMeta); ok {
		return a
	}
	return nil
}

func (m *ConsolidatedMetadata) pathsOf(mt MetaType) []string {
	var paths []string
	for _, k := range m.Keys() {
		if kt, ok := keyMetaType(k); ok && kt == mt {
			paths = append(paths, strings.TrimSuffix(strings.TrimSuffix(k, string(mt)), "/"))
		}
	}
	return paths
}

// Consolidate reads the given metadata keys (relative to root) and writes them
// as a single ".zmetadata" document at root
func Consolidate(ctx context.Context, store Store, root string, keys []string) (*ConsolidatedMetadata, error) {
	rp, err := NewPath(root)
	if err != nil {
		return nil, err
	}
	cm := &ConsolidatedMetadata{ConsolidatedFormat: 1, Metadata: map[string]MetaTyper{}}
	for _, key := range keys {
		kt, ok := keyMetaType(key)
		if !ok {
			return nil, fmt.Errorf("invalid metadata key: %q", key)
		}
		rc, err := store.Get(ctx, rp.Join(key).String())
		if err != nil {
			return nil, err
		}
		var mt MetaTyper
		switch kt {
		case MTArray:
			arr := &ArrayMeta{}
			err = json.NewDecoder(rc).Decode(arr)
			mt = arr
		case MTAttributes:
			attrs := Attributes{}
			err = json.NewDecoder(rc).Decode(&attrs)
			mt = attrs
		case MTGroup:
			grp := Group{}
			err = json.NewDecoder(rc).Decode(&grp)
			mt = grp
		}
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", key, err)
		}
		cm.Metadata[key] = mt
	}

	if err := putJSON(ctx, store, rp.Join(string(MTMetadata)).String(), cm); err != nil {
		return nil, err
	}
	return cm, nil
}

// ReadConsolidated loads the ".zmetadata" document at root
func ReadConsolidated(ctx context.Context, store Store, root string) (*ConsolidatedMetadata, error) {
	rp, err := NewPath(root)
	if err != nil {
		return nil, err
	}
	cm := &ConsolidatedMetadata{}
	if err := getJSON(ctx, store, rp.Join(string(MTMetadata)).String(), cm); err != nil {
		return nil, err
	}
	return cm, nil
}

// Each array requires essential configuration metadata to be stored,
// enabling correct interpretation of the stored data.
// This metadata is encoded using JSON and stored as the value of the
// ".zarray" key within an array store.
type ArrayMeta struct {
	// An integer defining the version of the storage specification to which
	// the array store adheres.
	ZarrFormat int `json:"zarr_format"`
	// A list of integers defining the length of each dimension of the array.
	Shape []int `json:"shape"`
	// A list of integers defining the length of each dimension of a chunk of the
	// array. Note that all chunks within a Zarr array have the same shape.
	Chunks []int `json:"chunks"`
	// A string defining a valid data type for the array.
	Dtype Dtype `json:"dtype"`
	// A JSON object identifying the primary compression codec and providing
	// configuration parameters, or null if no compressor is to be used. The
	// object MUST contain an "id" key identifying the codec to be used.
	Compressor *CompressionMeta `json:"compressor"`

	// A scalar value providing the default value to use for uninitialized
	// portions of the array, or null if no fill_value is to be used.
	FillValue interface{} `json:"fill_value"`
	// Either "C" or "F", defining the layout of bytes within each chunk of the
	// array. Only "C" is supported.
	Order string `json:"order"`
	// A list of JSON objects providing codec configurations, or null if no
	// filters are to be applied.
	Filters []Filter `json:"filters"`

	// optional fields

	// If present, either the string "." or "/" definining the separator placed
	// between the dimensions of a chunk. If the value is not set, then the
	// default MUST be assumed to be ".", leading to chunk keys of the form "0.0".
	DimensionSeparator string `json:"dimension_separator,omitempty"`
}

// UnmarshalJSON decodes fill_value numbers as json.Number, keeping 64-bit
// integer fill values exact
func (m *ArrayMeta) UnmarshalJSON(d []byte) error {
	type plain ArrayMeta
	aux := struct {
		*plain
		FillValue json.RawMessage `json:"fill_value"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(d, &aux); err != nil {
		return err
	}
	m.FillValue = nil
	if len(aux.FillValue) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(aux.FillValue))
	dec.UseNumber()
	return dec.Decode(&m.FillValue)
}

func (a ArrayMeta) MetaType() MetaType { return MTArray }

// Validate checks the metadata describes an array this package can read & write
func (a *ArrayMeta) Validate() error {
	if len(a.Shape) != len(a.Chunks) {
		return fmt.Errorf("shape %v and chunks %v must have the same length", a.Shape, a.Chunks)
	}
	for i, c := range a.Chunks {
		if c < 1 {
			return fmt.Errorf("chunk size in dimension %d must be positive, got %d", i, c)
		}
		if a.Shape[i] < 0 {
			return fmt.Errorf("shape in dimension %d must not be negative, got %d", i, a.Shape[i])
		}
	}
	if a.Order != "" && a.Order != "C" {
		return fmt.Errorf("unsupported array order %q", a.Order)
	}
	if len(a.Filters) > 0 {
		return fmt.Errorf("array filters are not supported")
	}
	switch a.DimensionSeparator {
	case "", ".", "/":
	default:
		return fmt.Errorf("invalid dimension separator %q", a.DimensionSeparator)
	}
	return nil
}

// NumChunks is the number of chunks along each dimension
func (a *ArrayMeta) NumChunks() []int {
	n := make([]int, len(a.Shape))
	for i := range a.Shape {
		n[i] = (a.Shape[i] + a.Chunks[i] - 1) / a.Chunks[i]
	}
	return n
}

type Filter struct {
	ID     string `json:"id"`
	Delta  string `json:"delta,omitempty"`
	Dtype  string `json:"dtype,omitempty"`
	AsType string `json:"astype,omitempty"`
}

const (
	// Not a Number
	FillValueNaN = "NaN"
	// Infinity
	FillValueInfinity = "Infinity"
	// -Infinity
	FillValueNegativeInfinity = "-Infinity"
)

// DefaultFillValue is the JSON fill value written for a dtype
func DefaultFillValue(dt Dtype) interface{} {
	switch dt.BasicType {
	case BTFloatingPoint:
		return FillValueNaN
	case BTBoolean:
		return false
	case BTUnicode:
		return ""
	case BTComplex:
		return []interface{}{FillValueNaN, FillValueNaN}
	}
	return 0
}

// fillScalar decodes a JSON fill value into a Go value matching dt
func fillScalar(dt Dtype, fv interface{}) (interface{}, error) {
	num := func(v interface{}) (float64, error) {
		switch x := v.(type) {
		case nil:
			return 0, nil
		case float64:
			return x, nil
		case json.Number:
			return x.Float64()
		case int:
			return float64(x), nil
		case bool:
			if x {
				return 1, nil
			}
			return 0, nil
		case string:
			switch x {
			case FillValueNaN:
				return math.NaN(), nil
			case FillValueInfinity:
				return math.Inf(1), nil
			case FillValueNegativeInfinity:
				return math.Inf(-1), nil
			}
		}
		return 0, fmt.Errorf("invalid fill value %v for dtype %s", v, dt)
	}

	switch dt.BasicType {
	case BTBoolean:
		f, err := num(fv)
		return f != 0, err
	case BTUnicode:
		s, _ := fv.(string)
		return s, nil
	case BTComplex:
		re, im := 0.0, 0.0
		if parts, ok := fv.([]interface{}); ok && len(parts) == 2 {
			var err error
			if re, err = num(parts[0]); err != nil {
				return nil, err
			}
			if im, err = num(parts[1]); err != nil {
				return nil, err
			}
		} else if fv != nil {
			return nil, fmt.Errorf("invalid complex fill value %v", fv)
		}
		if dt.ByteSize == 8 {
			return complex64(complex(re, im)), nil
		}
		return complex(re, im), nil
	}

	if dt.BasicType == BTInteger || dt.BasicType == BTUnsigned {
		return intFill(dt, fv, num)
	}

	f, err := num(fv)
	if err != nil {
		return nil, err
	}
	switch dt.BasicType {
	case BTFloatingPoint:
		if dt.ByteSize == 4 {
			return float32(f), nil
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedDtype, dt)
}

// intFill decodes an integer fill value. Integral JSON numbers are parsed
// directly so values beyond 2^53 survive.
func intFill(dt Dtype, fv interface{}, num func(interface{}) (float64, error)) (interface{}, error) {
	var (
		i int64
		u uint64
	)
	switch x := fv.(type) {
	case json.Number:
		var err error
		if dt.BasicType == BTUnsigned {
			u, err = strconv.ParseUint(x.String(), 10, 64)
			i = int64(u)
		} else {
			i, err = strconv.ParseInt(x.String(), 10, 64)
			u = uint64(i)
		}
		if err != nil {
			f, ferr := x.Float64()
			if ferr != nil {
				return nil, fmt.Errorf("invalid fill value %v for dtype %s", fv, dt)
			}
			i, u = int64(f), uint64(f)
		}
	case int64:
		i, u = x, uint64(x)
	case uint64:
		i, u = int64(x), x
	case int:
		i, u = int64(x), uint64(x)
	default:
		f, err := num(fv)
		if err != nil {
			return nil, err
		}
		i, u = int64(f), uint64(f)
	}

	if dt.BasicType == BTUnsigned {
		switch dt.ByteSize {
		case 1:
			return uint8(u), nil
		case 2:
			return uint16(u), nil
		case 4:
			return uint32(u), nil
		case 8:
			return u, nil
		}
	} else {
		switch dt.ByteSize {
		case 1:
			return int8(i), nil
		case 2:
			return int16(i), nil
		case 4:
			return int32(i), nil
		case 8:
			return i, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedDtype, dt)
}
