package xds

import (
	"fmt"
	"reflect"
	"slices"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Variable is a named-dimension N-d array. Values is a flat, C-ordered slice
// of one of the supported element types.
type Variable struct {
	Dims   []string
	Shape  []int
	Values interface{}
	Attrs  map[string]interface{}
}

// NewVariable validates that values holds exactly prod(shape) items of a
// supported type
func NewVariable(dims []string, shape []int, values interface{}, attrs map[string]interface{}) (*Variable, error) {
	if len(dims) != len(shape) {
		return nil, fmt.Errorf("%d dims given for shape %v", len(dims), shape)
	}
	seen := map[string]bool{}
	for _, d := range dims {
		if seen[d] {
			return nil, fmt.Errorf("duplicate dimension %q", d)
		}
		seen[d] = true
	}
	if !supported(values) {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, values)
	}
	n := 1
	for _, s := range shape {
		n *= s
	}
	if l := reflect.ValueOf(values).Len(); l != n {
		return nil, fmt.Errorf("shape %v needs %d values, got %d", shape, n, l)
	}
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	return &Variable{
		Dims:   append([]string(nil), dims...),
		Shape:  append([]int(nil), shape...),
		Values: values,
		Attrs:  attrs,
	}, nil
}

// MustVariable is NewVariable for values known to be valid. It panics on error.
func MustVariable(dims []string, shape []int, values interface{}) *Variable {
	v, err := NewVariable(dims, shape, values, nil)
	if err != nil {
		panic(err)
	}
	return v
}

// Vector builds a 1-D variable along dim
func Vector(dim string, values interface{}) *Variable {
	return MustVariable([]string{dim}, []int{reflect.ValueOf(values).Len()}, values)
}

// Scalar builds a 0-d variable
func Scalar(value interface{}) *Variable {
	s := reflect.MakeSlice(reflect.SliceOf(reflect.TypeOf(value)), 1, 1)
	s.Index(0).Set(reflect.ValueOf(value))
	return MustVariable(nil, nil, s.Interface())
}

func supported(values interface{}) bool {
	switch values.(type) {
	case []float64, []float32, []int64, []int32, []bool, []complex64, []complex128, []string:
		return true
	}
	return false
}

// Size is the number of items
func (v *Variable) Size() int {
	return reflect.ValueOf(v.Values).Len()
}

// Axis returns the position of dim, or -1
func (v *Variable) Axis(dim string) int {
	for i, d := range v.Dims {
		if d == dim {
			return i
		}
	}
	return -1
}

// Copy returns a variable sharing no slices or maps with v
func (v *Variable) Copy() *Variable {
	src := reflect.ValueOf(v.Values)
	dst := reflect.MakeSlice(src.Type(), src.Len(), src.Len())
	reflect.Copy(dst, src)
	attrs := make(map[string]interface{}, len(v.Attrs))
	for k, a := range v.Attrs {
		attrs[k] = a
	}
	return &Variable{
		Dims:   append([]string(nil), v.Dims...),
		Shape:  append([]int(nil), v.Shape...),
		Values: dst.Interface(),
		Attrs:  attrs,
	}
}

// Float64s converts numeric values to float64
func (v *Variable) Float64s() ([]float64, error) {
	switch x := v.Values.(type) {
	case []float64:
		return x, nil
	case []float32:
		out := make([]float64, len(x))
		for i, f := range x {
			out[i] = float64(f)
		}
		return out, nil
	case []int64:
		out := make([]float64, len(x))
		for i, f := range x {
			out[i] = float64(f)
		}
		return out, nil
	case []int32:
		out := make([]float64, len(x))
		for i, f := range x {
			out[i] = float64(f)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T is not numeric", ErrUnsupportedType, v.Values)
}

// Strings returns string values
func (v *Variable) Strings() ([]string, error) {
	if s, ok := v.Values.([]string); ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %T is not a string variable", ErrUnsupportedType, v.Values)
}

// Labels renders each value as a string key, used for label matching
func (v *Variable) Labels() []string {
	if s, ok := v.Values.([]string); ok {
		return s
	}
	rv := reflect.ValueOf(v.Values)
	out := make([]string, rv.Len())
	for i := range out {
		out[i] = fmt.Sprint(rv.Index(i).Interface())
	}
	return out
}

// Take selects positions idx along dim
func (v *Variable) Take(dim string, idx []int) (*Variable, error) {
	axis := v.Axis(dim)
	if axis < 0 {
		return v, nil
	}
	outer, inner := 1, 1
	for i, s := range v.Shape {
		if i < axis {
			outer *= s
		} else if i > axis {
			inner *= s
		}
	}
	n := v.Shape[axis]
	for _, i := range idx {
		if i < 0 || i >= n {
			return nil, fmt.Errorf("index %d out of bounds for dimension %q of size %d", i, dim, n)
		}
	}

	src := reflect.ValueOf(v.Values)
	dst := reflect.MakeSlice(src.Type(), outer*len(idx)*inner, outer*len(idx)*inner)
	for o := 0; o < outer; o++ {
		for k, i := range idx {
			from := (o*n + i) * inner
			to := (o*len(idx) + k) * inner
			reflect.Copy(dst.Slice(to, to+inner), src.Slice(from, from+inner))
		}
	}

	shape := append([]int(nil), v.Shape...)
	shape[axis] = len(idx)
	return &Variable{
		Dims:   append([]string(nil), v.Dims...),
		Shape:  shape,
		Values: dst.Interface(),
		Attrs:  v.Attrs,
	}, nil
}

// At selects a single position along dim, removing the dimension
func (v *Variable) At(dim string, i int) (*Variable, error) {
	axis := v.Axis(dim)
	if axis < 0 {
		return v, nil
	}
	out, err := v.Take(dim, []int{i})
	if err != nil {
		return nil, err
	}
	out.Dims = append(out.Dims[:axis:axis], out.Dims[axis+1:]...)
	out.Shape = append(out.Shape[:axis:axis], out.Shape[axis+1:]...)
	return out, nil
}

// concatValues joins variables along dim. All other dims must agree.
func concatValues(dim string, vars []*Variable) (*Variable, error) {
	first := vars[0]
	axis := first.Axis(dim)
	outer, inner := 1, 1
	for i, s := range first.Shape {
		if i < axis {
			outer *= s
		} else if i > axis {
			inner *= s
		}
	}

	total := 0
	for _, v := range vars {
		if v.Axis(dim) != axis || len(v.Dims) != len(first.Dims) {
			return nil, fmt.Errorf("cannot concatenate variables with dims %v and %v along %q", first.Dims, v.Dims, dim)
		}
		for i := range v.Shape {
			if i != axis && v.Shape[i] != first.Shape[i] {
				return nil, fmt.Errorf("cannot concatenate shapes %v and %v along %q", first.Shape, v.Shape, dim)
			}
		}
		if reflect.TypeOf(v.Values) != reflect.TypeOf(first.Values) {
			return nil, fmt.Errorf("cannot concatenate %T and %T", first.Values, v.Values)
		}
		total += v.Shape[axis]
	}

	dst := reflect.MakeSlice(reflect.TypeOf(first.Values), 0, outer*total*inner)
	for o := 0; o < outer; o++ {
		for _, v := range vars {
			block := v.Shape[axis] * inner
			dst = reflect.AppendSlice(dst, reflect.ValueOf(v.Values).Slice(o*block, (o+1)*block))
		}
	}
	shape := append([]int(nil), first.Shape...)
	shape[axis] = total
	return &Variable{
		Dims:   append([]string(nil), first.Dims...),
		Shape:  shape,
		Values: dst.Interface(),
		Attrs:  first.Attrs,
	}, nil
}

// Equal reports whether v and o have the same dims, shape, element type and
// values. NaNs compare equal. Attributes are ignored.
func (v *Variable) Equal(o *Variable) bool {
	return cmp.Equal(v.Dims, o.Dims, cmpopts.EquateEmpty()) &&
		cmp.Equal(v.Shape, o.Shape, cmpopts.EquateEmpty()) &&
		reflect.TypeOf(v.Values) == reflect.TypeOf(o.Values) &&
		cmp.Equal(v.Values, o.Values, cmpopts.EquateNaNs())
}

// uniqueValues returns the distinct values of v in a slice of its element
// type. Numbers sort numerically with NaN first, strings lexically, false
// before true and complex numbers by real then imaginary part.
func uniqueValues(v *Variable) interface{} {
	rv := reflect.ValueOf(v.Values)
	seen := map[string]struct{}{}
	out := reflect.MakeSlice(rv.Type(), 0, rv.Len())
	for i, l := range v.Labels() {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = reflect.Append(out, rv.Index(i))
	}

	switch s := out.Interface().(type) {
	case []string:
		slices.Sort(s)
	case []float64:
		slices.Sort(s)
	case []float32:
		slices.Sort(s)
	case []int64:
		slices.Sort(s)
	case []int32:
		slices.Sort(s)
	case []bool:
		sort.Slice(s, func(i, j int) bool { return !s[i] && s[j] })
	case []complex64:
		sort.Slice(s, func(i, j int) bool {
			return lessComplex(complex128(s[i]), complex128(s[j]))
		})
	case []complex128:
		sort.Slice(s, func(i, j int) bool { return lessComplex(s[i], s[j]) })
	}
	return out.Interface()
}

func lessComplex(a, b complex128) bool {
	if real(a) != real(b) {
		return real(a) < real(b)
	}
	return imag(a) < imag(b)
}
