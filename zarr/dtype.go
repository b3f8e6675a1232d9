package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Dtype is a zarr data type, encoded as a NumPy array protocol type string
// (typestr). The format consists of 3 parts:
//  * One character describing the byteorder of the data:
//    "<": little-endian; ">": big-endian; "|": not-relevant)
//  * One character code giving the basic type of the array:
//    "b" bool, "i" int, "u" uint, "f" float, "c" complex, "m" timedelta,
//    "M" datetime, "S" bytes, "U" unicode, "V" void
//  * An integer specifying the number of bytes the type uses. For "U" the
//    integer is a count of UTF-32 code points, not bytes.
//
// Within the zarr format byte order MUST be specified
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
	Units     string
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

// Commonly used little-endian dtypes
var (
	DtypeBool       = Dtype{ByteOrder: BONotRelevant, BasicType: BTBoolean, ByteSize: 1}
	DtypeInt32      = Dtype{ByteOrder: BOLittleEndian, BasicType: BTInteger, ByteSize: 4}
	DtypeInt64      = Dtype{ByteOrder: BOLittleEndian, BasicType: BTInteger, ByteSize: 8}
	DtypeFloat32    = Dtype{ByteOrder: BOLittleEndian, BasicType: BTFloatingPoint, ByteSize: 4}
	DtypeFloat64    = Dtype{ByteOrder: BOLittleEndian, BasicType: BTFloatingPoint, ByteSize: 8}
	DtypeComplex64  = Dtype{ByteOrder: BOLittleEndian, BasicType: BTComplex, ByteSize: 8}
	DtypeComplex128 = Dtype{ByteOrder: BOLittleEndian, BasicType: BTComplex, ByteSize: 16}
)

func ParseDtype(s string) (dt Dtype, err error) {
	// bug in python implementation uses HTML escape sequences when serializaing JSON
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 3 {
		return dt, fmt.Errorf("invalid Dtype string. %q is too short", s)
	}

	boByte, s := s[0], s[1:]
	dt.ByteOrder, err = ParseByteOrder(rune(boByte))
	if err != nil {
		return dt, err
	}

	typeByte, s := s[0], s[1:]
	dt.BasicType, err = ParseBasicType(rune(typeByte))
	if err != nil {
		return dt, err
	}

	sizeStr := s
	if i := strings.IndexByte(s, '['); i >= 0 {
		sizeStr, dt.Units = s[:i], s[i:]
	}

	size, err := strconv.ParseInt(sizeStr, 10, 0)
	if err != nil {
		return dt, fmt.Errorf("invalid Dtype size %q: %w", sizeStr, err)
	}
	dt.ByteSize = int(size)
	return dt, nil
}

// UnicodeDtype returns a fixed width little-endian unicode dtype holding n
// code points
func UnicodeDtype(n int) Dtype {
	if n < 1 {
		n = 1
	}
	return Dtype{ByteOrder: BOLittleEndian, BasicType: BTUnicode, ByteSize: n}
}

func (dt Dtype) String() string {
	s := fmt.Sprintf("%s%s%d", string(dt.ByteOrder), string(dt.BasicType), dt.ByteSize)
	if dt.Units != "" {
		s += dt.Units
	}
	return s
}

// ItemSize is the number of bytes a single element occupies in a decoded chunk
func (dt Dtype) ItemSize() int {
	if dt.BasicType == BTUnicode {
		return 4 * dt.ByteSize
	}
	return dt.ByteSize
}

func (dt Dtype) binaryOrder() binary.ByteOrder {
	if dt.ByteOrder == BOBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return json.Marshal(dt.String())
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return fmt.Errorf("structured dtypes are not supported: %w", err)
	}
	t, err := ParseDtype(s)
	if err != nil {
		return err
	}

	*dt = t
	return nil
}

// NewSlice allocates a Go slice of length n able to hold values of this dtype
func (dt Dtype) NewSlice(n int) (interface{}, error) {
	switch dt.BasicType {
	case BTBoolean:
		return make([]bool, n), nil
	case BTInteger:
		switch dt.ByteSize {
		case 1:
			return make([]int8, n), nil
		case 2:
			return make([]int16, n), nil
		case 4:
			return make([]int32, n), nil
		case 8:
			return make([]int64, n), nil
		}
	case BTUnsigned:
		switch dt.ByteSize {
		case 1:
			return make([]uint8, n), nil
		case 2:
			return make([]uint16, n), nil
		case 4:
			return make([]uint32, n), nil
		case 8:
			return make([]uint64, n), nil
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			return make([]float32, n), nil
		case 8:
			return make([]float64, n), nil
		}
	case BTComplex:
		switch dt.ByteSize {
		case 8:
			return make([]complex64, n), nil
		case 16:
			return make([]complex128, n), nil
		}
	case BTUnicode:
		return make([]string, n), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedDtype, dt)
}

// DtypeOf infers the dtype used to store a Go slice. String slices get a
// unicode dtype wide enough for their longest element.
func DtypeOf(values interface{}) (Dtype, error) {
	switch v := values.(type) {
	case []bool:
		return DtypeBool, nil
	case []int8:
		return Dtype{ByteOrder: BONotRelevant, BasicType: BTInteger, ByteSize: 1}, nil
	case []int16:
		return Dtype{ByteOrder: BOLittleEndian, BasicType: BTInteger, ByteSize: 2}, nil
	case []int32:
		return DtypeInt32, nil
	case []int64:
		return DtypeInt64, nil
	case []uint8:
		return Dtype{ByteOrder: BONotRelevant, BasicType: BTUnsigned, ByteSize: 1}, nil
	case []uint16:
		return Dtype{ByteOrder: BOLittleEndian, BasicType: BTUnsigned, ByteSize: 2}, nil
	case []uint32:
		return Dtype{ByteOrder: BOLittleEndian, BasicType: BTUnsigned, ByteSize: 4}, nil
	case []uint64:
		return Dtype{ByteOrder: BOLittleEndian, BasicType: BTUnsigned, ByteSize: 8}, nil
	case []float32:
		return DtypeFloat32, nil
	case []float64:
		return DtypeFloat64, nil
	case []complex64:
		return DtypeComplex64, nil
	case []complex128:
		return DtypeComplex128, nil
	case []string:
		width := 1
		for _, s := range v {
			if n := utf8.RuneCountInString(s); n > width {
				width = n
			}
		}
		return UnicodeDtype(width), nil
	}
	return Dtype{}, fmt.Errorf("%w: Go type %T", ErrUnsupportedDtype, values)
}

func sliceLen(values interface{}) int {
	v := reflect.ValueOf(values)
	if v.Kind() != reflect.Slice {
		return -1
	}
	return v.Len()
}

type ByteOrder rune

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, fmt.Errorf("unsupported byte order format: %q", r)
	}
	return o, nil
}

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
}

type BasicType rune

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := basicTypeNames[t]; !ok {
		return t, fmt.Errorf("unsupported basic type: %q", r)
	}
	return t, nil
}

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
	BTComplex       BasicType = 'c'
	BTTimedelta     BasicType = 'm'
	BTDatetime      BasicType = 'M'
	BTString        BasicType = 'S'
	BTUnicode       BasicType = 'U'
	BTOther         BasicType = 'V'
)

var basicTypeNames = map[BasicType]string{
	BTBoolean:       "bool",
	BTInteger:       "int",
	BTUnsigned:      "uint",
	BTFloatingPoint: "float",
	BTComplex:       "complex",
	BTTimedelta:     "timedelta",
	BTDatetime:      "datetime",
	BTString:        "bytes",
	BTUnicode:       "unicode",
	BTOther:         "void",
}
