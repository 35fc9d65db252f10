// Package tensor defines the dtype, shape and host literal types used to
// describe compiled program arguments.
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DType identifies the element type of a tensor.
type DType uint8

const (
	InvalidDType DType = iota
	F32
	F64
	I32
	I64
	U8
	Bool
)

var dtypeNames = map[DType]string{
	InvalidDType: "invalid",
	F32:          "f32",
	F64:          "f64",
	I32:          "i32",
	I64:          "i64",
	U8:           "u8",
	Bool:         "pred",
}

func (d DType) String() string {
	if name, ok := dtypeNames[d]; ok {
		return name
	}

	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// Size returns the width of one element in bytes.
func (d DType) Size() int {
	switch d {
	case F64, I64:
		return 8
	case F32, I32:
		return 4
	case U8, Bool:
		return 1
	default:
		return 0
	}
}

// Valid reports whether d is one of the defined element types.
func (d DType) Valid() bool {
	return d > InvalidDType && d <= Bool
}

// ParseDType maps a dtype name back to its value. It accepts exactly the
// strings produced by DType.String.
func ParseDType(s string) (DType, error) {
	for d, name := range dtypeNames {
		if name == s && d != InvalidDType {
			return d, nil
		}
	}

	return InvalidDType, fmt.Errorf("unknown dtype %q", s)
}

// Shape is the dimension vector of a tensor. A nil or empty Dims slice is a
// scalar.
type Shape struct {
	Dims []int64
}

// MakeShape builds a Shape from the given dimensions.
func MakeShape(dims ...int64) Shape {
	return Shape{Dims: dims}
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s.Dims)
}

// NumElements returns the total element count, 1 for scalars.
func (s Shape) NumElements() int64 {
	n := int64(1)
	for _, d := range s.Dims {
		n *= d
	}

	return n
}

// Equal reports whether two shapes have identical dimension vectors.
func (s Shape) Equal(other Shape) bool {
	if len(s.Dims) != len(other.Dims) {
		return false
	}

	for i, d := range s.Dims {
		if d != other.Dims[i] {
			return false
		}
	}

	return true
}

// Clone returns a copy that shares no memory with s.
func (s Shape) Clone() Shape {
	if s.Dims == nil {
		return Shape{}
	}

	dims := make([]int64, len(s.Dims))
	copy(dims, s.Dims)

	return Shape{Dims: dims}
}

func (s Shape) String() string {
	if len(s.Dims) == 0 {
		return "[]"
	}

	var b strings.Builder

	b.WriteByte('[')

	for i, d := range s.Dims {
		if i > 0 {
			b.WriteByte(',')
		}

		b.WriteString(strconv.FormatInt(d, 10))
	}

	b.WriteByte(']')

	return b.String()
}

// AppendKey appends a canonical textual form of dtype+shape to b. Two
// arguments append the same bytes if and only if dtype and dimensions match,
// which is what makes the form usable inside cache signatures.
func AppendKey(b []byte, d DType, s Shape) []byte {
	b = append(b, d.String()...)
	b = append(b, s.String()...)

	return b
}

// Literal is a tensor value held in host memory, laid out row-major in
// little-endian byte order.
type Literal struct {
	DType DType
	Shape Shape
	Data  []byte
}

// NewLiteral builds a literal from raw bytes. The byte slice is used as-is,
// callers hand over ownership.
func NewLiteral(d DType, shape Shape, data []byte) (Literal, error) {
	lit := Literal{DType: d, Shape: shape, Data: data}
	if err := lit.Validate(); err != nil {
		return Literal{}, err
	}

	return lit, nil
}

// NewF32 builds an f32 literal from host values.
func NewF32(shape Shape, values []float32) (Literal, error) {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}

	return NewLiteral(F32, shape, data)
}

// NewI64 builds an i64 literal from host values.
func NewI64(shape Shape, values []int64) (Literal, error) {
	data := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[i*8:], uint64(v))
	}

	return NewLiteral(I64, shape, data)
}

// ScalarF32 builds a rank-0 f32 literal.
func ScalarF32(v float32) Literal {
	lit, _ := NewF32(Shape{}, []float32{v})
	return lit
}

// ScalarI64 builds a rank-0 i64 literal.
func ScalarI64(v int64) Literal {
	lit, _ := NewI64(Shape{}, []int64{v})
	return lit
}

// Validate checks that the data length matches the shape and dtype.
func (l Literal) Validate() error {
	if !l.DType.Valid() {
		return fmt.Errorf("literal has invalid dtype %s", l.DType)
	}

	for _, d := range l.Shape.Dims {
		if d < 0 {
			return fmt.Errorf("literal shape %s has negative dimension", l.Shape)
		}
	}

	want := l.Shape.NumElements() * int64(l.DType.Size())
	if int64(len(l.Data)) != want {
		return fmt.Errorf(
			"literal data is %d bytes, want %d for %s%s",
			len(l.Data), want, l.DType, l.Shape,
		)
	}

	return nil
}

// F32s decodes the payload as float32 values.
func (l Literal) F32s() []float32 {
	out := make([]float32, len(l.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(l.Data[i*4:]))
	}

	return out
}

// I64s decodes the payload as int64 values.
func (l Literal) I64s() []int64 {
	out := make([]int64, len(l.Data)/8)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(l.Data[i*8:]))
	}

	return out
}

// Clone returns a copy that shares no memory with l.
func (l Literal) Clone() Literal {
	out := Literal{DType: l.DType, Shape: l.Shape.Clone()}
	if l.Data != nil {
		out.Data = make([]byte, len(l.Data))
		copy(out.Data, l.Data)
	}

	return out
}

// Equal reports whether two literals have the same dtype, shape and payload.
func (l Literal) Equal(other Literal) bool {
	if l.DType != other.DType || !l.Shape.Equal(other.Shape) {
		return false
	}

	if len(l.Data) != len(other.Data) {
		return false
	}

	for i, b := range l.Data {
		if b != other.Data[i] {
			return false
		}
	}

	return true
}

// AppendKey appends a canonical textual form of the literal to b, covering
// dtype, shape and every payload byte.
func (l Literal) AppendKey(b []byte) []byte {
	b = AppendKey(b, l.DType, l.Shape)
	b = append(b, ';')

	const hexdigits = "0123456789abcdef"
	for _, c := range l.Data {
		b = append(b, hexdigits[c>>4], hexdigits[c&0xf])
	}

	return b
}

func (l Literal) String() string {
	return fmt.Sprintf("%s%s<%d bytes>", l.DType, l.Shape, len(l.Data))
}
