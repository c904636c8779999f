// Package tensor holds the dense n-dimensional arrays the graph runtime
// passes between operators.
package tensor

import (
	"fmt"
	"strings"
)

// DType is the element type of a Tensor.
type DType uint8

const (
	// Float32 is a 32-bit IEEE float element.
	Float32 DType = iota + 1
	// Int64 is a signed 64-bit integer element.
	Int64
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Int64:
		return "int64"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// Tensor is a dense row-major array. Tensors are treated as immutable once
// handed to the runtime: kernels allocate new outputs and never write to
// their inputs, which is what lets a compiled plan be shared across goroutines.
type Tensor struct {
	dtype DType
	shape []int
	f32   []float32
	i64   []int64
}

// Size returns the element count for shape. A rank-0 shape has one element.
func Size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func validShape(shape []int) error {
	for i, d := range shape {
		if d < 0 {
			return fmt.Errorf("dimension %d is negative (%d)", i, d)
		}
	}
	return nil
}

// NewFloat32 wraps data (not copied) as a float32 tensor of the given shape.
func NewFloat32(shape []int, data []float32) (*Tensor, error) {
	if err := validShape(shape); err != nil {
		return nil, err
	}
	if len(data) != Size(shape) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, Size(shape), len(data))
	}
	return &Tensor{dtype: Float32, shape: append([]int(nil), shape...), f32: data}, nil
}

// NewInt64 wraps data (not copied) as an int64 tensor of the given shape.
func NewInt64(shape []int, data []int64) (*Tensor, error) {
	if err := validShape(shape); err != nil {
		return nil, err
	}
	if len(data) != Size(shape) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, Size(shape), len(data))
	}
	return &Tensor{dtype: Int64, shape: append([]int(nil), shape...), i64: data}, nil
}

// Zeros allocates a zero-filled tensor.
func Zeros(dtype DType, shape []int) *Tensor {
	t := &Tensor{dtype: dtype, shape: append([]int(nil), shape...)}
	switch dtype {
	case Int64:
		t.i64 = make([]int64, Size(shape))
	default:
		t.dtype = Float32
		t.f32 = make([]float32, Size(shape))
	}
	return t
}

// DType returns the element type.
func (t *Tensor) DType() DType { return t.dtype }

// Shape returns a copy of the dimensions.
func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// Dim returns dimension i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// Len returns the element count.
func (t *Tensor) Len() int { return Size(t.shape) }

// Float32s returns the backing float32 slice, or nil for other dtypes.
// Callers must not modify it.
func (t *Tensor) Float32s() []float32 { return t.f32 }

// Int64s returns the backing int64 slice, or nil for other dtypes.
// Callers must not modify it.
func (t *Tensor) Int64s() []int64 { return t.i64 }

// Reshaped returns a tensor sharing t's data under a new shape.
func (t *Tensor) Reshaped(shape []int) (*Tensor, error) {
	if err := validShape(shape); err != nil {
		return nil, err
	}
	if Size(shape) != t.Len() {
		return nil, fmt.Errorf("cannot reshape %v into %v", t.shape, shape)
	}
	return &Tensor{dtype: t.dtype, shape: append([]int(nil), shape...), f32: t.f32, i64: t.i64}, nil
}

// AsFloat32 returns the elements converted to float32. Float32 tensors
// return their backing slice.
func (t *Tensor) AsFloat32() []float32 {
	if t.dtype == Float32 {
		return t.f32
	}
	out := make([]float32, len(t.i64))
	for i, v := range t.i64 {
		out[i] = float32(v)
	}
	return out
}

// SameShape reports whether two shapes are identical.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *Tensor) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%v", t.dtype, t.shape)
	return b.String()
}
