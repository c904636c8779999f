package onnx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrExternalData signals a tensor whose payload lives outside the model bytes.
var ErrExternalData = errors.New("external tensor data is not supported")

const dataLocationExternal = 1

// Shape returns Dims as ints, rejecting negative dimensions.
func (t *Tensor) Shape() ([]int, error) {
	shape := make([]int, len(t.Dims))
	for i, d := range t.Dims {
		if d < 0 {
			return nil, fmt.Errorf("tensor %q: negative dimension %d", t.Name, d)
		}
		shape[i] = int(d)
	}
	return shape, nil
}

// maxElements keeps the payload byte length of the widest element type
// representable as an int.
const maxElements = math.MaxInt / 8

// elements returns the product of Dims.
func (t *Tensor) elements() (int, error) {
	n := 1
	for _, d := range t.Dims {
		if d < 0 {
			return 0, fmt.Errorf("tensor %q: negative dimension %d", t.Name, d)
		}
		if d != 0 && int64(n) > int64(maxElements)/d {
			return 0, fmt.Errorf("tensor %q: dims %v overflow the element count", t.Name, t.Dims)
		}
		n *= int(d)
	}
	return n, nil
}

// Float32s returns the payload of a FLOAT or DOUBLE tensor as float32.
func (t *Tensor) Float32s() ([]float32, error) {
	if t.DataLocation == dataLocationExternal {
		return nil, fmt.Errorf("tensor %q: %w", t.Name, ErrExternalData)
	}
	want, err := t.elements()
	if err != nil {
		return nil, err
	}

	var out []float32
	switch t.DataType {
	case DataTypeFloat:
		if t.RawData != nil {
			if len(t.RawData) != want*4 {
				return nil, t.sizeErr(len(t.RawData)/4, want)
			}
			out = make([]float32, want)
			for i := range out {
				out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.RawData[i*4:]))
			}
		} else {
			out = append([]float32(nil), t.FloatData...)
		}
	case DataTypeDouble:
		if t.RawData != nil {
			if len(t.RawData) != want*8 {
				return nil, t.sizeErr(len(t.RawData)/8, want)
			}
			out = make([]float32, want)
			for i := range out {
				out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(t.RawData[i*8:])))
			}
		} else {
			out = make([]float32, len(t.DoubleData))
			for i, v := range t.DoubleData {
				out[i] = float32(v)
			}
		}
	default:
		return nil, fmt.Errorf("tensor %q: data type %d is not a float", t.Name, t.DataType)
	}
	if len(out) != want {
		return nil, t.sizeErr(len(out), want)
	}
	return out, nil
}

// Int64s returns the payload of an integer or bool tensor as int64.
func (t *Tensor) Int64s() ([]int64, error) {
	if t.DataLocation == dataLocationExternal {
		return nil, fmt.Errorf("tensor %q: %w", t.Name, ErrExternalData)
	}
	want, err := t.elements()
	if err != nil {
		return nil, err
	}

	var out []int64
	switch t.DataType {
	case DataTypeInt64:
		if t.RawData != nil {
			if len(t.RawData) != want*8 {
				return nil, t.sizeErr(len(t.RawData)/8, want)
			}
			out = make([]int64, want)
			for i := range out {
				out[i] = int64(binary.LittleEndian.Uint64(t.RawData[i*8:]))
			}
		} else {
			out = append([]int64(nil), t.Int64Data...)
		}
	case DataTypeInt32:
		if t.RawData != nil {
			if len(t.RawData) != want*4 {
				return nil, t.sizeErr(len(t.RawData)/4, want)
			}
			out = make([]int64, want)
			for i := range out {
				out[i] = int64(int32(binary.LittleEndian.Uint32(t.RawData[i*4:])))
			}
		} else {
			out = make([]int64, len(t.Int32Data))
			for i, v := range t.Int32Data {
				out[i] = int64(v)
			}
		}
	case DataTypeBool, DataTypeInt8, DataTypeUint8, DataTypeInt16, DataTypeUint16:
		if t.RawData != nil {
			return nil, fmt.Errorf("tensor %q: raw payload for data type %d is not supported", t.Name, t.DataType)
		}
		// Narrow integer types travel in int32_data.
		out = make([]int64, len(t.Int32Data))
		for i, v := range t.Int32Data {
			out[i] = int64(v)
		}
	default:
		return nil, fmt.Errorf("tensor %q: data type %d is not an integer", t.Name, t.DataType)
	}
	if len(out) != want {
		return nil, t.sizeErr(len(out), want)
	}
	return out, nil
}

func (t *Tensor) sizeErr(got, want int) error {
	return fmt.Errorf("tensor %q: dims %v need %d elements, payload has %d", t.Name, t.Dims, want, got)
}

// IsFloat reports whether the element type converts losslessly enough to float32.
func (dt DataType) IsFloat() bool {
	return dt == DataTypeFloat || dt == DataTypeDouble
}
