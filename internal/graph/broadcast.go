package graph

import (
	"fmt"

	"github.com/kailas-cloud/addrscore/internal/tensor"
)

// broadcastShape applies numpy broadcasting rules to a and b.
func broadcastShape(a, b []int) ([]int, error) {
	rank := max(len(a), len(b))
	out := make([]int, rank)
	for i := range rank {
		da, db := dimFromRight(a, rank-1-i), dimFromRight(b, rank-1-i)
		switch {
		case da == db:
			out[i] = da
		case da == 1:
			out[i] = db
		case db == 1:
			out[i] = da
		default:
			return nil, fmt.Errorf("shapes %v and %v do not broadcast", a, b)
		}
	}
	return out, nil
}

// dimFromRight returns the dimension k places from the right, or 1.
func dimFromRight(shape []int, k int) int {
	i := len(shape) - 1 - k
	if i < 0 {
		return 1
	}
	return shape[i]
}

// broadcastStrides returns strides of shape aligned to out, zero on
// broadcast axes.
func broadcastStrides(shape, out []int) []int {
	strides := make([]int, len(out))
	stride := 1
	for k := 0; k < len(shape); k++ {
		i := len(out) - 1 - k
		d := shape[len(shape)-1-k]
		if d != 1 {
			strides[i] = stride
		}
		stride *= d
	}
	return strides
}

// broadcastIndex calls fn with flat offsets into a, b and out for every
// output element.
func broadcastIndex(aShape, bShape, out []int, fn func(ia, ib, io int)) {
	n := tensor.Size(out)
	if n == 0 {
		return
	}
	sa, sb := broadcastStrides(aShape, out), broadcastStrides(bShape, out)
	idx := make([]int, len(out))
	ia, ib := 0, 0
	for io := 0; io < n; io++ {
		fn(ia, ib, io)
		for d := len(out) - 1; d >= 0; d-- {
			idx[d]++
			ia += sa[d]
			ib += sb[d]
			if idx[d] < out[d] {
				break
			}
			ia -= sa[d] * idx[d]
			ib -= sb[d] * idx[d]
			idx[d] = 0
		}
	}
}

type binaryOp struct {
	f32 func(a, b float32) float32
	i64 func(a, b int64) (int64, error)
}

func elementwise(op binaryOp, a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if a.DType() != b.DType() {
		return nil, fmt.Errorf("operand types differ: %s and %s", a.DType(), b.DType())
	}
	shape, err := broadcastShape(a.Shape(), b.Shape())
	if err != nil {
		return nil, err
	}

	switch a.DType() {
	case tensor.Float32:
		av, bv := a.Float32s(), b.Float32s()
		out := make([]float32, tensor.Size(shape))
		broadcastIndex(a.Shape(), b.Shape(), shape, func(ia, ib, io int) {
			out[io] = op.f32(av[ia], bv[ib])
		})
		return tensor.NewFloat32(shape, out)
	default:
		av, bv := a.Int64s(), b.Int64s()
		out := make([]int64, tensor.Size(shape))
		var opErr error
		broadcastIndex(a.Shape(), b.Shape(), shape, func(ia, ib, io int) {
			if opErr != nil {
				return
			}
			out[io], opErr = op.i64(av[ia], bv[ib])
		})
		if opErr != nil {
			return nil, opErr
		}
		return tensor.NewInt64(shape, out)
	}
}

// unaryFloat applies fn to every element of a float tensor.
func unaryFloat(in *tensor.Tensor, fn func(float32) float32) (*tensor.Tensor, error) {
	if err := want(in, tensor.Float32, "input"); err != nil {
		return nil, err
	}
	src := in.Float32s()
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = fn(v)
	}
	return tensor.NewFloat32(in.Shape(), out)
}
