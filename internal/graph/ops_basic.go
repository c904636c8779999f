package graph

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/addrscore/internal/onnx"
	"github.com/kailas-cloud/addrscore/internal/tensor"
)

func init() {
	register("", "Identity", opSpec{minIn: 1, maxIn: 1, compile: compilePassthrough})
	register("", "Dropout", opSpec{minIn: 1, maxIn: 3, compile: compileDropout})
	register("", "Cast", opSpec{minIn: 1, maxIn: 1, compile: compileCast})
	register("", "Constant", opSpec{minIn: 0, maxIn: 0, compile: compileConstant})
	register("", "Reshape", opSpec{minIn: 2, maxIn: 2, compile: compileReshape})
	register("", "Flatten", opSpec{minIn: 1, maxIn: 1, compile: compileFlatten})
	register("", "Concat", opSpec{minIn: 1, maxIn: math.MaxInt, compile: compileConcat})
}

func compilePassthrough(*Node) (kernel, error) {
	return func(_ *runContext, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		return one(in[0]), nil
	}, nil
}

// Inference-mode Dropout is the identity; the mask output is not produced.
func compileDropout(n *Node) (kernel, error) {
	if n.output(1) != "" {
		return nil, fmt.Errorf("%w: dropout mask output", ErrUnsupportedOp)
	}
	return compilePassthrough(n)
}

func compileCast(n *Node) (kernel, error) {
	to := onnx.DataType(n.attrInt("to", 0))
	target, err := dtypeOf(to)
	if err != nil {
		return nil, err
	}
	return func(_ *runContext, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		return single(castTo(in[0], target))
	}, nil
}

func castTo(t *tensor.Tensor, target tensor.DType) (*tensor.Tensor, error) {
	if t.DType() == target {
		return t, nil
	}
	if target == tensor.Float32 {
		return tensor.NewFloat32(t.Shape(), t.AsFloat32())
	}
	src := t.Float32s()
	out := make([]int64, len(src))
	for i, v := range src {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("cannot cast %v to int64", v)
		}
		out[i] = int64(v) // truncates toward zero
	}
	return tensor.NewInt64(t.Shape(), out)
}

func compileConstant(n *Node) (kernel, error) {
	var (
		t   *tensor.Tensor
		err error
	)
	switch {
	case n.hasAttr("value"):
		a := n.Attrs["value"]
		if a.T == nil {
			return nil, fmt.Errorf("%w: constant value is not a tensor", ErrInvalidGraph)
		}
		t, err = ConvertTensor(a.T)
	case n.hasAttr("value_float"):
		t, err = tensor.NewFloat32(nil, []float32{n.attrFloat("value_float", 0)})
	case n.hasAttr("value_floats"):
		v := append([]float32(nil), n.attrFloats("value_floats")...)
		t, err = tensor.NewFloat32([]int{len(v)}, v)
	case n.hasAttr("value_int"):
		t, err = tensor.NewInt64(nil, []int64{n.attrInt("value_int", 0)})
	case n.hasAttr("value_ints"):
		v := append([]int64(nil), n.attrInts("value_ints")...)
		t, err = tensor.NewInt64([]int{len(v)}, v)
	default:
		return nil, fmt.Errorf("%w: constant without a supported value attribute", ErrUnsupportedOp)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}
	return func(*runContext, []*tensor.Tensor) ([]*tensor.Tensor, error) {
		return one(t), nil
	}, nil
}

func compileReshape(n *Node) (kernel, error) {
	if n.attrInt("allowzero", 0) != 0 {
		return nil, fmt.Errorf("%w: reshape allowzero", ErrUnsupportedOp)
	}
	return func(_ *runContext, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if err := want(in[1], tensor.Int64, "shape"); err != nil {
			return nil, err
		}
		shape, err := resolveReshape(in[0].Shape(), in[1].Int64s(), in[0].Len())
		if err != nil {
			return nil, err
		}
		return single(in[0].Reshaped(shape))
	}, nil
}

// resolveReshape expands 0 (copy input dim) and a single -1 (infer).
func resolveReshape(inShape []int, spec []int64, size int) ([]int, error) {
	out := make([]int, len(spec))
	infer := -1
	known := 1
	for i, d := range spec {
		switch {
		case d == 0:
			if i >= len(inShape) {
				return nil, fmt.Errorf("reshape copies missing dimension %d", i)
			}
			out[i] = inShape[i]
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("reshape has more than one -1")
			}
			infer = i
			continue
		case d < 0:
			return nil, fmt.Errorf("reshape dimension %d is invalid", d)
		default:
			out[i] = int(d)
		}
		known *= out[i]
	}
	if infer >= 0 {
		if known == 0 || size%known != 0 {
			return nil, fmt.Errorf("cannot infer reshape of %d elements into %v", size, spec)
		}
		out[infer] = size / known
	}
	return out, nil
}

func compileFlatten(n *Node) (kernel, error) {
	axis := int(n.attrInt("axis", 1))
	return func(_ *runContext, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		shape := in[0].Shape()
		a := axis
		if a < 0 {
			a += len(shape)
		}
		if a < 0 || a > len(shape) {
			return nil, fmt.Errorf("flatten axis %d out of range for rank %d", axis, len(shape))
		}
		outer := tensor.Size(shape[:a])
		return single(in[0].Reshaped([]int{outer, tensor.Size(shape[a:])}))
	}, nil
}

func compileConcat(n *Node) (kernel, error) {
	if !n.hasAttr("axis") {
		return nil, fmt.Errorf("%w: concat requires axis", ErrInvalidGraph)
	}
	axis := int(n.attrInt("axis", 0))
	return func(_ *runContext, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		first := in[0]
		rank := first.Rank()
		a := axis
		if a < 0 {
			a += rank
		}
		if a < 0 || a >= rank {
			return nil, fmt.Errorf("concat axis %d out of range for rank %d", axis, rank)
		}

		shape := first.Shape()
		total := 0
		for i, t := range in {
			if t == nil {
				return nil, fmt.Errorf("concat input %d is missing", i)
			}
			if t.DType() != first.DType() || t.Rank() != rank {
				return nil, fmt.Errorf("concat input %d is %s, want %s of rank %d", i, t, first.DType(), rank)
			}
			for d := range rank {
				if d != a && t.Dim(d) != shape[d] {
					return nil, fmt.Errorf("concat input %d shape %v mismatches %v", i, t.Shape(), shape)
				}
			}
			total += t.Dim(a)
		}
		shape[a] = total

		outer := tensor.Size(shape[:a])
		inner := tensor.Size(shape[a+1:])
		if first.DType() == tensor.Float32 {
			out := make([]float32, 0, tensor.Size(shape))
			for o := range outer {
				for _, t := range in {
					chunk := t.Dim(a) * inner
					out = append(out, t.Float32s()[o*chunk:(o+1)*chunk]...)
				}
			}
			return single(tensor.NewFloat32(shape, out))
		}
		out := make([]int64, 0, tensor.Size(shape))
		for o := range outer {
			for _, t := range in {
				chunk := t.Dim(a) * inner
				out = append(out, t.Int64s()[o*chunk:(o+1)*chunk]...)
			}
		}
		return single(tensor.NewInt64(shape, out))
	}, nil
}
