package graph

import (
	"errors"
	"fmt"
	"math"

	"github.com/kailas-cloud/addrscore/internal/tensor"
)

var errDivideByZero = errors.New("integer division by zero")

func init() {
	register("", "Add", opSpec{minIn: 2, maxIn: 2, compile: compileBinary(binaryOp{
		f32: func(a, b float32) float32 { return a + b },
		i64: func(a, b int64) (int64, error) { return a + b, nil },
	})})
	register("", "Sub", opSpec{minIn: 2, maxIn: 2, compile: compileBinary(binaryOp{
		f32: func(a, b float32) float32 { return a - b },
		i64: func(a, b int64) (int64, error) { return a - b, nil },
	})})
	register("", "Mul", opSpec{minIn: 2, maxIn: 2, compile: compileBinary(binaryOp{
		f32: func(a, b float32) float32 { return a * b },
		i64: func(a, b int64) (int64, error) { return a * b, nil },
	})})
	register("", "Div", opSpec{minIn: 2, maxIn: 2, compile: compileBinary(binaryOp{
		f32: func(a, b float32) float32 { return a / b },
		i64: func(a, b int64) (int64, error) {
			if b == 0 {
				return 0, errDivideByZero
			}
			return a / b, nil
		},
	})})

	register("", "Relu", opSpec{minIn: 1, maxIn: 1, compile: compileUnary(func(v float32) float32 {
		return max(v, 0)
	})})
	register("", "Sigmoid", opSpec{minIn: 1, maxIn: 1, compile: compileUnary(sigmoid)})
	register("", "Tanh", opSpec{minIn: 1, maxIn: 1, compile: compileUnary(func(v float32) float32 {
		return float32(math.Tanh(float64(v)))
	})})

	register("", "MatMul", opSpec{minIn: 2, maxIn: 2, compile: compileMatMul})
	register("", "Gemm", opSpec{minIn: 2, maxIn: 3, compile: compileGemm})
	register("", "Softmax", opSpec{minIn: 1, maxIn: 1, compile: compileSoftmax})
	register("", "ArgMax", opSpec{minIn: 1, maxIn: 1, compile: compileArgMax})
}

func sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

func compileBinary(op binaryOp) func(*Node) (kernel, error) {
	return func(*Node) (kernel, error) {
		return func(_ *runContext, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			return single(elementwise(op, in[0], in[1]))
		}, nil
	}
}

func compileUnary(fn func(float32) float32) func(*Node) (kernel, error) {
	return func(*Node) (kernel, error) {
		return func(_ *runContext, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			return single(unaryFloat(in[0], fn))
		}, nil
	}
}

func compileMatMul(*Node) (kernel, error) {
	return func(_ *runContext, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		return single(gemm(in[0], in[1], nil, 1, 1, false, false))
	}, nil
}

func compileGemm(n *Node) (kernel, error) {
	alpha := n.attrFloat("alpha", 1)
	beta := n.attrFloat("beta", 1)
	transA := n.attrInt("transA", 0) != 0
	transB := n.attrInt("transB", 0) != 0
	return func(_ *runContext, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		var c *tensor.Tensor
		if len(in) > 2 {
			c = in[2]
		}
		return single(gemm(in[0], in[1], c, alpha, beta, transA, transB))
	}, nil
}

// gemm computes alpha*op(A)*op(B) + beta*C for rank-2 float operands, with
// C broadcast to the result.
func gemm(a, b, c *tensor.Tensor, alpha, beta float32, transA, transB bool) (*tensor.Tensor, error) {
	if err := want(a, tensor.Float32, "A"); err != nil {
		return nil, err
	}
	if err := want(b, tensor.Float32, "B"); err != nil {
		return nil, err
	}
	if a.Rank() != 2 || b.Rank() != 2 {
		return nil, fmt.Errorf("matrix product needs rank-2 operands, got %v and %v", a.Shape(), b.Shape())
	}

	m, k := a.Dim(0), a.Dim(1)
	if transA {
		m, k = k, m
	}
	kb, nn := b.Dim(0), b.Dim(1)
	if transB {
		kb, nn = nn, kb
	}
	if k != kb {
		return nil, fmt.Errorf("inner dimensions differ: %v x %v", a.Shape(), b.Shape())
	}

	av, bv := a.Float32s(), b.Float32s()
	at := func(i, j int) float32 {
		if transA {
			return av[j*m+i]
		}
		return av[i*k+j]
	}
	bt := func(i, j int) float32 {
		if transB {
			return bv[j*k+i]
		}
		return bv[i*nn+j]
	}

	out := make([]float32, m*nn)
	for i := range m {
		for j := range nn {
			var sum float32
			for p := range k {
				sum += at(i, p) * bt(p, j)
			}
			out[i*nn+j] = alpha * sum
		}
	}

	if c != nil && beta != 0 {
		if err := want(c, tensor.Float32, "C"); err != nil {
			return nil, err
		}
		shape, err := broadcastShape(c.Shape(), []int{m, nn})
		if err != nil || !tensor.SameShape(shape, []int{m, nn}) {
			return nil, fmt.Errorf("bias %v does not broadcast to [%d %d]", c.Shape(), m, nn)
		}
		cv := c.Float32s()
		broadcastIndex(c.Shape(), []int{m, nn}, []int{m, nn}, func(ic, _, io int) {
			out[io] += beta * cv[ic]
		})
	}
	return tensor.NewFloat32([]int{m, nn}, out)
}

func normalizeAxis(axis, rank int) (int, error) {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, fmt.Errorf("axis out of range for rank %d", rank)
	}
	return axis, nil
}

// axisSpan splits shape around axis into outer, axis length and inner counts.
func axisSpan(shape []int, axis int) (outer, n, inner int) {
	return tensor.Size(shape[:axis]), shape[axis], tensor.Size(shape[axis+1:])
}

func compileSoftmax(n *Node) (kernel, error) {
	axis := int(n.attrInt("axis", -1))
	return func(_ *runContext, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		if err := want(in[0], tensor.Float32, "input"); err != nil {
			return nil, err
		}
		a, err := normalizeAxis(axis, in[0].Rank())
		if err != nil {
			return nil, err
		}
		src := in[0].Float32s()
		out := make([]float32, len(src))
		outer, cnt, inner := axisSpan(in[0].Shape(), a)
		row := make([]float32, cnt)
		for o := range outer {
			for i := range inner {
				for c := range cnt {
					row[c] = src[(o*cnt+c)*inner+i]
				}
				softmaxInPlace(row)
				for c := range cnt {
					out[(o*cnt+c)*inner+i] = row[c]
				}
			}
		}
		return single(tensor.NewFloat32(in[0].Shape(), out))
	}, nil
}

func softmaxInPlace(v []float32) {
	if len(v) == 0 {
		return
	}
	hi := v[0]
	for _, x := range v[1:] {
		hi = max(hi, x)
	}
	var sum float64
	for i, x := range v {
		e := math.Exp(float64(x - hi))
		v[i] = float32(e)
		sum += e
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / sum)
	}
}

func compileArgMax(n *Node) (kernel, error) {
	axis := int(n.attrInt("axis", 0))
	keep := n.attrInt("keepdims", 1) != 0
	last := n.attrInt("select_last_index", 0) != 0
	return func(_ *runContext, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
		shape := in[0].Shape()
		a, err := normalizeAxis(axis, len(shape))
		if err != nil {
			return nil, err
		}
		src := in[0].AsFloat32()
		outer, cnt, inner := axisSpan(shape, a)
		if cnt == 0 {
			return nil, fmt.Errorf("argmax over empty axis")
		}
		out := make([]int64, outer*inner)
		for o := range outer {
			for i := range inner {
				best := 0
				for c := 1; c < cnt; c++ {
					v, b := src[(o*cnt+c)*inner+i], src[(o*cnt+best)*inner+i]
					if v > b || (last && v == b) {
						best = c
					}
				}
				out[o*inner+i] = int64(best)
			}
		}

		outShape := append([]int(nil), shape[:a]...)
		if keep {
			outShape = append(outShape, 1)
		}
		outShape = append(outShape, shape[a+1:]...)
		return single(tensor.NewInt64(outShape, out))
	}, nil
}
