package graph

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/kailas-cloud/addrscore/internal/onnx"
	"github.com/kailas-cloud/addrscore/internal/tensor"
)

// Random operators draw every sample from the run's entropy source. The
// seed attribute is ignored so that results never come from a hidden PRNG.
func init() {
	register("", "RandomUniform", opSpec{maxIn: 0, random: true, compile: compileRandom(false, false)})
	register("", "RandomNormal", opSpec{maxIn: 0, random: true, compile: compileRandom(true, false)})
	register("", "RandomUniformLike", opSpec{minIn: 1, maxIn: 1, random: true, compile: compileRandom(false, true)})
	register("", "RandomNormalLike", opSpec{minIn: 1, maxIn: 1, random: true, compile: compileRandom(true, true)})
}

func compileRandom(normal, like bool) func(*Node) (kernel, error) {
	return func(n *Node) (kernel, error) {
		if dt := onnx.DataType(n.attrInt("dtype", int64(onnx.DataTypeFloat))); dt != onnx.DataTypeFloat {
			return nil, fmt.Errorf("%w: random dtype %d", ErrUnsupportedOp, dt)
		}
		var fixed []int
		if !like {
			for _, d := range n.attrInts("shape") {
				if d < 0 {
					return nil, fmt.Errorf("%w: negative random shape", ErrInvalidGraph)
				}
				fixed = append(fixed, int(d))
			}
		}
		lo, hi := n.attrFloat("low", 0), n.attrFloat("high", 1)
		mean, scale := n.attrFloat("mean", 0), n.attrFloat("scale", 1)

		return func(rc *runContext, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			shape := fixed
			if like {
				shape = in[0].Shape()
			}
			if rc == nil || rc.entropy == nil {
				return nil, ErrNoEntropy
			}
			out := make([]float32, tensor.Size(shape))
			for i := range out {
				u, err := uniform(rc.entropy)
				if err != nil {
					return nil, err
				}
				if !normal {
					out[i] = lo + float32(u)*(hi-lo)
					continue
				}
				v, err := uniform(rc.entropy)
				if err != nil {
					return nil, err
				}
				// Box-Muller; u is shifted away from zero for the log.
				z := math.Sqrt(-2*math.Log(1-u)) * math.Cos(2*math.Pi*v)
				out[i] = mean + scale*float32(z)
			}
			return single(tensor.NewFloat32(shape, out))
		}, nil
	}
}

// uniform reads one sample in [0, 1) from r.
func uniform(r io.Reader) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoEntropy, err)
	}
	return float64(binary.LittleEndian.Uint64(buf[:])>>11) / (1 << 53), nil
}
