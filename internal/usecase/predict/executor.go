package predict

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/addrscore/internal/domain"
	"github.com/kailas-cloud/addrscore/internal/domain/feature"
	"github.com/kailas-cloud/addrscore/internal/domain/verdict"
	"github.com/kailas-cloud/addrscore/internal/model"
	"github.com/kailas-cloud/addrscore/internal/tensor"
)

// probabilityOutput is the graph output holding [P(licit), P(illicit)].
const probabilityOutput = 1

// Execute binds vec as the single 1×66 input, runs one forward pass and
// reads the illicit-class probability. Nothing is retried.
func Execute(r Runner, vec feature.Vector) (verdict.Verdict, error) {
	x, err := tensor.NewFloat32(vec.Shape(), vec.Values())
	if err != nil {
		return verdict.Verdict{}, fmt.Errorf("%w: bind input: %w", domain.ErrRunFailed, err)
	}

	out, err := r.Run(x)
	if err != nil {
		return verdict.Verdict{}, fmt.Errorf("%w: %w", domain.ErrRunFailed, err)
	}

	p, err := illicitProbability(out)
	if err != nil {
		return verdict.Verdict{}, err
	}
	return verdict.New(p)
}

func illicitProbability(out []*tensor.Tensor) (float32, error) {
	if len(out) < model.MinOutputs {
		return 0, fmt.Errorf("%w: got %d outputs, want at least %d",
			domain.ErrBadOutputShape, len(out), model.MinOutputs)
	}
	probs := out[probabilityOutput]
	if probs == nil {
		return 0, fmt.Errorf("%w: probability output is missing", domain.ErrBadOutputShape)
	}
	if probs.DType() != tensor.Float32 {
		return 0, fmt.Errorf("%w: probability output is %s, want float32",
			domain.ErrBadOutputShape, probs.DType())
	}
	if !twoClassShape(probs.Shape()) {
		return 0, fmt.Errorf("%w: probability output has shape %v, want [2] or [1 2]",
			domain.ErrBadOutputShape, probs.Shape())
	}

	p := probs.Float32s()[1]
	if math.IsNaN(float64(p)) || math.IsInf(float64(p), 0) {
		return 0, fmt.Errorf("%w: probability is %v", domain.ErrBadOutputShape, p)
	}
	return p, nil
}

func twoClassShape(shape []int) bool {
	switch len(shape) {
	case 1:
		return shape[0] == 2
	case 2:
		return shape[0] == 1 && shape[1] == 2
	default:
		return false
	}
}
