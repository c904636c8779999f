package graph

import (
	"fmt"
	"io"

	"github.com/kailas-cloud/addrscore/internal/tensor"
)

const domainML = "ai.onnx.ml"

// runContext carries per-run collaborators into kernels.
type runContext struct {
	entropy io.Reader
}

// kernel evaluates one compiled node. A nil entry in in is a missing
// optional input. Kernels must not write to their inputs.
type kernel func(rc *runContext, in []*tensor.Tensor) ([]*tensor.Tensor, error)

type opSpec struct {
	minIn, maxIn int
	// random marks operators that consume entropy and must never be folded.
	random  bool
	compile func(n *Node) (kernel, error)
}

type opKey struct {
	domain string
	op     string
}

var registry = map[opKey]opSpec{}

func register(domain, op string, spec opSpec) {
	registry[opKey{domain: domain, op: op}] = spec
}

// lookup resolves n against the registry and checks its arity.
func lookup(n *Node) (opSpec, error) {
	spec, ok := registry[opKey{domain: n.Domain, op: n.Op}]
	if !ok {
		return opSpec{}, fmt.Errorf("%w: %s", ErrUnsupportedOp, n)
	}
	// Trailing missing optionals do not count toward arity.
	count := len(n.Inputs)
	for count > 0 && n.Inputs[count-1] == "" {
		count--
	}
	if count < spec.minIn || count > spec.maxIn {
		return opSpec{}, fmt.Errorf("%w: %s takes %d..%d inputs, got %d",
			ErrInvalidGraph, n, spec.minIn, spec.maxIn, count)
	}
	for i := 0; i < spec.minIn; i++ {
		if n.Inputs[i] == "" {
			return opSpec{}, fmt.Errorf("%w: %s input %d is required", ErrInvalidGraph, n, i)
		}
	}
	return spec, nil
}

// compileNode looks up and compiles n.
func compileNode(n *Node) (kernel, opSpec, error) {
	spec, err := lookup(n)
	if err != nil {
		return nil, spec, err
	}
	k, err := spec.compile(n)
	if err != nil {
		return nil, spec, fmt.Errorf("%s: %w", n, err)
	}
	return k, spec, nil
}

// SupportedOps lists registered operators as domain-qualified names.
func SupportedOps() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		if k.domain == "" {
			out = append(out, k.op)
		} else {
			out = append(out, k.domain+"."+k.op)
		}
	}
	return out
}

func want(in *tensor.Tensor, dt tensor.DType, what string) error {
	if in == nil {
		return fmt.Errorf("%s is missing", what)
	}
	if in.DType() != dt {
		return fmt.Errorf("%s must be %s, got %s", what, dt, in.DType())
	}
	return nil
}

func one(t *tensor.Tensor) []*tensor.Tensor { return []*tensor.Tensor{t} }

func single(t *tensor.Tensor, err error) ([]*tensor.Tensor, error) {
	if err != nil {
		return nil, err
	}
	return one(t), nil
}
