package graph

import (
	"fmt"
	"io"

	"github.com/kailas-cloud/addrscore/internal/tensor"
)

// Option configures Compile.
type Option func(*compileOptions)

type compileOptions struct {
	shapes  map[string][]int
	entropy io.Reader
}

// WithInputShape fixes the runtime shape of a graph input. The shape must
// be compatible with the declared one; Run then requires exactly this shape.
func WithInputShape(name string, shape []int) Option {
	return func(o *compileOptions) {
		o.shapes[name] = append([]int(nil), shape...)
	}
}

// WithEntropy sets the source random operators draw from. Without it they
// fail with ErrNoEntropy.
func WithEntropy(r io.Reader) Option {
	return func(o *compileOptions) {
		o.entropy = r
	}
}

type step struct {
	node string
	run  kernel
	in   []int // -1 for a missing optional input
	out  []int // -1 for an unbound output
}

type binding struct {
	Value
	slot int
}

// Plan is a compiled graph. It is immutable and safe for concurrent Run calls.
type Plan struct {
	steps   []step
	slots   int
	preset  []*tensor.Tensor // constants by slot
	inputs  []binding
	outputs []binding
	entropy io.Reader
	random  bool
}

// Compile orders g topologically, assigns value slots and binds inputs and
// outputs. When every input shape is known the plan is dry-run once with
// zeros so that shape errors surface here rather than on the first Run.
func Compile(g *Graph, opts ...Option) (*Plan, error) {
	o := compileOptions{shapes: make(map[string][]int)}
	for _, opt := range opts {
		opt(&o)
	}

	order, err := topoSort(g)
	if err != nil {
		return nil, err
	}

	p := &Plan{entropy: o.entropy}
	slotOf := make(map[string]int)
	alloc := func(name string) int {
		if s, ok := slotOf[name]; ok {
			return s
		}
		slotOf[name] = p.slots
		p.slots++
		return p.slots - 1
	}

	for _, in := range g.Inputs {
		b := binding{Value: in, slot: alloc(in.Name)}
		if shape, ok := o.shapes[in.Name]; ok {
			if in.HasShape && !compatible(in.Shape, shape) {
				return nil, fmt.Errorf("%w: input %q declared %v, bound %v", ErrBinding, in.Name, in.Shape, shape)
			}
			b.Shape, b.HasShape = shape, true
		}
		p.inputs = append(p.inputs, b)
	}
	for name := range o.shapes {
		if !g.isInput(name) {
			return nil, fmt.Errorf("%w: %q is not a graph input", ErrBinding, name)
		}
	}

	constSlots := make(map[int]*tensor.Tensor)
	for name, t := range g.Constants {
		constSlots[alloc(name)] = t
	}

	for _, n := range order {
		k, spec, err := compileNode(n)
		if err != nil {
			return nil, err
		}
		st := step{node: n.String(), run: k}
		for _, in := range n.Inputs {
			if in == "" {
				st.in = append(st.in, -1)
				continue
			}
			st.in = append(st.in, alloc(in))
		}
		for _, out := range n.Outputs {
			if out == "" {
				st.out = append(st.out, -1)
				continue
			}
			st.out = append(st.out, alloc(out))
		}
		p.random = p.random || spec.random
		p.steps = append(p.steps, st)
	}

	for _, out := range g.Outputs {
		s, ok := slotOf[out.Name]
		if !ok {
			return nil, fmt.Errorf("%w: output %q is never produced", ErrBinding, out.Name)
		}
		p.outputs = append(p.outputs, binding{Value: out, slot: s})
	}

	p.preset = make([]*tensor.Tensor, p.slots)
	for s, t := range constSlots {
		p.preset[s] = t
	}

	if err := p.dryRun(); err != nil {
		return nil, err
	}
	return p, nil
}

// dryRun runs the plan once on zero inputs when every input shape is fixed
// and no step needs entropy.
func (p *Plan) dryRun() error {
	if p.random {
		return nil
	}
	zeros := make([]*tensor.Tensor, len(p.inputs))
	for i, b := range p.inputs {
		if !b.HasShape {
			return nil
		}
		for _, d := range b.Shape {
			if d < 0 {
				return nil
			}
		}
		zeros[i] = tensor.Zeros(b.DType, b.Shape)
	}
	if _, err := p.Run(zeros...); err != nil {
		return fmt.Errorf("%w: shape resolution: %w", ErrBinding, err)
	}
	return nil
}

// compatible reports whether shape satisfies declared, where negative
// declared dimensions match anything.
func compatible(declared, shape []int) bool {
	if len(declared) != len(shape) {
		return false
	}
	for i, d := range declared {
		if d >= 0 && d != shape[i] {
			return false
		}
	}
	return true
}

// topoSort orders nodes so that every node follows its producers.
func topoSort(g *Graph) ([]*Node, error) {
	producers := g.producers()
	pending := make(map[*Node]int, len(g.Nodes))
	dependents := make(map[*Node][]*Node)
	for _, n := range g.Nodes {
		seen := make(map[*Node]bool)
		for _, in := range n.Inputs {
			src := producers[in]
			if in == "" || src == nil || seen[src] {
				continue
			}
			seen[src] = true
			pending[n]++
			dependents[src] = append(dependents[src], n)
		}
	}

	var queue, order []*Node
	for _, n := range g.Nodes {
		if pending[n] == 0 {
			queue = append(queue, n)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, d := range dependents[n] {
			pending[d]--
			if pending[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if len(order) != len(g.Nodes) {
		return nil, fmt.Errorf("%w: graph has a cycle", ErrInvalidGraph)
	}
	return order, nil
}

// Run executes the plan. Inputs follow InputNames order; outputs follow
// OutputNames order.
func (p *Plan) Run(inputs ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != len(p.inputs) {
		return nil, fmt.Errorf("%w: plan takes %d inputs, got %d", ErrBinding, len(p.inputs), len(inputs))
	}
	slots := make([]*tensor.Tensor, p.slots)
	copy(slots, p.preset)
	for i, b := range p.inputs {
		t := inputs[i]
		if t == nil {
			return nil, fmt.Errorf("%w: input %q is nil", ErrBinding, b.Name)
		}
		if t.DType() != b.DType {
			return nil, fmt.Errorf("%w: input %q must be %s, got %s", ErrBinding, b.Name, b.DType, t.DType())
		}
		if b.HasShape && !compatible(b.Shape, t.Shape()) {
			return nil, fmt.Errorf("%w: input %q must have shape %v, got %v", ErrBinding, b.Name, b.Shape, t.Shape())
		}
		slots[b.slot] = t
	}

	rc := &runContext{entropy: p.entropy}
	in := make([]*tensor.Tensor, 0, 4)
	for _, st := range p.steps {
		in = in[:0]
		for _, s := range st.in {
			if s < 0 {
				in = append(in, nil)
				continue
			}
			in = append(in, slots[s])
		}
		outs, err := invoke(st.run, rc, in)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", st.node, err)
		}
		for i, s := range st.out {
			if s < 0 {
				continue
			}
			if i >= len(outs) || outs[i] == nil {
				return nil, fmt.Errorf("%s: output %d not produced", st.node, i)
			}
			slots[s] = outs[i]
		}
	}

	result := make([]*tensor.Tensor, len(p.outputs))
	for i, b := range p.outputs {
		result[i] = slots[b.slot]
	}
	return result, nil
}

// invoke runs k, turning a kernel panic into an error.
func invoke(k kernel, rc *runContext, in []*tensor.Tensor) (outs []*tensor.Tensor, err error) {
	defer func() {
		if r := recover(); r != nil {
			outs, err = nil, fmt.Errorf("kernel panic: %v", r)
		}
	}()
	return k(rc, in)
}

// InputNames lists the runtime inputs in binding order.
func (p *Plan) InputNames() []string {
	out := make([]string, len(p.inputs))
	for i, b := range p.inputs {
		out[i] = b.Name
	}
	return out
}

// OutputNames lists the outputs in graph order.
func (p *Plan) OutputNames() []string {
	out := make([]string, len(p.outputs))
	for i, b := range p.outputs {
		out[i] = b.Name
	}
	return out
}

// Inputs describes the runtime inputs, including bound shapes.
func (p *Plan) Inputs() []Value {
	out := make([]Value, len(p.inputs))
	for i, b := range p.inputs {
		v := b.Value
		v.Shape = append([]int(nil), b.Shape...)
		out[i] = v
	}
	return out
}

// Steps returns the number of kernels a Run executes.
func (p *Plan) Steps() int { return len(p.steps) }
