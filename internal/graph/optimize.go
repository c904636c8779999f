package graph

import (
	"fmt"

	"github.com/kailas-cloud/addrscore/internal/tensor"
)

// Stats counts what Optimize changed.
type Stats struct {
	Eliminated int // no-op nodes removed
	Folded     int // nodes replaced by constants
	Fused      int // MatMul+Add pairs turned into Gemm
	Pruned     int // nodes and constants no output depends on
}

// Optimize rewrites g in place into an equivalent, leaner graph. Every
// node must be supported by the runtime; the first one that is not fails
// the whole pass.
func Optimize(g *Graph) (Stats, error) {
	var st Stats
	for _, n := range g.Nodes {
		if _, _, err := compileNode(n); err != nil {
			return st, err
		}
	}

	st.Eliminated = g.eliminateNoOps()
	st.Pruned = g.prune()

	folded, err := g.foldConstants()
	if err != nil {
		return st, err
	}
	st.Folded = folded
	st.Fused = g.fuseMatMulAdd()
	st.Pruned += g.prune()
	return st, nil
}

func isNoOp(n *Node) bool {
	switch {
	case n.Domain != "":
		return false
	case n.Op == "Identity":
		return true
	case n.Op == "Dropout":
		return n.output(1) == ""
	default:
		return false
	}
}

// eliminateNoOps bypasses Identity and inference-mode Dropout nodes.
func (g *Graph) eliminateNoOps() int {
	removed := 0
	kept := make([]*Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if !isNoOp(n) {
			kept = append(kept, n)
			continue
		}
		in, out := n.Inputs[0], n.Outputs[0]
		if !g.IsOutput(out) {
			g.rename(out, in)
			removed++
			continue
		}
		// A graph output must keep its name, so the producer of the input
		// is renamed instead, when that is unambiguous.
		if prod := g.producers()[in]; prod != nil && !g.IsOutput(in) {
			for i, o := range prod.Outputs {
				if o == in {
					prod.Outputs[i] = out
				}
			}
			g.rename(in, out)
			removed++
			continue
		}
		kept = append(kept, n)
	}
	g.Nodes = kept
	return removed
}

// foldConstants evaluates, until nothing changes, every deterministic node
// whose inputs are all constants.
func (g *Graph) foldConstants() (int, error) {
	folded := 0
	for {
		progress := false
		kept := make([]*Node, 0, len(g.Nodes))
		for _, n := range g.Nodes {
			outs, ok, err := g.tryFold(n)
			if err != nil {
				return folded, err
			}
			if !ok {
				kept = append(kept, n)
				continue
			}
			for i, name := range n.Outputs {
				if name != "" && i < len(outs) {
					g.Constants[name] = outs[i]
				}
			}
			folded++
			progress = true
		}
		g.Nodes = kept
		if !progress {
			return folded, nil
		}
	}
}

func (g *Graph) tryFold(n *Node) (outs []*tensor.Tensor, ok bool, err error) {
	k, spec, err := compileNode(n)
	if err != nil {
		return nil, false, err
	}
	if spec.random {
		return nil, false, nil
	}
	in := make([]*tensor.Tensor, len(n.Inputs))
	for i, name := range n.Inputs {
		if name == "" {
			continue
		}
		c, isConst := g.Constants[name]
		if !isConst {
			return nil, false, nil
		}
		in[i] = c
	}

	outs, err = invoke(k, &runContext{}, in)
	if err != nil {
		return nil, false, fmt.Errorf("%w: folding %s: %w", ErrInvalidGraph, n, err)
	}
	for i, name := range n.Outputs {
		if name != "" && (i >= len(outs) || outs[i] == nil) {
			return nil, false, fmt.Errorf("%w: folding %s: output %d not produced", ErrInvalidGraph, n, i)
		}
	}
	return outs, true, nil
}

// fuseMatMulAdd rewrites MatMul(A, B) followed by Add(., C) into Gemm(A, B, C)
// when B is a constant matrix and C a constant row bias.
func (g *Graph) fuseMatMulAdd() int {
	fused := 0
	consumers := g.consumers()
	producers := g.producers()
	drop := make(map[*Node]bool)

	for _, add := range g.Nodes {
		if add.Op != "Add" || add.Domain != "" || len(add.Inputs) != 2 {
			continue
		}
		for side := range 2 {
			mid, biasName := add.Inputs[side], add.Inputs[1-side]
			mm := producers[mid]
			if mm == nil || mm.Op != "MatMul" || mm.Domain != "" || drop[mm] {
				continue
			}
			if len(consumers[mid]) != 1 || g.IsOutput(mid) {
				continue
			}
			b, okB := g.Constants[mm.Inputs[1]]
			bias, okC := g.Constants[biasName]
			if !okB || !okC || b.Rank() != 2 || b.DType() != tensor.Float32 || bias.DType() != tensor.Float32 {
				continue
			}
			if !isRowBias(bias.Shape(), b.Dim(1)) {
				continue
			}

			add.Op = "Gemm"
			add.Inputs = []string{mm.Inputs[0], mm.Inputs[1], biasName}
			add.Attrs = nil
			drop[mm] = true
			fused++
			break
		}
	}

	if fused > 0 {
		kept := make([]*Node, 0, len(g.Nodes))
		for _, n := range g.Nodes {
			if !drop[n] {
				kept = append(kept, n)
			}
		}
		g.Nodes = kept
	}
	return fused
}

// isRowBias reports whether shape broadcasts along rows of an [M, n] result
// for any M: [n], [1, n], [1] or a scalar.
func isRowBias(shape []int, n int) bool {
	switch len(shape) {
	case 0:
		return true
	case 1:
		return shape[0] == n || shape[0] == 1
	case 2:
		return shape[0] == 1 && (shape[1] == n || shape[1] == 1)
	default:
		return false
	}
}

// prune drops nodes and constants that no graph output depends on.
func (g *Graph) prune() int {
	needed := make(map[string]bool)
	for _, o := range g.Outputs {
		needed[o.Name] = true
	}
	producers := g.producers()
	stack := make([]string, 0, len(needed))
	for name := range needed {
		stack = append(stack, name)
	}
	live := make(map[*Node]bool)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := producers[name]
		if n == nil || live[n] {
			continue
		}
		live[n] = true
		for _, in := range n.Inputs {
			if in != "" && !needed[in] {
				needed[in] = true
				stack = append(stack, in)
			}
		}
	}

	removed := 0
	kept := make([]*Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if live[n] {
			kept = append(kept, n)
		} else {
			removed++
		}
	}
	g.Nodes = kept
	for name := range g.Constants {
		if !needed[name] {
			delete(g.Constants, name)
			removed++
		}
	}
	return removed
}
