// Package graph is the in-memory model representation and the runtime that
// optimizes it and compiles it into a reusable execution plan.
package graph

import (
	"errors"
	"fmt"

	"github.com/kailas-cloud/addrscore/internal/onnx"
	"github.com/kailas-cloud/addrscore/internal/tensor"
)

var (
	// ErrInvalidGraph signals a structurally broken graph.
	ErrInvalidGraph = errors.New("invalid graph")
	// ErrUnsupportedOp signals an operator or attribute combination the runtime cannot lower.
	ErrUnsupportedOp = errors.New("unsupported operator")
	// ErrBinding signals an input or output that cannot be bound to the plan.
	ErrBinding = errors.New("binding failed")
	// ErrNoEntropy signals an operator that needs randomness where none is available.
	ErrNoEntropy = errors.New("entropy unavailable")
)

// Node is one operator application. An empty input name is a missing
// optional input.
type Node struct {
	Name    string
	Op      string
	Domain  string
	Inputs  []string
	Outputs []string
	Attrs   map[string]onnx.Attribute
}

// Value describes a graph input or output. A negative dimension is symbolic.
type Value struct {
	Name     string
	DType    tensor.DType
	Shape    []int
	HasShape bool
}

// Graph is a model ready for optimization. Nodes may be in any order.
type Graph struct {
	Nodes     []*Node
	Constants map[string]*tensor.Tensor
	Inputs    []Value
	Outputs   []Value
	Opsets    map[string]int64
}

func (n *Node) String() string {
	if n.Domain != "" {
		return fmt.Sprintf("%s.%s(%s)", n.Domain, n.Op, n.Name)
	}
	return fmt.Sprintf("%s(%s)", n.Op, n.Name)
}

func (n *Node) attrInt(name string, def int64) int64 {
	if a, ok := n.Attrs[name]; ok {
		return a.I
	}
	return def
}

func (n *Node) attrFloat(name string, def float32) float32 {
	if a, ok := n.Attrs[name]; ok {
		return a.F
	}
	return def
}

func (n *Node) attrString(name, def string) string {
	if a, ok := n.Attrs[name]; ok {
		return string(a.S)
	}
	return def
}

func (n *Node) attrInts(name string) []int64 {
	return n.Attrs[name].Ints
}

func (n *Node) attrFloats(name string) []float32 {
	return n.Attrs[name].Floats
}

func (n *Node) attrStrings(name string) []string {
	raw := n.Attrs[name].Strings
	out := make([]string, len(raw))
	for i, s := range raw {
		out[i] = string(s)
	}
	return out
}

func (n *Node) hasAttr(name string) bool {
	_, ok := n.Attrs[name]
	return ok
}

// output returns the i-th output name, or "" when the node does not bind it.
func (n *Node) output(i int) string {
	if i < len(n.Outputs) {
		return n.Outputs[i]
	}
	return ""
}

// IsOutput reports whether name is a graph output.
func (g *Graph) IsOutput(name string) bool {
	for _, o := range g.Outputs {
		if o.Name == name {
			return true
		}
	}
	return false
}

func (g *Graph) isInput(name string) bool {
	for _, in := range g.Inputs {
		if in.Name == name {
			return true
		}
	}
	return false
}

// producers maps each value name to the node that writes it.
func (g *Graph) producers() map[string]*Node {
	out := make(map[string]*Node)
	for _, n := range g.Nodes {
		for _, o := range n.Outputs {
			if o != "" {
				out[o] = n
			}
		}
	}
	return out
}

// consumers counts node inputs reading each value name.
func (g *Graph) consumers() map[string][]*Node {
	out := make(map[string][]*Node)
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			if in != "" {
				out[in] = append(out[in], n)
			}
		}
	}
	return out
}

// rename rewrites every node input named from to to.
func (g *Graph) rename(from, to string) {
	for _, n := range g.Nodes {
		for i, in := range n.Inputs {
			if in == from {
				n.Inputs[i] = to
			}
		}
	}
}
