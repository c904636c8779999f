package graph

import (
	"fmt"

	"github.com/kailas-cloud/addrscore/internal/onnx"
	"github.com/kailas-cloud/addrscore/internal/tensor"
)

// Build converts a decoded model into a Graph. Initializers become
// constants; inputs shadowed by an initializer are dropped.
func Build(m *onnx.Model) (*Graph, error) {
	if m == nil || m.Graph == nil {
		return nil, fmt.Errorf("%w: model has no graph", ErrInvalidGraph)
	}
	src := m.Graph

	g := &Graph{
		Constants: make(map[string]*tensor.Tensor, len(src.Initializers)),
		Opsets:    make(map[string]int64, len(m.OpsetImports)),
	}
	for _, o := range m.OpsetImports {
		g.Opsets[normalizeDomain(o.Domain)] = o.Version
	}

	for i := range src.Initializers {
		init := &src.Initializers[i]
		if init.Name == "" {
			return nil, fmt.Errorf("%w: initializer %d has no name", ErrInvalidGraph, i)
		}
		t, err := ConvertTensor(init)
		if err != nil {
			return nil, fmt.Errorf("%w: initializer %q: %w", ErrInvalidGraph, init.Name, err)
		}
		g.Constants[init.Name] = t
	}

	for _, vi := range src.Inputs {
		if _, ok := g.Constants[vi.Name]; ok {
			continue
		}
		v, err := convertValue(vi)
		if err != nil {
			return nil, fmt.Errorf("%w: input %q: %w", ErrInvalidGraph, vi.Name, err)
		}
		g.Inputs = append(g.Inputs, v)
	}
	for _, vi := range src.Outputs {
		v, err := convertValue(vi)
		if err != nil {
			return nil, fmt.Errorf("%w: output %q: %w", ErrInvalidGraph, vi.Name, err)
		}
		g.Outputs = append(g.Outputs, v)
	}
	if len(g.Outputs) == 0 {
		return nil, fmt.Errorf("%w: graph declares no outputs", ErrInvalidGraph)
	}

	for i := range src.Nodes {
		sn := &src.Nodes[i]
		n := &Node{
			Name:    sn.Name,
			Op:      sn.OpType,
			Domain:  normalizeDomain(sn.Domain),
			Inputs:  append([]string(nil), sn.Inputs...),
			Outputs: append([]string(nil), sn.Outputs...),
			Attrs:   make(map[string]onnx.Attribute, len(sn.Attributes)),
		}
		if n.Name == "" {
			n.Name = fmt.Sprintf("%s_%d", n.Op, i)
		}
		for _, a := range sn.Attributes {
			n.Attrs[a.Name] = a
		}
		g.Nodes = append(g.Nodes, n)
	}

	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// validate checks that every value has exactly one source and every read
// has a source.
func (g *Graph) validate() error {
	defined := make(map[string]bool, len(g.Constants)+len(g.Inputs))
	for name := range g.Constants {
		defined[name] = true
	}
	for _, in := range g.Inputs {
		if defined[in.Name] {
			return fmt.Errorf("%w: value %q defined twice", ErrInvalidGraph, in.Name)
		}
		defined[in.Name] = true
	}
	for _, n := range g.Nodes {
		if len(n.Outputs) == 0 {
			return fmt.Errorf("%w: node %s has no outputs", ErrInvalidGraph, n)
		}
		for _, o := range n.Outputs {
			if o == "" {
				continue
			}
			if defined[o] {
				return fmt.Errorf("%w: value %q defined twice", ErrInvalidGraph, o)
			}
			defined[o] = true
		}
	}
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			if in != "" && !defined[in] {
				return fmt.Errorf("%w: node %s reads undefined value %q", ErrInvalidGraph, n, in)
			}
		}
	}
	for _, o := range g.Outputs {
		if !defined[o.Name] {
			return fmt.Errorf("%w: output %q is never produced", ErrInvalidGraph, o.Name)
		}
	}
	return nil
}

// ConvertTensor turns an ONNX tensor into a runtime tensor. Floating types
// narrow to float32; integer and bool types widen to int64.
func ConvertTensor(t *onnx.Tensor) (*tensor.Tensor, error) {
	shape, err := t.Shape()
	if err != nil {
		return nil, err
	}
	switch {
	case t.DataType.IsFloat():
		data, err := t.Float32s()
		if err != nil {
			return nil, err
		}
		return tensor.NewFloat32(shape, data)
	default:
		data, err := t.Int64s()
		if err != nil {
			return nil, err
		}
		return tensor.NewInt64(shape, data)
	}
}

func convertValue(vi onnx.ValueInfo) (Value, error) {
	v := Value{Name: vi.Name}
	if !vi.IsTensor {
		return v, fmt.Errorf("%w: non-tensor value", ErrUnsupportedOp)
	}
	dt, err := dtypeOf(vi.ElemType)
	if err != nil {
		return v, err
	}
	v.DType = dt
	if vi.HasShape {
		v.HasShape = true
		v.Shape = make([]int, len(vi.Shape))
		for i, d := range vi.Shape {
			if d.Known && d.Param == "" && d.Value >= 0 {
				v.Shape[i] = int(d.Value)
			} else {
				v.Shape[i] = -1
			}
		}
	}
	return v, nil
}

func dtypeOf(dt onnx.DataType) (tensor.DType, error) {
	switch dt {
	case onnx.DataTypeFloat, onnx.DataTypeDouble:
		return tensor.Float32, nil
	case onnx.DataTypeInt64, onnx.DataTypeInt32, onnx.DataTypeInt16, onnx.DataTypeInt8,
		onnx.DataTypeUint8, onnx.DataTypeUint16, onnx.DataTypeUint32, onnx.DataTypeBool:
		return tensor.Int64, nil
	default:
		return 0, fmt.Errorf("%w: element type %d", ErrUnsupportedOp, dt)
	}
}

func normalizeDomain(d string) string {
	if d == "ai.onnx" {
		return ""
	}
	return d
}
