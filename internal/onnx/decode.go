package onnx

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrNoGraph signals a well-formed message that carries no graph.
var ErrNoGraph = errors.New("model has no graph")

// maxNesting bounds graph attributes nested inside graphs.
const maxNesting = 16

// Decode parses a serialized ModelProto.
func Decode(b []byte) (*Model, error) {
	m := &Model{}
	err := fields(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.IRVersion, err = f.int64()
		case 2:
			m.ProducerName, err = f.string()
		case 3:
			m.ProducerVersion, err = f.string()
		case 4:
			m.Domain, err = f.string()
		case 5:
			m.ModelVersion, err = f.int64()
		case 6:
			m.DocString, err = f.string()
		case 7:
			var raw []byte
			if raw, err = f.message(); err == nil {
				m.Graph, err = decodeGraph(raw, 0)
			}
		case 8:
			var raw []byte
			if raw, err = f.message(); err == nil {
				var o OpsetID
				o, err = decodeOpset(raw)
				m.OpsetImports = append(m.OpsetImports, o)
			}
		case 14:
			var raw []byte
			if raw, err = f.message(); err == nil {
				var k, v string
				k, v, err = decodeStringEntry(raw)
				if err == nil {
					if m.Metadata == nil {
						m.Metadata = make(map[string]string)
					}
					m.Metadata[k] = v
				}
			}
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("model: %w", err)
	}
	if m.Graph == nil {
		return nil, ErrNoGraph
	}
	return m, nil
}

func decodeOpset(b []byte) (OpsetID, error) {
	var o OpsetID
	err := fields(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			o.Domain, err = f.string()
		case 2:
			o.Version, err = f.int64()
		}
		return err
	})
	if err != nil {
		return OpsetID{}, fmt.Errorf("opset_import: %w", err)
	}
	return o, nil
}

func decodeStringEntry(b []byte) (string, string, error) {
	var k, v string
	err := fields(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			k, err = f.string()
		case 2:
			v, err = f.string()
		}
		return err
	})
	if err != nil {
		return "", "", fmt.Errorf("metadata_props: %w", err)
	}
	return k, v, nil
}

func decodeGraph(b []byte, depth int) (*Graph, error) {
	if depth > maxNesting {
		return nil, fmt.Errorf("graph nesting deeper than %d", maxNesting)
	}
	g := &Graph{}
	err := fields(b, func(f field) error {
		var err error
		var raw []byte
		switch f.num {
		case 1:
			if raw, err = f.message(); err == nil {
				var n Node
				n, err = decodeNode(raw, depth)
				g.Nodes = append(g.Nodes, n)
			}
		case 2:
			g.Name, err = f.string()
		case 5:
			if raw, err = f.message(); err == nil {
				var t Tensor
				t, err = decodeTensor(raw)
				g.Initializers = append(g.Initializers, t)
			}
		case 10:
			g.DocString, err = f.string()
		case 11, 12, 13:
			if raw, err = f.message(); err == nil {
				var vi ValueInfo
				vi, err = decodeValueInfo(raw)
				switch f.num {
				case 11:
					g.Inputs = append(g.Inputs, vi)
				case 12:
					g.Outputs = append(g.Outputs, vi)
				default:
					g.ValueInfo = append(g.ValueInfo, vi)
				}
			}
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}
	return g, nil
}

func decodeNode(b []byte, depth int) (Node, error) {
	var n Node
	err := fields(b, func(f field) error {
		var err error
		var s string
		switch f.num {
		case 1:
			if s, err = f.string(); err == nil {
				n.Inputs = append(n.Inputs, s)
			}
		case 2:
			if s, err = f.string(); err == nil {
				n.Outputs = append(n.Outputs, s)
			}
		case 3:
			n.Name, err = f.string()
		case 4:
			n.OpType, err = f.string()
		case 5:
			var raw []byte
			if raw, err = f.message(); err == nil {
				var a Attribute
				a, err = decodeAttribute(raw, depth)
				n.Attributes = append(n.Attributes, a)
			}
		case 6:
			n.DocString, err = f.string()
		case 7:
			n.Domain, err = f.string()
		}
		return err
	})
	if err != nil {
		return Node{}, fmt.Errorf("node %q: %w", n.Name, err)
	}
	return n, nil
}

func decodeAttribute(b []byte, depth int) (Attribute, error) {
	var a Attribute
	err := fields(b, func(f field) error {
		var err error
		var raw []byte
		switch f.num {
		case 1:
			a.Name, err = f.string()
		case 20:
			var v int64
			v, err = f.int64()
			a.Type = AttributeType(v)
		case 2:
			a.F, err = f.float32()
		case 3:
			a.I, err = f.int64()
		case 4:
			a.S, err = f.bytes()
		case 5:
			if raw, err = f.message(); err == nil {
				var t Tensor
				t, err = decodeTensor(raw)
				a.T = &t
			}
		case 6:
			if raw, err = f.message(); err == nil {
				a.G, err = decodeGraph(raw, depth+1)
			}
		case 7:
			a.Floats, err = f.appendFloat32s(a.Floats)
		case 8:
			a.Ints, err = f.appendInt64s(a.Ints)
		case 9:
			if raw, err = f.bytes(); err == nil {
				a.Strings = append(a.Strings, raw)
			}
		case 10:
			if raw, err = f.message(); err == nil {
				var t Tensor
				t, err = decodeTensor(raw)
				a.Tensors = append(a.Tensors, t)
			}
		case 11:
			if raw, err = f.message(); err == nil {
				var g *Graph
				g, err = decodeGraph(raw, depth+1)
				if g != nil {
					a.Graphs = append(a.Graphs, *g)
				}
			}
		}
		return err
	})
	if err != nil {
		return Attribute{}, fmt.Errorf("attribute %q: %w", a.Name, err)
	}
	if a.Type == AttributeUndefined {
		a.Type = inferAttributeType(a)
	}
	return a, nil
}

// inferAttributeType fills Type for producers that predate the type field.
func inferAttributeType(a Attribute) AttributeType {
	switch {
	case a.T != nil:
		return AttributeTensor
	case a.G != nil:
		return AttributeGraph
	case len(a.Floats) > 0:
		return AttributeFloats
	case len(a.Ints) > 0:
		return AttributeInts
	case len(a.Strings) > 0:
		return AttributeStrings
	case len(a.Tensors) > 0:
		return AttributeTensors
	case a.S != nil:
		return AttributeString
	case a.F != 0:
		return AttributeFloat
	default:
		return AttributeInt
	}
}

func decodeTensor(b []byte) (Tensor, error) {
	var t Tensor
	err := fields(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			t.Dims, err = f.appendInt64s(t.Dims)
		case 2:
			var v int64
			v, err = f.int64()
			t.DataType = DataType(v)
		case 4:
			t.FloatData, err = f.appendFloat32s(t.FloatData)
		case 5:
			t.Int32Data, err = f.appendInt32s(t.Int32Data)
		case 6:
			var s []byte
			if s, err = f.bytes(); err == nil {
				t.StringData = append(t.StringData, s)
			}
		case 7:
			t.Int64Data, err = f.appendInt64s(t.Int64Data)
		case 8:
			t.Name, err = f.string()
		case 9:
			t.RawData, err = f.bytes()
		case 10:
			t.DoubleData, err = f.appendFloat64s(t.DoubleData)
		case 11:
			t.Uint64Data, err = f.appendUint64s(t.Uint64Data)
		case 12:
			t.DocString, err = f.string()
		case 14:
			var v int64
			v, err = f.int64()
			t.DataLocation = int32(v)
		}
		return err
	})
	if err != nil {
		return Tensor{}, fmt.Errorf("tensor %q: %w", t.Name, err)
	}
	return t, nil
}

func decodeValueInfo(b []byte) (ValueInfo, error) {
	var vi ValueInfo
	err := fields(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			vi.Name, err = f.string()
		case 2:
			var raw []byte
			if raw, err = f.message(); err == nil {
				err = decodeTypeProto(raw, &vi)
			}
		}
		return err
	})
	if err != nil {
		return ValueInfo{}, fmt.Errorf("value_info %q: %w", vi.Name, err)
	}
	return vi, nil
}

func decodeTypeProto(b []byte, vi *ValueInfo) error {
	return fields(b, func(f field) error {
		if f.num != 1 {
			return nil // sequence, map, optional and sparse types are not tensors
		}
		raw, err := f.message()
		if err != nil {
			return err
		}
		vi.IsTensor = true
		return fields(raw, func(f field) error {
			switch f.num {
			case 1:
				v, err := f.int64()
				vi.ElemType = DataType(v)
				return err
			case 2:
				shape, err := f.message()
				if err != nil {
					return err
				}
				vi.HasShape = true
				return fields(shape, func(f field) error {
					if f.num != 1 {
						return nil
					}
					dim, err := f.message()
					if err != nil {
						return err
					}
					d, err := decodeDimension(dim)
					vi.Shape = append(vi.Shape, d)
					return err
				})
			}
			return nil
		})
	})
}

func decodeDimension(b []byte) (Dimension, error) {
	var d Dimension
	err := fields(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			d.Value, err = f.int64()
			d.Known = true
		case 2:
			d.Param, err = f.string()
		}
		return err
	})
	return d, err
}

// field is one decoded key/value pair of a message.
type field struct {
	num     protowire.Number
	typ     protowire.Type
	varint  uint64
	fixed32 uint32
	fixed64 uint64
	raw     []byte
}

// fields walks the top-level fields of a message in wire order.
func fields(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			f.fixed32, n = protowire.ConsumeFixed32(b)
		case protowire.Fixed64Type:
			f.fixed64, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.raw, n = protowire.ConsumeBytes(b)
		case protowire.StartGroupType:
			_, n = protowire.ConsumeGroup(num, b)
		default:
			return fmt.Errorf("field %d: unexpected wire type %d", num, typ)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]

		if typ == protowire.StartGroupType {
			continue
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) want(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("field %d: wire type %d, want %d", f.num, f.typ, typ)
	}
	return nil
}

func (f field) int64() (int64, error) {
	if err := f.want(protowire.VarintType); err != nil {
		return 0, err
	}
	return int64(f.varint), nil
}

func (f field) float32() (float32, error) {
	if err := f.want(protowire.Fixed32Type); err != nil {
		return 0, err
	}
	return math.Float32frombits(f.fixed32), nil
}

func (f field) bytes() ([]byte, error) {
	if err := f.want(protowire.BytesType); err != nil {
		return nil, err
	}
	return f.raw, nil
}

func (f field) message() ([]byte, error) { return f.bytes() }

func (f field) string() (string, error) {
	b, err := f.bytes()
	return string(b), err
}

// Repeated scalars may arrive packed (one length-delimited field) or
// unpacked (one field per element); both must be accepted.

func (f field) appendInt64s(dst []int64) ([]int64, error) {
	switch f.typ {
	case protowire.VarintType:
		return append(dst, int64(f.varint)), nil
	case protowire.BytesType:
		b := f.raw
		for len(b) > 0 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %w", f.num, protowire.ParseError(n))
			}
			dst = append(dst, int64(v))
			b = b[n:]
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("field %d: wire type %d for repeated varint", f.num, f.typ)
	}
}

func (f field) appendInt32s(dst []int32) ([]int32, error) {
	vals, err := f.appendInt64s(nil)
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		dst = append(dst, int32(v))
	}
	return dst, nil
}

func (f field) appendUint64s(dst []uint64) ([]uint64, error) {
	vals, err := f.appendInt64s(nil)
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		dst = append(dst, uint64(v))
	}
	return dst, nil
}

func (f field) appendFloat32s(dst []float32) ([]float32, error) {
	switch f.typ {
	case protowire.Fixed32Type:
		return append(dst, math.Float32frombits(f.fixed32)), nil
	case protowire.BytesType:
		if len(f.raw)%4 != 0 {
			return nil, fmt.Errorf("field %d: packed float length %d", f.num, len(f.raw))
		}
		b := f.raw
		for len(b) > 0 {
			v, n := protowire.ConsumeFixed32(b)
			dst = append(dst, math.Float32frombits(v))
			b = b[n:]
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("field %d: wire type %d for repeated float", f.num, f.typ)
	}
}

func (f field) appendFloat64s(dst []float64) ([]float64, error) {
	switch f.typ {
	case protowire.Fixed64Type:
		return append(dst, math.Float64frombits(f.fixed64)), nil
	case protowire.BytesType:
		if len(f.raw)%8 != 0 {
			return nil, fmt.Errorf("field %d: packed double length %d", f.num, len(f.raw))
		}
		b := f.raw
		for len(b) > 0 {
			v, n := protowire.ConsumeFixed64(b)
			dst = append(dst, math.Float64frombits(v))
			b = b[n:]
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("field %d: wire type %d for repeated double", f.num, f.typ)
	}
}
