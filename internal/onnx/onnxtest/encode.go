// Package onnxtest builds serialized ONNX models for tests.
package onnxtest

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kailas-cloud/addrscore/internal/onnx"
)

// Encode serializes m as a ModelProto. Repeated scalars are written packed.
func Encode(m *onnx.Model) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.IRVersion))
	b = appendString(b, 2, m.ProducerName)
	b = appendString(b, 3, m.ProducerVersion)
	b = appendString(b, 4, m.Domain)
	b = appendVarint(b, 5, uint64(m.ModelVersion))
	b = appendString(b, 6, m.DocString)
	if m.Graph != nil {
		b = appendMessage(b, 7, encodeGraph(m.Graph))
	}
	for _, o := range m.OpsetImports {
		var ob []byte
		ob = appendString(ob, 1, o.Domain)
		ob = appendVarint(ob, 2, uint64(o.Version))
		b = appendMessage(b, 8, ob)
	}
	for k, v := range m.Metadata {
		var kv []byte
		kv = appendString(kv, 1, k)
		kv = appendString(kv, 2, v)
		b = appendMessage(b, 14, kv)
	}
	return b
}

func encodeGraph(g *onnx.Graph) []byte {
	var b []byte
	for i := range g.Nodes {
		b = appendMessage(b, 1, encodeNode(&g.Nodes[i]))
	}
	b = appendString(b, 2, g.Name)
	for i := range g.Initializers {
		b = appendMessage(b, 5, encodeTensor(&g.Initializers[i]))
	}
	b = appendString(b, 10, g.DocString)
	for _, vi := range g.Inputs {
		b = appendMessage(b, 11, encodeValueInfo(vi))
	}
	for _, vi := range g.Outputs {
		b = appendMessage(b, 12, encodeValueInfo(vi))
	}
	for _, vi := range g.ValueInfo {
		b = appendMessage(b, 13, encodeValueInfo(vi))
	}
	return b
}

func encodeNode(n *onnx.Node) []byte {
	var b []byte
	for _, in := range n.Inputs {
		b = appendBytes(b, 1, []byte(in))
	}
	for _, out := range n.Outputs {
		b = appendBytes(b, 2, []byte(out))
	}
	b = appendString(b, 3, n.Name)
	b = appendString(b, 4, n.OpType)
	for i := range n.Attributes {
		b = appendMessage(b, 5, encodeAttribute(&n.Attributes[i]))
	}
	b = appendString(b, 6, n.DocString)
	b = appendString(b, 7, n.Domain)
	return b
}

func encodeAttribute(a *onnx.Attribute) []byte {
	var b []byte
	b = appendString(b, 1, a.Name)
	switch a.Type {
	case onnx.AttributeFloat:
		b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
		b = protowire.AppendFixed32(b, math.Float32bits(a.F))
	case onnx.AttributeInt:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.I))
	case onnx.AttributeString:
		b = appendBytes(b, 4, a.S)
	case onnx.AttributeTensor:
		if a.T != nil {
			b = appendMessage(b, 5, encodeTensor(a.T))
		}
	case onnx.AttributeGraph:
		if a.G != nil {
			b = appendMessage(b, 6, encodeGraph(a.G))
		}
	case onnx.AttributeFloats:
		b = appendPackedFloats(b, 7, a.Floats)
	case onnx.AttributeInts:
		b = appendPackedInts(b, 8, a.Ints)
	case onnx.AttributeStrings:
		for _, s := range a.Strings {
			b = appendBytes(b, 9, s)
		}
	case onnx.AttributeTensors:
		for i := range a.Tensors {
			b = appendMessage(b, 10, encodeTensor(&a.Tensors[i]))
		}
	}
	b = protowire.AppendTag(b, 20, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(a.Type))
	return b
}

func encodeTensor(t *onnx.Tensor) []byte {
	var b []byte
	b = appendPackedInts(b, 1, t.Dims)
	b = appendVarint(b, 2, uint64(t.DataType))
	b = appendPackedFloats(b, 4, t.FloatData)
	if len(t.Int32Data) > 0 {
		ints := make([]int64, len(t.Int32Data))
		for i, v := range t.Int32Data {
			ints[i] = int64(v)
		}
		b = appendPackedInts(b, 5, ints)
	}
	for _, s := range t.StringData {
		b = appendBytes(b, 6, s)
	}
	b = appendPackedInts(b, 7, t.Int64Data)
	b = appendString(b, 8, t.Name)
	if t.RawData != nil {
		b = appendBytes(b, 9, t.RawData)
	}
	if len(t.DoubleData) > 0 {
		var p []byte
		for _, v := range t.DoubleData {
			p = protowire.AppendFixed64(p, math.Float64bits(v))
		}
		b = appendBytes(b, 10, p)
	}
	b = appendVarint(b, 14, uint64(t.DataLocation))
	return b
}

func encodeValueInfo(vi onnx.ValueInfo) []byte {
	var b []byte
	b = appendString(b, 1, vi.Name)
	if !vi.IsTensor {
		return b
	}
	var tt []byte
	tt = appendVarint(tt, 1, uint64(vi.ElemType))
	if vi.HasShape {
		var shape []byte
		for _, d := range vi.Shape {
			var db []byte
			if d.Known {
				db = protowire.AppendTag(db, 1, protowire.VarintType)
				db = protowire.AppendVarint(db, uint64(d.Value))
			}
			db = appendString(db, 2, d.Param)
			shape = appendMessage(shape, 1, db)
		}
		tt = protowire.AppendTag(tt, 2, protowire.BytesType)
		tt = protowire.AppendBytes(tt, shape)
	}
	var typ []byte
	typ = appendMessage(typ, 1, tt)
	return appendMessage(b, 2, typ)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	return appendBytes(b, num, []byte(s))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	return appendBytes(b, num, msg)
}

func appendPackedInts(b []byte, num protowire.Number, vs []int64) []byte {
	if len(vs) == 0 {
		return b
	}
	var p []byte
	for _, v := range vs {
		p = protowire.AppendVarint(p, uint64(v))
	}
	return appendBytes(b, num, p)
}

func appendPackedFloats(b []byte, num protowire.Number, vs []float32) []byte {
	if len(vs) == 0 {
		return b
	}
	var p []byte
	for _, v := range vs {
		p = protowire.AppendFixed32(p, math.Float32bits(v))
	}
	return appendBytes(b, num, p)
}
