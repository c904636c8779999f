package onnxtest

import "github.com/kailas-cloud/addrscore/internal/onnx"

// Model wraps g with the default and ai.onnx.ml opset imports.
func Model(g *onnx.Graph) *onnx.Model {
	return &onnx.Model{
		IRVersion:    8,
		ProducerName: "onnxtest",
		OpsetImports: []onnx.OpsetID{{Domain: "", Version: 17}, {Domain: "ai.onnx.ml", Version: 3}},
		Graph:        g,
	}
}

// Bytes is Encode(Model(g)).
func Bytes(g *onnx.Graph) []byte { return Encode(Model(g)) }

// Node builds a node in the default domain.
func Node(op string, inputs, outputs []string, attrs ...onnx.Attribute) onnx.Node {
	return onnx.Node{Name: op + "_" + outputs[0], OpType: op, Inputs: inputs, Outputs: outputs, Attributes: attrs}
}

// MLNode builds a node in the ai.onnx.ml domain.
func MLNode(op string, inputs, outputs []string, attrs ...onnx.Attribute) onnx.Node {
	n := Node(op, inputs, outputs, attrs...)
	n.Domain = "ai.onnx.ml"
	return n
}

// Floats builds a FLOAT initializer.
func Floats(name string, dims []int64, data ...float32) onnx.Tensor {
	return onnx.Tensor{Name: name, Dims: dims, DataType: onnx.DataTypeFloat, FloatData: data}
}

// Ints builds an INT64 initializer.
func Ints(name string, dims []int64, data ...int64) onnx.Tensor {
	return onnx.Tensor{Name: name, Dims: dims, DataType: onnx.DataTypeInt64, Int64Data: data}
}

// Value declares a tensor graph input or output. A negative dim is symbolic.
func Value(name string, elem onnx.DataType, dims ...int64) onnx.ValueInfo {
	vi := onnx.ValueInfo{Name: name, IsTensor: true, ElemType: elem, HasShape: true}
	for _, d := range dims {
		if d < 0 {
			vi.Shape = append(vi.Shape, onnx.Dimension{Param: "N"})
			continue
		}
		vi.Shape = append(vi.Shape, onnx.Dimension{Value: d, Known: true})
	}
	return vi
}

// AttrInt builds an INT attribute.
func AttrInt(name string, v int64) onnx.Attribute {
	return onnx.Attribute{Name: name, Type: onnx.AttributeInt, I: v}
}

// AttrFloat builds a FLOAT attribute.
func AttrFloat(name string, v float32) onnx.Attribute {
	return onnx.Attribute{Name: name, Type: onnx.AttributeFloat, F: v}
}

// AttrString builds a STRING attribute.
func AttrString(name, v string) onnx.Attribute {
	return onnx.Attribute{Name: name, Type: onnx.AttributeString, S: []byte(v)}
}

// AttrInts builds an INTS attribute.
func AttrInts(name string, v ...int64) onnx.Attribute {
	return onnx.Attribute{Name: name, Type: onnx.AttributeInts, Ints: v}
}

// AttrFloats builds a FLOATS attribute.
func AttrFloats(name string, v ...float32) onnx.Attribute {
	return onnx.Attribute{Name: name, Type: onnx.AttributeFloats, Floats: v}
}

// AttrStrings builds a STRINGS attribute.
func AttrStrings(name string, v ...string) onnx.Attribute {
	a := onnx.Attribute{Name: name, Type: onnx.AttributeStrings}
	for _, s := range v {
		a.Strings = append(a.Strings, []byte(s))
	}
	return a
}

// AttrTensor builds a TENSOR attribute.
func AttrTensor(name string, t onnx.Tensor) onnx.Attribute {
	return onnx.Attribute{Name: name, Type: onnx.AttributeTensor, T: &t}
}
