// Package onnx decodes the ONNX ModelProto wire format into plain Go values.
//
// Only the parts of the schema the runtime consumes are kept: the graph
// (nodes, initializers, inputs, outputs), opset imports, attributes and
// tensor payloads. Unknown fields are skipped, as protobuf requires.
package onnx

// DataType mirrors TensorProto.DataType.
type DataType int32

// TensorProto.DataType values.
const (
	DataTypeUndefined DataType = 0
	DataTypeFloat     DataType = 1
	DataTypeUint8     DataType = 2
	DataTypeInt8      DataType = 3
	DataTypeUint16    DataType = 4
	DataTypeInt16     DataType = 5
	DataTypeInt32     DataType = 6
	DataTypeInt64     DataType = 7
	DataTypeString    DataType = 8
	DataTypeBool      DataType = 9
	DataTypeFloat16   DataType = 10
	DataTypeDouble    DataType = 11
	DataTypeUint32    DataType = 12
	DataTypeUint64    DataType = 13
)

// AttributeType mirrors AttributeProto.AttributeType.
type AttributeType int32

// AttributeProto.AttributeType values.
const (
	AttributeUndefined AttributeType = 0
	AttributeFloat     AttributeType = 1
	AttributeInt       AttributeType = 2
	AttributeString    AttributeType = 3
	AttributeTensor    AttributeType = 4
	AttributeGraph     AttributeType = 5
	AttributeFloats    AttributeType = 6
	AttributeInts      AttributeType = 7
	AttributeStrings   AttributeType = 8
	AttributeTensors   AttributeType = 9
	AttributeGraphs    AttributeType = 10
)

// Model is a decoded ModelProto.
type Model struct {
	IRVersion       int64
	OpsetImports    []OpsetID
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *Graph
	Metadata        map[string]string
}

// OpsetID is one entry of ModelProto.opset_import.
type OpsetID struct {
	Domain  string
	Version int64
}

// Graph is a decoded GraphProto.
type Graph struct {
	Name         string
	Nodes        []Node
	Initializers []Tensor
	Inputs       []ValueInfo
	Outputs      []ValueInfo
	ValueInfo    []ValueInfo
	DocString    string
}

// Node is a decoded NodeProto.
type Node struct {
	Name       string
	OpType     string
	Domain     string
	Inputs     []string
	Outputs    []string
	Attributes []Attribute
	DocString  string
}

// Attribute is a decoded AttributeProto. Only the field matching Type is set.
type Attribute struct {
	Name    string
	Type    AttributeType
	F       float32
	I       int64
	S       []byte
	T       *Tensor
	G       *Graph
	Floats  []float32
	Ints    []int64
	Strings [][]byte
	Tensors []Tensor
	Graphs  []Graph
}

// Tensor is a decoded TensorProto. Payload lives in exactly one of the
// typed slices or RawData.
type Tensor struct {
	Name         string
	Dims         []int64
	DataType     DataType
	FloatData    []float32
	Int32Data    []int32
	Int64Data    []int64
	DoubleData   []float64
	Uint64Data   []uint64
	StringData   [][]byte
	RawData      []byte
	DataLocation int32
	DocString    string
}

// ValueInfo is a decoded ValueInfoProto restricted to tensor types.
type ValueInfo struct {
	Name     string
	IsTensor bool
	ElemType DataType
	HasShape bool
	Shape    []Dimension
}

// Dimension is one TensorShapeProto.Dimension. Value is meaningful when
// Param is empty and Known is true.
type Dimension struct {
	Value int64
	Param string
	Known bool
}

// Opset returns the imported version for domain, treating "" and
// "ai.onnx" as the same default domain.
func (m *Model) Opset(domain string) (int64, bool) {
	if domain == "ai.onnx" {
		domain = ""
	}
	for _, o := range m.OpsetImports {
		d := o.Domain
		if d == "ai.onnx" {
			d = ""
		}
		if d == domain {
			return o.Version, true
		}
	}
	return 0, false
}
