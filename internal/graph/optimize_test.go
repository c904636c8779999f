package graph

import (
	"errors"
	"testing"

	"github.com/kailas-cloud/addrscore/internal/onnx"
	"github.com/kailas-cloud/addrscore/internal/onnx/onnxtest"
)

func TestOptimize_EliminatesIdentity(t *testing.T) {
	g := mustBuild(t, &onnx.Graph{
		Nodes: []onnx.Node{
			onnxtest.Node("Identity", []string{"x"}, []string{"a"}),
			onnxtest.Node("Relu", []string{"a"}, []string{"b"}),
			onnxtest.Node("Dropout", []string{"b"}, []string{"y"}),
		},
		Inputs:  []onnx.ValueInfo{onnxtest.Value("x", onnx.DataTypeFloat, 1, 2)},
		Outputs: []onnx.ValueInfo{onnxtest.Value("y", onnx.DataTypeFloat, 1, 2)},
	})

	st, err := Optimize(g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Eliminated != 2 {
		t.Errorf("expected 2 eliminated nodes, got %d", st.Eliminated)
	}
	if len(g.Nodes) != 1 || g.Nodes[0].Op != "Relu" {
		t.Fatalf("expected a lone Relu, got %v", g.Nodes)
	}
	if g.Nodes[0].Inputs[0] != "x" || g.Nodes[0].Outputs[0] != "y" {
		t.Errorf("relu must read x and write y, got %v -> %v", g.Nodes[0].Inputs, g.Nodes[0].Outputs)
	}

	p, err := Compile(g)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := p.Run(f32(t, []int{1, 2}, -1, 3))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	assertClose(t, []float32{0, 3}, out[0].Float32s())
}

func TestOptimize_KeepsPassthroughOfInput(t *testing.T) {
	g := mustBuild(t, &onnx.Graph{
		Nodes:   []onnx.Node{onnxtest.Node("Identity", []string{"x"}, []string{"y"})},
		Inputs:  []onnx.ValueInfo{onnxtest.Value("x", onnx.DataTypeFloat, 2)},
		Outputs: []onnx.ValueInfo{onnxtest.Value("y", onnx.DataTypeFloat, 2)},
	})
	p := mustCompile(t, g)
	out, err := p.Run(f32(t, []int{2}, 4, 5))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	assertClose(t, []float32{4, 5}, out[0].Float32s())
}

func TestOptimize_FoldsConstants(t *testing.T) {
	g := mustBuild(t, &onnx.Graph{
		Nodes: []onnx.Node{
			onnxtest.Node("Constant", nil, []string{"two"},
				onnxtest.AttrTensor("value", onnxtest.Floats("", []int64{1}, 2))),
			onnxtest.Node("Add", []string{"two", "one"}, []string{"three"}),
			onnxtest.Node("Mul", []string{"x", "three"}, []string{"y"}),
		},
		Initializers: []onnx.Tensor{onnxtest.Floats("one", []int64{1}, 1)},
		Inputs:       []onnx.ValueInfo{onnxtest.Value("x", onnx.DataTypeFloat, 1, 2)},
		Outputs:      []onnx.ValueInfo{onnxtest.Value("y", onnx.DataTypeFloat, 1, 2)},
	})

	st, err := Optimize(g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Folded != 2 {
		t.Errorf("expected 2 folded nodes, got %d", st.Folded)
	}
	if len(g.Nodes) != 1 {
		t.Fatalf("expected only Mul to remain, got %v", g.Nodes)
	}
	if _, ok := g.Constants["one"]; ok {
		t.Error("constants consumed by folding must be pruned")
	}
	assertClose(t, []float32{3}, g.Constants["three"].Float32s())
}

func TestOptimize_FoldingFailureIsAnError(t *testing.T) {
	g := mustBuild(t, &onnx.Graph{
		Nodes: []onnx.Node{
			onnxtest.Node("Add", []string{"a", "b"}, []string{"c"}),
			onnxtest.Node("Mul", []string{"x", "c"}, []string{"y"}),
		},
		Initializers: []onnx.Tensor{
			onnxtest.Floats("a", []int64{2}, 1, 2),
			onnxtest.Floats("b", []int64{3}, 1, 2, 3),
		},
		Inputs:  []onnx.ValueInfo{onnxtest.Value("x", onnx.DataTypeFloat, 1)},
		Outputs: []onnx.ValueInfo{onnxtest.Value("y", onnx.DataTypeFloat, 1)},
	})
	if _, err := Optimize(g); !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("expected ErrInvalidGraph, got %v", err)
	}
}

func TestOptimize_FusesMatMulAdd(t *testing.T) {
	g := mustBuild(t, &onnx.Graph{
		Nodes: []onnx.Node{
			onnxtest.Node("MatMul", []string{"x", "w"}, []string{"xw"}),
			onnxtest.Node("Add", []string{"xw", "b"}, []string{"y"}),
		},
		Initializers: []onnx.Tensor{
			onnxtest.Floats("w", []int64{2, 2}, 1, 2, 3, 4),
			onnxtest.Floats("b", []int64{2}, 10, 20),
		},
		Inputs:  []onnx.ValueInfo{onnxtest.Value("x", onnx.DataTypeFloat, -1, 2)},
		Outputs: []onnx.ValueInfo{onnxtest.Value("y", onnx.DataTypeFloat, -1, 2)},
	})

	st, err := Optimize(g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Fused != 1 || len(g.Nodes) != 1 || g.Nodes[0].Op != "Gemm" {
		t.Fatalf("expected one Gemm, got %v (stats %+v)", g.Nodes, st)
	}

	p, err := Compile(g)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := p.Run(f32(t, []int{1, 2}, 1, 1))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	assertClose(t, []float32{14, 26}, out[0].Float32s())
}

func TestOptimize_NoFusionWhenIntermediateIsShared(t *testing.T) {
	g := mustBuild(t, &onnx.Graph{
		Nodes: []onnx.Node{
			onnxtest.Node("MatMul", []string{"x", "w"}, []string{"xw"}),
			onnxtest.Node("Add", []string{"xw", "b"}, []string{"y"}),
			onnxtest.Node("Relu", []string{"xw"}, []string{"z"}),
		},
		Initializers: []onnx.Tensor{
			onnxtest.Floats("w", []int64{1, 1}, 1),
			onnxtest.Floats("b", []int64{1}, 1),
		},
		Inputs: []onnx.ValueInfo{onnxtest.Value("x", onnx.DataTypeFloat, 1, 1)},
		Outputs: []onnx.ValueInfo{
			onnxtest.Value("y", onnx.DataTypeFloat, 1, 1),
			onnxtest.Value("z", onnx.DataTypeFloat, 1, 1),
		},
	})
	st, err := Optimize(g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Fused != 0 {
		t.Errorf("shared MatMul output must not be fused, stats %+v", st)
	}
}

func TestOptimize_PrunesDeadBranch(t *testing.T) {
	g := mustBuild(t, &onnx.Graph{
		Nodes: []onnx.Node{
			onnxtest.Node("Relu", []string{"x"}, []string{"y"}),
			onnxtest.Node("Sigmoid", []string{"x"}, []string{"unused"}),
		},
		Initializers: []onnx.Tensor{onnxtest.Floats("orphan", []int64{1}, 1)},
		Inputs:       []onnx.ValueInfo{onnxtest.Value("x", onnx.DataTypeFloat, 1)},
		Outputs:      []onnx.ValueInfo{onnxtest.Value("y", onnx.DataTypeFloat, 1)},
	})
	st, err := Optimize(g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Pruned != 2 || len(g.Nodes) != 1 {
		t.Errorf("expected sigmoid and orphan pruned, got %v (stats %+v)", g.Nodes, st)
	}
}

func TestOptimize_UnsupportedOp(t *testing.T) {
	g := mustBuild(t, &onnx.Graph{
		Nodes:   []onnx.Node{onnxtest.Node("Conv", []string{"x"}, []string{"y"})},
		Inputs:  []onnx.ValueInfo{onnxtest.Value("x", onnx.DataTypeFloat, 1)},
		Outputs: []onnx.ValueInfo{onnxtest.Value("y", onnx.DataTypeFloat, 1)},
	})
	if _, err := Optimize(g); !errors.Is(err, ErrUnsupportedOp) {
		t.Fatalf("expected ErrUnsupportedOp, got %v", err)
	}
}

func TestOptimize_RandomIsNotFolded(t *testing.T) {
	g := mustBuild(t, &onnx.Graph{
		Nodes: []onnx.Node{
			onnxtest.Node("RandomUniform", nil, []string{"noise"}, onnxtest.AttrInts("shape", 1)),
			onnxtest.Node("Add", []string{"x", "noise"}, []string{"y"}),
		},
		Inputs:  []onnx.ValueInfo{onnxtest.Value("x", onnx.DataTypeFloat, 1)},
		Outputs: []onnx.ValueInfo{onnxtest.Value("y", onnx.DataTypeFloat, 1)},
	})
	st, err := Optimize(g)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Folded != 0 || len(g.Nodes) != 2 {
		t.Errorf("random operators must survive optimization, got %v", g.Nodes)
	}
}
