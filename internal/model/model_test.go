package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kailas-cloud/addrscore/internal/domain"
	"github.com/kailas-cloud/addrscore/internal/graph"
	"github.com/kailas-cloud/addrscore/internal/onnx"
	"github.com/kailas-cloud/addrscore/internal/onnx/onnxtest"
	"github.com/kailas-cloud/addrscore/internal/tensor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPrepare_EmbeddedArtifact(t *testing.T) {
	rt := New()
	plan, err := rt.Prepare()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	x, _ := tensor.NewFloat32([]int{1, 66}, make([]float32, 66))
	out, err := plan.Run(x)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	probs := out[1].Float32s()
	want := []float64{0.5836141109466553, 0.4163858890533447}
	for i := range want {
		if math.Abs(float64(probs[i])-want[i]) > 1e-5 {
			t.Errorf("class %d: expected %v, got %v", i, want[i], probs[i])
		}
	}
	if out[0].Int64s()[0] != 0 {
		t.Errorf("expected label 0, got %d", out[0].Int64s()[0])
	}

	info, err := rt.Info()
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Input != "float_input" {
		t.Errorf("unexpected input %q", info.Input)
	}
	if len(info.Outputs) != 2 || info.Outputs[1] != "probabilities" {
		t.Errorf("unexpected outputs %v", info.Outputs)
	}
	if info.Stats.Eliminated != 1 {
		t.Errorf("expected the trailing Identity to be eliminated, got %+v", info.Stats)
	}
	if info.Fingerprint != rt.Fingerprint() {
		t.Errorf("info fingerprint %q differs from %q", info.Fingerprint, rt.Fingerprint())
	}
}

func TestPrepare_IsCached(t *testing.T) {
	calls := 0
	rt := New(WithPrepareObserver(func(time.Duration, error) { calls++ }))

	var wg sync.WaitGroup
	plans := make([]*graph.Plan, 16)
	for i := range plans {
		wg.Add(1)
		go func() {
			defer wg.Done()
			plans[i], _ = rt.Prepare()
		}()
	}
	wg.Wait()

	for i, p := range plans {
		if p == nil || p != plans[0] {
			t.Fatalf("plan %d is not the shared plan", i)
		}
	}
	if calls != 1 {
		t.Errorf("expected one preparation, got %d", calls)
	}
}

func TestPrepare_Deterministic(t *testing.T) {
	x, _ := tensor.NewFloat32([]int{1, 66}, func() []float32 {
		v := make([]float32, 66)
		for i := range v {
			v[i] = float32(i%7) - 3
		}
		return v
	}())

	var bits []uint32
	for range 2 {
		plan, err := New().Prepare()
		if err != nil {
			t.Fatalf("prepare: %v", err)
		}
		out, err := plan.Run(x)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		bits = append(bits, math.Float32bits(out[1].Float32s()[1]))
	}
	if bits[0] != bits[1] {
		t.Fatalf("independent preparations diverged: %08x vs %08x", bits[0], bits[1])
	}
}

func TestFingerprint(t *testing.T) {
	sum := sha256.Sum256(artifact)
	if got := New().Fingerprint(); got != hex.EncodeToString(sum[:]) {
		t.Errorf("unexpected fingerprint %s", got)
	}
	if New(WithArtifact([]byte("x"))).Fingerprint() == New().Fingerprint() {
		t.Error("different artifacts must have different fingerprints")
	}
}

func validGraph() *onnx.Graph {
	return &onnx.Graph{
		Nodes: []onnx.Node{
			onnxtest.Node("Sigmoid", []string{"x"}, []string{"p"}),
			onnxtest.Node("ArgMax", []string{"x"}, []string{"label"}, onnxtest.AttrInt("axis", 1)),
		},
		Inputs: []onnx.ValueInfo{onnxtest.Value("x", onnx.DataTypeFloat, -1, 66)},
		Outputs: []onnx.ValueInfo{
			onnxtest.Value("label", onnx.DataTypeInt64, -1, 1),
			onnxtest.Value("p", onnx.DataTypeFloat, -1, 66),
		},
	}
}

func TestPrepare_Failures(t *testing.T) {
	tests := []struct {
		name  string
		bytes func() []byte
		want  error
	}{
		{
			name:  "corrupt bytes",
			bytes: func() []byte { return []byte{0x3a, 0xff, 0xff} },
			want:  domain.ErrModelDecode,
		},
		{
			name:  "empty artifact",
			bytes: func() []byte { return nil },
			want:  domain.ErrModelDecode,
		},
		{
			name: "dangling reference",
			bytes: func() []byte {
				g := validGraph()
				g.Nodes[0].Inputs = []string{"ghost"}
				return onnxtest.Bytes(g)
			},
			want: domain.ErrModelDecode,
		},
		{
			name: "unsupported operator",
			bytes: func() []byte {
				g := validGraph()
				g.Nodes[0].OpType = "LSTM"
				return onnxtest.Bytes(g)
			},
			want: domain.ErrModelOptimize,
		},
		{
			name: "wrong input width",
			bytes: func() []byte {
				g := validGraph()
				g.Inputs[0] = onnxtest.Value("x", onnx.DataTypeFloat, -1, 65)
				return onnxtest.Bytes(g)
			},
			want: domain.ErrModelPlan,
		},
		{
			name: "integer input",
			bytes: func() []byte {
				g := validGraph()
				g.Inputs[0] = onnxtest.Value("x", onnx.DataTypeInt64, -1, 66)
				return onnxtest.Bytes(g)
			},
			want: domain.ErrModelPlan,
		},
		{
			name: "single output",
			bytes: func() []byte {
				g := validGraph()
				g.Outputs = g.Outputs[1:]
				return onnxtest.Bytes(g)
			},
			want: domain.ErrModelPlan,
		},
		{
			name: "two inputs",
			bytes: func() []byte {
				g := validGraph()
				g.Inputs = append(g.Inputs, onnxtest.Value("y", onnx.DataTypeFloat, 1))
				return onnxtest.Bytes(g)
			},
			want: domain.ErrModelPlan,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var observed error
			rt := New(WithArtifact(tt.bytes()), WithPrepareObserver(func(_ time.Duration, err error) {
				observed = err
			}))

			_, err := rt.Prepare()
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !errors.Is(observed, tt.want) {
				t.Errorf("observer saw %v", observed)
			}
			// Failures are deterministic and cached.
			if _, again := rt.Prepare(); again != err {
				t.Errorf("expected the cached error, got %v", again)
			}
			if _, err := rt.Info(); !errors.Is(err, tt.want) {
				t.Errorf("Info must report the preparation error, got %v", err)
			}
		})
	}
}

func TestPrepare_ValidCustomArtifact(t *testing.T) {
	rt := New(WithArtifact(onnxtest.Bytes(validGraph())))
	if _, err := rt.Prepare(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
