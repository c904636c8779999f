package predict

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/addrscore/internal/domain/feature"
	"github.com/kailas-cloud/addrscore/internal/domain/verdict"
	"github.com/kailas-cloud/addrscore/internal/metrics"
	"github.com/kailas-cloud/addrscore/internal/model"
	"github.com/kailas-cloud/addrscore/internal/onnx"
	"github.com/kailas-cloud/addrscore/internal/onnx/onnxtest"
	"github.com/kailas-cloud/addrscore/internal/tensor"
)

func TestMain(m *testing.M) {
	metrics.RegisterPredictionMetrics()
	os.Exit(m.Run())
}

// Reference outputs of the embedded artifact.
const (
	zerosIllicit = 0.4163858890533447
	onesIllicit  = 0.9449467658996582
)

func repeatCSV(v string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = v
	}
	return strings.Join(parts, ",")
}

type mockRunner struct {
	runFn func(inputs ...*tensor.Tensor) ([]*tensor.Tensor, error)
}

func (m *mockRunner) Run(inputs ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	return m.runFn(inputs...)
}

// mockCache implements Cache for tests.
type mockCache struct {
	mu    sync.Mutex
	gets  int
	puts  int
	getFn func(fingerprint string, vec feature.Vector) (verdict.Verdict, bool)
	putFn func(fingerprint string, vec feature.Vector, v verdict.Verdict)
}

func (m *mockCache) Get(_ context.Context, fingerprint string, vec feature.Vector) (verdict.Verdict, bool) {
	m.mu.Lock()
	m.gets++
	m.mu.Unlock()
	if m.getFn != nil {
		return m.getFn(fingerprint, vec)
	}
	return verdict.Verdict{}, false
}

func (m *mockCache) Put(_ context.Context, fingerprint string, vec feature.Vector, v verdict.Verdict) {
	m.mu.Lock()
	m.puts++
	m.mu.Unlock()
	if m.putFn != nil {
		m.putFn(fingerprint, vec, v)
	}
}

func newTestService(t *testing.T, opts ...model.Option) (*Service, *mockCache) {
	t.Helper()
	mc := &mockCache{}
	return New(model.New(opts...), mc, zap.NewNop()), mc
}

// noisyArtifact needs randomness at run time, which the runtime never has.
func noisyArtifact() []byte {
	return onnxtest.Bytes(&onnx.Graph{
		Nodes: []onnx.Node{
			onnxtest.Node("RandomNormalLike", []string{"x"}, []string{"noise"}),
			onnxtest.Node("Add", []string{"x", "noise"}, []string{"y"}),
			onnxtest.Node("ArgMax", []string{"y"}, []string{"label"}, onnxtest.AttrInt("axis", 1)),
		},
		Inputs: []onnx.ValueInfo{onnxtest.Value("x", onnx.DataTypeFloat, -1, 66)},
		Outputs: []onnx.ValueInfo{
			onnxtest.Value("label", onnx.DataTypeInt64, -1, 1),
			onnxtest.Value("y", onnx.DataTypeFloat, -1, 66),
		},
	})
}

// wideArtifact returns 66 "probabilities" per row instead of two.
func wideArtifact() []byte {
	return onnxtest.Bytes(&onnx.Graph{
		Nodes: []onnx.Node{
			onnxtest.Node("Sigmoid", []string{"x"}, []string{"p"}),
			onnxtest.Node("ArgMax", []string{"x"}, []string{"label"}, onnxtest.AttrInt("axis", 1)),
		},
		Inputs: []onnx.ValueInfo{onnxtest.Value("x", onnx.DataTypeFloat, -1, 66)},
		Outputs: []onnx.ValueInfo{
			onnxtest.Value("label", onnx.DataTypeInt64, -1, 1),
			onnxtest.Value("p", onnx.DataTypeFloat, -1, 66),
		},
	})
}
