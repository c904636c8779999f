// Package model owns the embedded classifier artifact and turns it, once,
// into an execution plan shared by every request.
package model

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"sync"
	"time"

	"github.com/kailas-cloud/addrscore/internal/domain"
	"github.com/kailas-cloud/addrscore/internal/domain/feature"
	"github.com/kailas-cloud/addrscore/internal/entropy"
	"github.com/kailas-cloud/addrscore/internal/graph"
	"github.com/kailas-cloud/addrscore/internal/onnx"
	"github.com/kailas-cloud/addrscore/internal/tensor"
)

//go:embed artifact/address_classifier.onnx
var artifact []byte

// MinOutputs is the number of graph outputs the executor relies on: the
// class probabilities are read from the second one.
const MinOutputs = 2

// Info describes a prepared model without exposing its bytes.
type Info struct {
	Fingerprint string
	Producer    string
	IRVersion   int64
	Opsets      map[string]int64
	Input       string
	InputShape  []int
	Outputs     []string
	Steps       int
	Stats       graph.Stats
}

// Runtime prepares the artifact on first use and caches the outcome.
type Runtime struct {
	bytes       []byte
	fingerprint string
	entropy     io.Reader
	observe     func(time.Duration, error)

	prepare func() (*prepared, error)
}

type prepared struct {
	plan *graph.Plan
	info Info
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithArtifact replaces the embedded artifact.
func WithArtifact(b []byte) Option {
	return func(r *Runtime) { r.bytes = b }
}

// WithEntropy sets the randomness source handed to the plan. The default
// is entropy.Unavailable.
func WithEntropy(src io.Reader) Option {
	return func(r *Runtime) { r.entropy = src }
}

// WithPrepareObserver registers fn to be called once, after preparation,
// with its duration and outcome.
func WithPrepareObserver(fn func(time.Duration, error)) Option {
	return func(r *Runtime) { r.observe = fn }
}

// New creates a Runtime over the embedded artifact. Nothing is decoded
// until Prepare.
func New(opts ...Option) *Runtime {
	r := &Runtime{bytes: artifact, entropy: entropy.Unavailable}
	for _, opt := range opts {
		opt(r)
	}
	sum := sha256.Sum256(r.bytes)
	r.fingerprint = hex.EncodeToString(sum[:])
	r.prepare = sync.OnceValues(r.build)
	return r
}

// Fingerprint is the hex SHA-256 of the artifact.
func (r *Runtime) Fingerprint() string { return r.fingerprint }

// Prepare returns the shared plan. The first call decodes, optimizes and
// compiles the artifact; later calls return the same plan or the same error.
func (r *Runtime) Prepare() (*graph.Plan, error) {
	p, err := r.prepare()
	if err != nil {
		return nil, err
	}
	return p.plan, nil
}

// Info describes the prepared model.
func (r *Runtime) Info() (Info, error) {
	p, err := r.prepare()
	if err != nil {
		return Info{}, err
	}
	info := p.info
	info.InputShape = append([]int(nil), info.InputShape...)
	info.Outputs = append([]string(nil), info.Outputs...)
	info.Opsets = maps.Clone(info.Opsets)
	return info, nil
}

func (r *Runtime) build() (p *prepared, err error) {
	start := time.Now()
	stage := domain.ErrModelDecode
	defer func() {
		if rec := recover(); rec != nil {
			p, err = nil, fmt.Errorf("%w: panic: %v", stage, rec)
		}
		if r.observe != nil {
			r.observe(time.Since(start), err)
		}
	}()

	m, err := onnx.Decode(r.bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelDecode, err)
	}
	g, err := graph.Build(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelDecode, err)
	}

	stage = domain.ErrModelOptimize
	stats, err := graph.Optimize(g)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelOptimize, err)
	}

	stage = domain.ErrModelPlan
	if len(g.Inputs) != 1 {
		return nil, fmt.Errorf("%w: model takes %d runtime inputs, want 1", domain.ErrModelPlan, len(g.Inputs))
	}
	if len(g.Outputs) < MinOutputs {
		return nil, fmt.Errorf("%w: model declares %d outputs, want at least %d", domain.ErrModelPlan, len(g.Outputs), MinOutputs)
	}
	in := g.Inputs[0]
	if in.DType != tensor.Float32 {
		return nil, fmt.Errorf("%w: input %q is %s, want float32", domain.ErrModelPlan, in.Name, in.DType)
	}
	shape := []int{1, feature.Dim}
	plan, err := graph.Compile(g,
		graph.WithInputShape(in.Name, shape),
		graph.WithEntropy(r.entropy),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrModelPlan, err)
	}

	return &prepared{
		plan: plan,
		info: Info{
			Fingerprint: r.fingerprint,
			Producer:    producer(m),
			IRVersion:   m.IRVersion,
			Opsets:      g.Opsets,
			Input:       in.Name,
			InputShape:  shape,
			Outputs:     plan.OutputNames(),
			Steps:       plan.Steps(),
			Stats:       stats,
		},
	}, nil
}

func producer(m *onnx.Model) string {
	if m.ProducerVersion == "" {
		return m.ProducerName
	}
	return m.ProducerName + " " + m.ProducerVersion
}
