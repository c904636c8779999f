package predict

import (
	"context"

	"github.com/kailas-cloud/addrscore/internal/domain/feature"
	"github.com/kailas-cloud/addrscore/internal/domain/verdict"
	"github.com/kailas-cloud/addrscore/internal/graph"
	"github.com/kailas-cloud/addrscore/internal/tensor"
)

// Runner executes one forward pass.
type Runner interface {
	Run(inputs ...*tensor.Tensor) ([]*tensor.Tensor, error)
}

// Model yields the shared execution plan for the embedded artifact.
type Model interface {
	Prepare() (*graph.Plan, error)
	Fingerprint() string
}

// Cache stores verdicts keyed by model fingerprint and feature vector.
// Implementations swallow their own faults: a miss is always safe.
type Cache interface {
	Get(ctx context.Context, fingerprint string, vec feature.Vector) (verdict.Verdict, bool)
	Put(ctx context.Context, fingerprint string, vec feature.Vector, v verdict.Verdict)
}
