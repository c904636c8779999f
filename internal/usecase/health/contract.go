package health

import (
	"context"

	"github.com/kailas-cloud/addrscore/internal/graph"
)

// CachePinger checks verdict cache availability.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// ModelPreparer reports whether the model compiled.
type ModelPreparer interface {
	Prepare() (*graph.Plan, error)
}
