package addrscore

import "github.com/kailas-cloud/addrscore/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrMalformedNumber = domain.ErrMalformedNumber
	ErrWrongArity      = domain.ErrWrongArity
	ErrModelDecode     = domain.ErrModelDecode
	ErrModelOptimize   = domain.ErrModelOptimize
	ErrModelPlan       = domain.ErrModelPlan
	ErrRunFailed       = domain.ErrRunFailed
	ErrBadOutputShape  = domain.ErrBadOutputShape
)
