package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedNumber signals a feature token that is not a finite float.
	ErrMalformedNumber = errors.New("malformed number")
	// ErrWrongArity signals a feature count other than the model input width.
	ErrWrongArity = errors.New("wrong feature count")

	// ErrModelDecode signals an artifact that is not a valid graph encoding.
	ErrModelDecode = errors.New("model decode failed")
	// ErrModelOptimize signals a graph the runtime cannot lower.
	ErrModelOptimize = errors.New("model optimize failed")
	// ErrModelPlan signals a binding or shape resolution failure.
	ErrModelPlan = errors.New("model plan failed")

	// ErrRunFailed signals a forward pass that raised an error.
	ErrRunFailed = errors.New("inference run failed")
	// ErrBadOutputShape signals an output that is not a 2-class probability vector.
	ErrBadOutputShape = errors.New("unreadable model output")
)

// Stage names the pipeline step that produced an error.
type Stage string

const (
	// StageInput covers feature decoding.
	StageInput Stage = "input"
	// StagePrepare covers model decode, optimize and plan.
	StagePrepare Stage = "prepare"
	// StageExecute covers the forward pass and output interpretation.
	StageExecute Stage = "execute"
)

// StageError tags an error with the stage it came from.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Stage, e.Err.Error())
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err with its stage. A nil err stays nil.
func NewStageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage recorded in err, or "" when err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
