package verdict

import (
	"fmt"
	"math"

	"github.com/kailas-cloud/addrscore/internal/domain"
)

// Threshold is the illicit-probability cut-off. It is the one policy
// decision baked into the classifier and is deliberately not configurable.
const Threshold float32 = 0.5

// Verdict is the classification of one address (immutable value object).
// Illicit is derived from the probability and cannot be set independently.
type Verdict struct {
	probability float32
}

// New creates a Verdict from the illicit-class probability.
func New(probability float32) (Verdict, error) {
	p := float64(probability)
	if math.IsNaN(p) || p < 0 || p > 1 {
		return Verdict{}, fmt.Errorf("%w: probability %v outside [0, 1]", domain.ErrBadOutputShape, probability)
	}
	return Verdict{probability: probability}, nil
}

// Probability returns the illicit-class probability.
func (v Verdict) Probability() float32 { return v.probability }

// IsIllicit reports whether the probability reaches Threshold.
func (v Verdict) IsIllicit() bool { return v.probability >= Threshold }

// Result is the tagged outcome returned across the call boundary:
// exactly one of a Verdict or a failure message.
type Result struct {
	verdict *Verdict
	message string
}

// Succeeded wraps a verdict.
func Succeeded(v Verdict) Result {
	return Result{verdict: &v}
}

// Failed flattens err into a failure result. This is the only place a
// pipeline error becomes a plain string.
func Failed(err error) Result {
	msg := "unknown failure"
	if err != nil {
		msg = err.Error()
	}
	return Result{message: msg}
}

// Verdict returns the verdict and true on success.
func (r Result) Verdict() (Verdict, bool) {
	if r.verdict == nil {
		return Verdict{}, false
	}
	return *r.verdict, true
}

// Failure returns the message and true on failure.
func (r Result) Failure() (string, bool) {
	if r.verdict != nil {
		return "", false
	}
	return r.message, true
}

// OK reports whether the result is a success.
func (r Result) OK() bool { return r.verdict != nil }
