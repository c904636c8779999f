package chi

import (
	"github.com/kailas-cloud/addrscore/internal/domain/verdict"
	"github.com/kailas-cloud/addrscore/internal/model"
)

// ErrorCode is a machine-readable error classification.
type ErrorCode string

// Error codes returned in ErrorResponse.
const (
	ErrorCodeBadRequest       ErrorCode = "bad_request"
	ErrorCodeUnauthorized     ErrorCode = "unauthorized"
	ErrorCodeBodyTooLarge     ErrorCode = "request_too_large"
	ErrorCodeModelUnavailable ErrorCode = "model_unavailable"
	ErrorCodeInternal         ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// PredictRequest is the body of POST /v1/predict.
type PredictRequest struct {
	CSVFeatures string `json:"csv_features"`
}

// PredictResponse carries exactly one of Success or Failure.
type PredictResponse struct {
	Success *PredictSuccess `json:"Success,omitempty"`
	Failure *PredictFailure `json:"Failure,omitempty"`
}

// PredictSuccess is a classified address.
type PredictSuccess struct {
	Probability float32 `json:"probability"`
	IsIllicit   bool    `json:"is_illicit"`
}

// PredictFailure explains why no verdict was produced.
type PredictFailure struct {
	Message string `json:"message"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ModelResponse is the body of GET /v1/model.
type ModelResponse struct {
	Fingerprint   string           `json:"fingerprint"`
	Producer      string           `json:"producer,omitempty"`
	IRVersion     int64            `json:"ir_version"`
	Opsets        map[string]int64 `json:"opsets"`
	Input         string           `json:"input"`
	InputShape    []int            `json:"input_shape"`
	Outputs       []string         `json:"outputs"`
	Threshold     float32          `json:"threshold"`
	Steps         int              `json:"steps"`
	Optimizations OptimizationInfo `json:"optimizations"`
}

// OptimizationInfo counts the graph rewrites applied at preparation.
type OptimizationInfo struct {
	Eliminated int `json:"eliminated"`
	Folded     int `json:"folded"`
	Fused      int `json:"fused"`
	Pruned     int `json:"pruned"`
}

func resultToResponse(r verdict.Result) PredictResponse {
	if v, ok := r.Verdict(); ok {
		return PredictResponse{Success: &PredictSuccess{
			Probability: v.Probability(),
			IsIllicit:   v.IsIllicit(),
		}}
	}
	msg, _ := r.Failure()
	return PredictResponse{Failure: &PredictFailure{Message: msg}}
}

func infoToResponse(info model.Info) ModelResponse {
	opsets := info.Opsets
	if opsets == nil {
		opsets = map[string]int64{}
	}
	return ModelResponse{
		Fingerprint: info.Fingerprint,
		Producer:    info.Producer,
		IRVersion:   info.IRVersion,
		Opsets:      opsets,
		Input:       info.Input,
		InputShape:  info.InputShape,
		Outputs:     info.Outputs,
		Threshold:   verdict.Threshold,
		Steps:       info.Steps,
		Optimizations: OptimizationInfo{
			Eliminated: info.Stats.Eliminated,
			Folded:     info.Stats.Folded,
			Fused:      info.Stats.Fused,
			Pruned:     info.Stats.Pruned,
		},
	}
}
