package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/addrscore/internal/domain"
	logpkg "github.com/kailas-cloud/addrscore/internal/logger"
	"github.com/kailas-cloud/addrscore/internal/model"
	healthuc "github.com/kailas-cloud/addrscore/internal/usecase/health"
	predictuc "github.com/kailas-cloud/addrscore/internal/usecase/predict"
)

// DefaultMaxBodyBytes caps a predict request body when no limit is configured.
// 66 numbers in their longest float32 spelling fit comfortably.
const DefaultMaxBodyBytes = 64 << 10

// Server serves the prediction API.
type Server struct {
	predict      *predictuc.Service
	model        *model.Runtime
	health       *healthuc.Service
	logger       *zap.Logger
	maxBodyBytes int64
}

// NewServer creates an HTTP API server.
func NewServer(
	predict *predictuc.Service,
	m *model.Runtime,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	return &Server{
		predict:      predict,
		model:        m,
		health:       health,
		logger:       logger,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// WithMaxBodyBytes overrides the request body limit.
func (s *Server) WithMaxBodyBytes(n int64) *Server {
	if n > 0 {
		s.maxBodyBytes = n
	}
	return s
}

// Register mounts the API routes on r.
func (s *Server) Register(r chi.Router) {
	r.Post("/v1/predict", s.Predict)
	r.Get("/v1/model", s.ModelInfo)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// Predict handles POST /v1/predict. Every readable request gets 200 with
// either a Success or a Failure body.
func (s *Server) Predict(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrorCodeBodyTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	res := s.predict.PredictAddress(r.Context(), req.CSVFeatures)
	if msg, failed := res.Failure(); failed {
		logpkg.FromContext(r.Context()).Debug("prediction failed", zap.String("message", msg))
	}
	writeJSON(w, http.StatusOK, resultToResponse(res))
}

// ModelInfo handles GET /v1/model.
func (s *Server) ModelInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.model.Info()
	if err != nil {
		s.logger.Error("model unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, ErrorCodeModelUnavailable, safeDomainMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, infoToResponse(info))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrModelDecode,
		domain.ErrModelOptimize,
		domain.ErrModelPlan,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}
