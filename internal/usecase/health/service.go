package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates the service still predicts, but without its cache.
	Degraded Status = "degraded"
	// Unhealthy indicates the model is unusable; every prediction fails.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	model ModelPreparer
	cache CachePinger
}

// New creates a Service. cache can be nil.
func New(model ModelPreparer, cache CachePinger) *Service {
	return &Service{model: model, cache: cache}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)
	status := Healthy

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			checks["cache"] = CheckError
			status = Degraded
		} else {
			checks["cache"] = CheckOK
		}
	}

	if _, err := s.model.Prepare(); err != nil {
		checks["model"] = CheckError
		status = Unhealthy
	} else {
		checks["model"] = CheckOK
	}

	return Report{Status: status, Checks: checks}
}
