package predict

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/addrscore/internal/domain"
	"github.com/kailas-cloud/addrscore/internal/domain/feature"
	"github.com/kailas-cloud/addrscore/internal/domain/verdict"
	"github.com/kailas-cloud/addrscore/internal/metrics"
)

// Service classifies addresses. It is safe for concurrent use.
type Service struct {
	model  Model
	cache  Cache
	group  singleflight.Group
	logger *zap.Logger
}

// New creates a Service. cache can be nil.
func New(m Model, cache Cache, logger *zap.Logger) *Service {
	return &Service{model: m, cache: cache, logger: logger}
}

// PredictAddress scores one comma-separated feature row and returns the
// tagged result. It never panics and never returns an error.
func (s *Service) PredictAddress(ctx context.Context, csv string) verdict.Result {
	start := time.Now()
	v, err := s.Predict(ctx, csv)
	metrics.PredictionDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.PredictionsTotal.WithLabelValues("failure").Inc()
		metrics.PredictionFailuresTotal.WithLabelValues(string(domain.StageOf(err))).Inc()
		return verdict.Failed(err)
	}

	outcome := "licit"
	if v.IsIllicit() {
		outcome = "illicit"
	}
	metrics.PredictionsTotal.WithLabelValues(outcome).Inc()
	return verdict.Succeeded(v)
}

// Predict decodes csv and classifies it. Errors are *domain.StageError.
func (s *Service) Predict(ctx context.Context, csv string) (verdict.Verdict, error) {
	vec, err := feature.Decode(csv)
	if err != nil {
		s.logger.Debug("Rejected feature row", zap.Error(err))
		return verdict.Verdict{}, domain.NewStageError(domain.StageInput, err)
	}
	return s.Classify(ctx, vec)
}

// Classify scores an already decoded vector.
func (s *Service) Classify(ctx context.Context, vec feature.Vector) (verdict.Verdict, error) {
	plan, err := s.model.Prepare()
	if err != nil {
		s.logger.Error("Model unavailable",
			zap.String("fingerprint", s.model.Fingerprint()),
			zap.Error(err),
		)
		return verdict.Verdict{}, domain.NewStageError(domain.StagePrepare, err)
	}

	fp := s.model.Fingerprint()
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, fp, vec); ok {
			return v, nil
		}
	}

	res, err, shared := s.group.Do(string(vec.Bytes()), func() (any, error) {
		v, err := s.execute(plan, vec)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Put(ctx, fp, vec, v)
		}
		return v, nil
	})
	if err != nil {
		s.logger.Error("Inference failed",
			zap.String("fingerprint", fp),
			zap.Bool("shared", shared),
			zap.Error(err),
		)
		return verdict.Verdict{}, domain.NewStageError(domain.StageExecute, err)
	}

	v, ok := res.(verdict.Verdict)
	if !ok {
		return verdict.Verdict{}, domain.NewStageError(domain.StageExecute,
			fmt.Errorf("%w: unexpected result %T", domain.ErrRunFailed, res))
	}
	return v, nil
}

func (s *Service) execute(r Runner, vec feature.Vector) (v verdict.Verdict, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			v, err = verdict.Verdict{}, fmt.Errorf("%w: panic: %v", domain.ErrRunFailed, rec)
		}
	}()
	return Execute(r, vec)
}
