package addrscore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/addrscore/internal/db"
	"github.com/kailas-cloud/addrscore/internal/db/memory"
	dbRedis "github.com/kailas-cloud/addrscore/internal/db/redis"
	"github.com/kailas-cloud/addrscore/internal/domain/verdict"
	"github.com/kailas-cloud/addrscore/internal/model"
	"github.com/kailas-cloud/addrscore/internal/repository/verdictcache"
	healthuc "github.com/kailas-cloud/addrscore/internal/usecase/health"
	predictuc "github.com/kailas-cloud/addrscore/internal/usecase/predict"
)

const defaultReadinessTimeout = 10 * time.Second

// Threshold is the probability at or above which an address is illicit.
const Threshold = verdict.Threshold

// Internal interfaces, swapped out in tests.
type predictUseCase interface {
	PredictAddress(ctx context.Context, csv string) verdict.Result
}

type healthUseCase interface {
	Check(ctx context.Context) healthuc.Report
}

// Result is the outcome of one prediction: exactly one field is set.
// Its JSON form matches the HTTP API.
type Result struct {
	Success *Success `json:"Success,omitempty"`
	Failure *Failure `json:"Failure,omitempty"`
}

// Success carries the classifier's verdict.
type Success struct {
	Probability float32 `json:"probability"`
	IsIllicit   bool    `json:"is_illicit"`
}

// Failure explains why no verdict was produced.
type Failure struct {
	Message string `json:"message"`
}

// ModelInfo describes the embedded classifier.
type ModelInfo struct {
	Fingerprint string
	Producer    string
	IRVersion   int64
	Opsets      map[string]int64
	Input       string
	InputShape  []int
	Outputs     []string
	Threshold   float32
}

// HealthStatus represents the aggregated client health.
type HealthStatus struct {
	Status string            // "ok", "degraded", "error"
	Checks map[string]string // component → "ok"/"error"
}

// Client scores addresses in process.
type Client struct {
	store     db.Store
	runtime   *model.Runtime
	predict   predictUseCase
	healthSvc healthUseCase
	obs       *observer
}

// New prepares the embedded model and, when configured, connects the
// verdict cache. The provided context bounds the cache readiness check.
// Only cache errors fail New.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o.apply(cfg)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	var modelOpts []model.Option
	if cfg.artifact != nil {
		modelOpts = append(modelOpts, model.WithArtifact(cfg.artifact))
	}
	rt := model.New(modelOpts...)

	// Preparation errors are not fatal: they surface as Failure results,
	// from Model and from Health.
	start := time.Now()
	_, err = rt.Prepare()
	obs.observe("model.prepare", start, err)

	store, err := createStore(cfg)
	if err != nil {
		return nil, err
	}
	if store != nil {
		if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
			store.Close()
			return nil, fmt.Errorf("addrscore: cache not ready: %w", err)
		}
	}

	return wireClient(store, rt, obs), nil
}

// createStore returns nil when caching is disabled.
func createStore(cfg *clientConfig) (db.Store, error) {
	switch cfg.driver {
	case "memory":
		if cfg.cacheSize <= 0 {
			return nil, nil
		}
		return memory.NewStore(memory.Config{Size: cfg.cacheSize, TTL: cfg.cacheTTL}), nil
	case "valkey", "redis":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
			TTL:      cfg.cacheTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("addrscore: create %s store: %w", cfg.driver, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("addrscore: unknown driver %q", cfg.driver)
	}
}

func wireClient(store db.Store, rt *model.Runtime, obs *observer) *Client {
	// Nil interfaces, not typed nil pointers, when there is no store.
	var (
		cache  predictuc.Cache
		pinger healthuc.CachePinger
	)
	if store != nil {
		cache = verdictcache.New(store, obs.cacheCounter(), zap.NewNop())
		pinger = store
	}

	return &Client{
		store:     store,
		runtime:   rt,
		predict:   predictuc.New(rt, cache, zap.NewNop()),
		healthSvc: healthuc.New(rt, pinger),
		obs:       obs,
	}
}

// Close releases the cache connection, if any.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// PredictAddress scores one comma-separated row of 66 numbers.
// It never panics; every problem is reported as a Failure.
func (c *Client) PredictAddress(ctx context.Context, csv string) Result {
	start := time.Now()
	res := c.predict.PredictAddress(ctx, csv)
	out := resultFromDomain(res)

	var err error
	if out.Failure != nil {
		err = failureError(out.Failure.Message)
	}
	c.obs.observe("predict", start, err)
	return out
}

// Model describes the embedded classifier.
func (c *Client) Model() (ModelInfo, error) {
	info, err := c.runtime.Info()
	if err != nil {
		return ModelInfo{}, fmt.Errorf("addrscore: %w", err)
	}
	return ModelInfo{
		Fingerprint: info.Fingerprint,
		Producer:    info.Producer,
		IRVersion:   info.IRVersion,
		Opsets:      info.Opsets,
		Input:       info.Input,
		InputShape:  info.InputShape,
		Outputs:     info.Outputs,
		Threshold:   verdict.Threshold,
	}, nil
}

// Health checks the model and the verdict cache.
func (c *Client) Health(ctx context.Context) HealthStatus {
	report := c.healthSvc.Check(ctx)
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	return HealthStatus{
		Status: string(report.Status),
		Checks: checks,
	}
}

func resultFromDomain(r verdict.Result) Result {
	if v, ok := r.Verdict(); ok {
		return Result{Success: &Success{
			Probability: v.Probability(),
			IsIllicit:   v.IsIllicit(),
		}}
	}
	msg, _ := r.Failure()
	return Result{Failure: &Failure{Message: msg}}
}

type failureError string

func (e failureError) Error() string { return string(e) }
