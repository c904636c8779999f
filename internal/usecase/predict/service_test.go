package predict

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/addrscore/internal/domain"
	"github.com/kailas-cloud/addrscore/internal/domain/feature"
	"github.com/kailas-cloud/addrscore/internal/domain/verdict"
	"github.com/kailas-cloud/addrscore/internal/metrics"
	"github.com/kailas-cloud/addrscore/internal/model"
)

func TestPredictAddress_AllZeros(t *testing.T) {
	svc, _ := newTestService(t)

	res := svc.PredictAddress(context.Background(), repeatCSV("0", 66))
	v, ok := res.Verdict()
	if !ok {
		msg, _ := res.Failure()
		t.Fatalf("expected success, got failure %q", msg)
	}
	if math.Abs(float64(v.Probability())-zerosIllicit) > 1e-5 {
		t.Errorf("expected probability %v, got %v", zerosIllicit, v.Probability())
	}
	if v.IsIllicit() {
		t.Error("all-zero row must not be illicit")
	}
}

func TestPredictAddress_AllOnes(t *testing.T) {
	svc, _ := newTestService(t)

	res := svc.PredictAddress(context.Background(), repeatCSV(" 1.0 ", 66))
	v, ok := res.Verdict()
	if !ok {
		t.Fatal("expected success")
	}
	if math.Abs(float64(v.Probability())-onesIllicit) > 1e-5 {
		t.Errorf("expected probability %v, got %v", onesIllicit, v.Probability())
	}
	if !v.IsIllicit() {
		t.Error("all-one row must be illicit")
	}
}

func TestPredictAddress_InputFailures(t *testing.T) {
	tests := []struct {
		name     string
		csv      string
		want     error
		contains string
	}{
		{"too few", repeatCSV("0", 65), domain.ErrWrongArity, "66"},
		{"too many", repeatCSV("0", 67), domain.ErrWrongArity, "got 67"},
		{"blank", "  ", domain.ErrWrongArity, "got 0"},
		{"not a number", "abc", domain.ErrMalformedNumber, "abc"},
		{"nan token", "NaN," + repeatCSV("0", 65), domain.ErrMalformedNumber, "not finite"},
		{"empty token", "1,," + repeatCSV("0", 64), domain.ErrMalformedNumber, "empty"},
		{"hex float", "0x1p-1," + repeatCSV("0", 65), domain.ErrMalformedNumber, "not a decimal number"},
		{"digit separator", "1_0," + repeatCSV("0", 65), domain.ErrMalformedNumber, "not a decimal number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mc := newTestService(t)
			before := testutil.ToFloat64(metrics.PredictionFailuresTotal.WithLabelValues(string(domain.StageInput)))

			res := svc.PredictAddress(context.Background(), tt.csv)
			msg, failed := res.Failure()
			if !failed {
				t.Fatal("expected failure")
			}
			if !strings.Contains(msg, tt.contains) {
				t.Errorf("message %q does not mention %q", msg, tt.contains)
			}

			_, err := svc.Predict(context.Background(), tt.csv)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if domain.StageOf(err) != domain.StageInput {
				t.Errorf("expected input stage, got %q", domain.StageOf(err))
			}
			if mc.gets != 0 {
				t.Error("rejected rows must not reach the cache")
			}

			after := testutil.ToFloat64(metrics.PredictionFailuresTotal.WithLabelValues(string(domain.StageInput)))
			if after-before != 1 {
				t.Errorf("expected one input failure recorded, got %v", after-before)
			}
		})
	}
}

func TestPredictAddress_Deterministic(t *testing.T) {
	svc, _ := newTestService(t)
	csv := repeatCSV("0.25", 66)

	first := svc.PredictAddress(context.Background(), csv)
	second := svc.PredictAddress(context.Background(), csv)

	a, okA := first.Verdict()
	b, okB := second.Verdict()
	if !okA || !okB {
		t.Fatal("expected two successes")
	}
	if math.Float32bits(a.Probability()) != math.Float32bits(b.Probability()) || a.IsIllicit() != b.IsIllicit() {
		t.Errorf("repeated calls diverged: %v vs %v", a.Probability(), b.Probability())
	}
}

func TestPredict_PrepareFailure(t *testing.T) {
	svc, mc := newTestService(t, model.WithArtifact([]byte{0x3a, 0xff, 0xff}))

	_, err := svc.Predict(context.Background(), repeatCSV("0", 66))
	if !errors.Is(err, domain.ErrModelDecode) {
		t.Fatalf("expected ErrModelDecode, got %v", err)
	}
	if domain.StageOf(err) != domain.StagePrepare {
		t.Errorf("expected prepare stage, got %q", domain.StageOf(err))
	}
	if mc.gets != 0 || mc.puts != 0 {
		t.Error("cache must not be consulted without a model")
	}

	res := svc.PredictAddress(context.Background(), repeatCSV("0", 66))
	if res.OK() {
		t.Error("expected failure result")
	}
}

func TestPredict_RunFailure(t *testing.T) {
	svc, mc := newTestService(t, model.WithArtifact(noisyArtifact()))

	_, err := svc.Predict(context.Background(), repeatCSV("0", 66))
	if !errors.Is(err, domain.ErrRunFailed) {
		t.Fatalf("expected ErrRunFailed, got %v", err)
	}
	if domain.StageOf(err) != domain.StageExecute {
		t.Errorf("expected execute stage, got %q", domain.StageOf(err))
	}
	if mc.puts != 0 {
		t.Error("failures must not be cached")
	}
}

func TestPredict_BadOutputShape(t *testing.T) {
	svc, _ := newTestService(t, model.WithArtifact(wideArtifact()))

	_, err := svc.Predict(context.Background(), repeatCSV("0", 66))
	if !errors.Is(err, domain.ErrBadOutputShape) {
		t.Fatalf("expected ErrBadOutputShape, got %v", err)
	}
}

func TestPredict_CacheHit(t *testing.T) {
	svc, mc := newTestService(t)
	cached, _ := verdict.New(0.875)

	var gotFingerprint string
	mc.getFn = func(fp string, _ feature.Vector) (verdict.Verdict, bool) {
		gotFingerprint = fp
		return cached, true
	}

	v, err := svc.Predict(context.Background(), repeatCSV("0", 66))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Probability() != 0.875 {
		t.Errorf("expected cached probability, got %v", v.Probability())
	}
	if gotFingerprint != model.New().Fingerprint() {
		t.Errorf("cache looked up with fingerprint %q", gotFingerprint)
	}
	if mc.puts != 0 {
		t.Error("a hit must not be written back")
	}
}

func TestPredict_CacheMissStores(t *testing.T) {
	svc, mc := newTestService(t)

	var stored verdict.Verdict
	var storedVec feature.Vector
	mc.putFn = func(_ string, vec feature.Vector, v verdict.Verdict) {
		stored, storedVec = v, vec
	}

	v, err := svc.Predict(context.Background(), repeatCSV("0", 66))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.puts != 1 {
		t.Fatalf("expected one put, got %d", mc.puts)
	}
	if stored != v {
		t.Errorf("stored %v, returned %v", stored, v)
	}
	if storedVec != (feature.Vector{}) {
		t.Error("stored under the wrong vector")
	}
}

func TestPredict_NilCache(t *testing.T) {
	svc := New(model.New(), nil, zap.NewNop())

	if _, err := svc.Predict(context.Background(), repeatCSV("0", 66)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPredict_Concurrent(t *testing.T) {
	svc, _ := newTestService(t)
	csv := repeatCSV("1", 66)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := svc.Predict(context.Background(), csv)
			if err != nil {
				errs <- err
				return
			}
			if math.Abs(float64(v.Probability())-onesIllicit) > 1e-5 {
				errs <- errors.New("concurrent prediction diverged")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
