package chi

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/addrscore/internal/metrics"
	"github.com/kailas-cloud/addrscore/internal/model"
	healthuc "github.com/kailas-cloud/addrscore/internal/usecase/health"
	predictuc "github.com/kailas-cloud/addrscore/internal/usecase/predict"
)

func TestMain(m *testing.M) {
	metrics.RegisterPredictionMetrics()
	metrics.RegisterHTTPMetrics()
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, opts ...model.Option) *Server {
	t.Helper()
	rt := model.New(opts...)
	logger := zap.NewNop()
	return NewServer(
		predictuc.New(rt, nil, logger),
		rt,
		healthuc.New(rt, nil),
		logger,
	)
}

func csvOf(v string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = v
	}
	return strings.Join(parts, ",")
}

func predictBody(t *testing.T, csv string) io.Reader {
	t.Helper()
	b, err := json.Marshal(PredictRequest{CSVFeatures: csv})
	if err != nil {
		t.Fatal(err)
	}
	return strings.NewReader(string(b))
}

func do(t *testing.T, h http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = http.NoBody
	}
	req := httptest.NewRequest(method, path, body)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodePredict(t *testing.T, rr *httptest.ResponseRecorder) PredictResponse {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp PredictResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if (resp.Success == nil) == (resp.Failure == nil) {
		t.Fatalf("expected exactly one of Success or Failure, got %+v", resp)
	}
	return resp
}

func TestPredict_Success(t *testing.T) {
	h := NewRouter(newTestServer(t), nil, zap.NewNop())

	rr := do(t, h, http.MethodPost, "/v1/predict", predictBody(t, csvOf("0", 66)))
	raw := rr.Body.String()
	resp := decodePredict(t, rr)

	if resp.Success == nil {
		t.Fatalf("expected success, got %+v", resp.Failure)
	}
	if math.Abs(float64(resp.Success.Probability)-0.4163858890533447) > 1e-5 {
		t.Errorf("unexpected probability %v", resp.Success.Probability)
	}
	if resp.Success.IsIllicit {
		t.Error("expected licit verdict")
	}
	if !strings.Contains(raw, `"Success":{"probability":`) || strings.Contains(raw, "Failure") {
		t.Errorf("unexpected wire shape %s", raw)
	}
}

func TestPredict_Illicit(t *testing.T) {
	h := NewRouter(newTestServer(t), nil, zap.NewNop())

	resp := decodePredict(t, do(t, h, http.MethodPost, "/v1/predict", predictBody(t, csvOf("1", 66))))
	if resp.Success == nil || !resp.Success.IsIllicit {
		t.Fatalf("expected illicit verdict, got %+v", resp)
	}
}

func TestPredict_Failures(t *testing.T) {
	h := NewRouter(newTestServer(t), nil, zap.NewNop())

	tests := []struct {
		name     string
		body     string
		contains string
	}{
		{"wrong arity", `{"csv_features":"` + csvOf("0", 65) + `"}`, "66"},
		{"malformed", `{"csv_features":"abc"}`, "malformed"},
		{"missing field", `{}`, "got 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decodePredict(t, do(t, h, http.MethodPost, "/v1/predict", strings.NewReader(tt.body)))
			if resp.Failure == nil {
				t.Fatal("expected failure")
			}
			if !strings.Contains(resp.Failure.Message, tt.contains) {
				t.Errorf("message %q does not mention %q", resp.Failure.Message, tt.contains)
			}
		})
	}
}

func TestPredict_UnreadableEnvelope(t *testing.T) {
	h := NewRouter(newTestServer(t), nil, zap.NewNop())

	rr := do(t, h, http.MethodPost, "/v1/predict", strings.NewReader(`{"csv_features":`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Code != ErrorCodeBadRequest {
		t.Errorf("expected %s, got %s", ErrorCodeBadRequest, errResp.Code)
	}
}

func TestPredict_BodyTooLarge(t *testing.T) {
	h := NewRouter(newTestServer(t).WithMaxBodyBytes(32), nil, zap.NewNop())

	rr := do(t, h, http.MethodPost, "/v1/predict", predictBody(t, csvOf("0", 66)))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	h := NewRouter(newTestServer(t), nil, zap.NewNop())

	rr := do(t, h, http.MethodGet, "/v1/predict", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestModelInfo(t *testing.T) {
	srv := newTestServer(t)
	h := NewRouter(srv, nil, zap.NewNop())

	rr := do(t, h, http.MethodGet, "/v1/model", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp ModelResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Fingerprint != srv.model.Fingerprint() {
		t.Errorf("unexpected fingerprint %q", resp.Fingerprint)
	}
	if len(resp.InputShape) != 2 || resp.InputShape[0] != 1 || resp.InputShape[1] != 66 {
		t.Errorf("unexpected input shape %v", resp.InputShape)
	}
	if resp.Threshold != 0.5 {
		t.Errorf("unexpected threshold %v", resp.Threshold)
	}
	if len(resp.Outputs) != 2 || resp.Outputs[1] != "probabilities" {
		t.Errorf("unexpected outputs %v", resp.Outputs)
	}
	if resp.Opsets["ai.onnx.ml"] != 3 {
		t.Errorf("unexpected opsets %v", resp.Opsets)
	}
}

func TestModelInfo_BrokenArtifact(t *testing.T) {
	h := NewRouter(newTestServer(t, model.WithArtifact([]byte("not a model"))), nil, zap.NewNop())

	rr := do(t, h, http.MethodGet, "/v1/model", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Code != ErrorCodeModelUnavailable || errResp.Message != "model decode failed" {
		t.Errorf("unexpected error %+v", errResp)
	}
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name   string
		opts   []model.Option
		code   int
		status string
	}{
		{"healthy", nil, http.StatusOK, "ok"},
		{"broken model", []model.Option{model.WithArtifact(nil)}, http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewRouter(newTestServer(t, tt.opts...), []string{"secret"}, zap.NewNop())

			rr := do(t, h, http.MethodGet, "/health", nil)
			if rr.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, rr.Code)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.status {
				t.Errorf("expected status %q, got %q", tt.status, resp.Status)
			}
			if _, ok := resp.Checks["model"]; !ok {
				t.Error("expected a model check")
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewRouter(newTestServer(t), nil, zap.NewNop())
	do(t, h, http.MethodPost, "/v1/predict", predictBody(t, csvOf("0", 66)))

	rr := do(t, h, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, name := range []string{"addrscore_predictions_total", "addrscore_http_requests_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output is missing %s", name)
		}
	}
}

func TestRouter_AuthAndRequestID(t *testing.T) {
	h := NewRouter(newTestServer(t), []string{"secret"}, zap.NewNop())

	rr := do(t, h, http.MethodPost, "/v1/predict", predictBody(t, csvOf("0", 66)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/predict", predictBody(t, csvOf("0", 66)))
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestRouter_NotFound(t *testing.T) {
	h := NewRouter(newTestServer(t), nil, zap.NewNop())

	rr := do(t, h, http.MethodGet, "/v2/predict", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON error, got %q", ct)
	}
}

func TestJSONRecoverer(t *testing.T) {
	h := jsonRecoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := do(t, h, http.MethodGet, "/", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errResp.Code != ErrorCodeInternal {
		t.Errorf("unexpected code %s", errResp.Code)
	}
}
