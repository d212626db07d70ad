package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/tradeguard/internal/metrics"
	"github.com/hed1ad/tradeguard/pkg/detectors"
	"github.com/hed1ad/tradeguard/pkg/engine"
	tgio "github.com/hed1ad/tradeguard/pkg/io"
	"github.com/hed1ad/tradeguard/pkg/market"
	"github.com/hed1ad/tradeguard/pkg/risk"
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func spikeRecords() []market.FeatureRecord {
	prices := []float64{100, 101, 99, 102, 500}
	records := make([]market.FeatureRecord, len(prices))
	for i, p := range prices {
		records[i] = market.FeatureRecord{
			Ticker: "ACME",
			Date:   day0.AddDate(0, 0, i),
			Price:  p,
			Volume: 1_000_000 + int64(i)*10_000,
		}
	}
	return records
}

type recordingSink struct {
	mu      sync.Mutex
	results []engine.AnomalyResult
	failOn  string
}

func (s *recordingSink) PersistAnomalyResult(_ context.Context, r engine.AnomalyResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Ticker == s.failOn {
		return errors.New("sink down")
	}
	s.results = append(s.results, r)
	return nil
}

func newTestServer(t *testing.T, opts ...Option) (*Server, http.Handler) {
	t.Helper()

	m := engine.New(detectors.Config{NumTrees: 50, Seed: 42}, risk.DefaultTable())
	s := New(m, opts...)
	s.now = func() time.Time { return day0 }
	return s, s.Routes()
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.False(t, resp.ModelTrained)
}

func TestDetectExplicitRecords(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/v1/anomalies/detect", DetectRequest{Records: spikeRecords()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[DetectResponse](t, rec)
	assert.Equal(t, "request", resp.Source)
	require.Len(t, resp.Results, 5)
	for i, r := range resp.Results {
		assert.Equal(t, day0.AddDate(0, 0, i), r.Date)
	}
	assert.Equal(t, 1.0, resp.Results[4].NormalizedScore)
	assert.Equal(t, risk.Critical, resp.Results[4].RiskLevel)

	assert.Equal(t, 5, resp.Summary.Total)
	require.NotEmpty(t, resp.Summary.Top)
	assert.Equal(t, resp.Results[4], resp.Summary.Top[0])
	assert.True(t, resp.Model.Trained)
	assert.Equal(t, 50, resp.Model.NumTrees)
}

func TestDetectSampleFallback(t *testing.T) {
	_, h := newTestServer(t, WithSampleData(10, 7))

	rec := do(t, h, http.MethodPost, "/api/v1/anomalies/detect", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[DetectResponse](t, rec)
	assert.Equal(t, "sample", resp.Source)
	assert.Len(t, resp.Results, 10*len(market.DefaultTickers))
	assert.Len(t, resp.Summary.Top, DefaultTopN)

	rec = do(t, h, http.MethodPost, "/api/v1/anomalies/detect", `{"filter":{"ticker":"msft"},"top":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp = decodeBody[DetectResponse](t, rec)
	assert.Len(t, resp.Results, 10)
	assert.Len(t, resp.Summary.Top, 2)
	for _, r := range resp.Results {
		assert.Equal(t, "MSFT", r.Ticker)
	}
}

func TestDetectFromSource(t *testing.T) {
	records := append(spikeRecords(), market.FeatureRecord{Ticker: "BETA", Date: day0, Price: 10, Volume: 5})
	_, h := newTestServer(t, WithSource(tgio.StaticSource(records)))

	rec := do(t, h, http.MethodPost, "/api/v1/anomalies/detect", `{"filter":{"ticker":"ACME","from":"2024-03-02"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[DetectResponse](t, rec)
	assert.Equal(t, "source", resp.Source)
	assert.Len(t, resp.Results, 4)
}

func TestDetectSourceFailure(t *testing.T) {
	failing := tgio.SourceFunc(func(context.Context, market.Filter) ([]market.FeatureRecord, error) {
		return nil, errors.New("connection refused")
	})
	_, h := newTestServer(t, WithSource(failing))

	rec := do(t, h, http.MethodPost, "/api/v1/anomalies/detect", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, TypeSource, decodeBody[Problem](t, rec).Type)
}

func TestDetectErrors(t *testing.T) {
	invalid := spikeRecords()
	invalid[2].Price = -5

	tests := []struct {
		name   string
		body   any
		status int
		typ    string
	}{
		{name: "malformed json", body: `{"records":`, status: http.StatusBadRequest, typ: TypeBadRequest},
		{name: "unknown field", body: `{"rows":[]}`, status: http.StatusBadRequest, typ: TypeBadRequest},
		{name: "bad filter date", body: `{"filter":{"from":"yesterday"}}`, status: http.StatusBadRequest, typ: TypeBadRequest},
		{name: "invalid record", body: DetectRequest{Records: invalid}, status: http.StatusBadRequest, typ: TypeValidation},
		{name: "empty batch untrained", body: `{"records":[]}`, status: http.StatusUnprocessableEntity, typ: TypeInsufficientData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, h := newTestServer(t)

			rec := do(t, h, http.MethodPost, "/api/v1/anomalies/detect", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			p := decodeBody[Problem](t, rec)
			assert.Equal(t, tt.typ, p.Type)
			assert.Equal(t, tt.status, p.Status)
			assert.NotEmpty(t, p.Detail)
			assert.NotEmpty(t, p.RequestID)
		})
	}
}

func TestDetectEmptyBatchTrained(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/v1/model/retrain", RetrainRequest{Records: spikeRecords()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/v1/anomalies/detect", `{"records":[]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"results":[]`)
}

func TestDetectPersist(t *testing.T) {
	sink := &recordingSink{}
	_, h := newTestServer(t, WithSink(sink))

	rec := do(t, h, http.MethodPost, "/api/v1/anomalies/detect", DetectRequest{Records: spikeRecords(), Persist: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[DetectResponse](t, rec)
	assert.Equal(t, 5, resp.Persisted)
	assert.Equal(t, resp.Results, sink.results)
}

func TestDetectPersistPartialFailure(t *testing.T) {
	records := append(spikeRecords(), market.FeatureRecord{Ticker: "BETA", Date: day0, Price: 10, Volume: 5})
	sink := &recordingSink{failOn: "BETA"}
	_, h := newTestServer(t, WithSink(sink))

	rec := do(t, h, http.MethodPost, "/api/v1/anomalies/detect", DetectRequest{Records: records, Persist: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 5, decodeBody[DetectResponse](t, rec).Persisted)
}

func TestDetectPersistWithoutSink(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/api/v1/anomalies/detect", DetectRequest{Records: spikeRecords(), Persist: true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetrain(t *testing.T) {
	s, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/api/v1/model", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[engine.Status](t, rec).Trained)

	rec = do(t, h, http.MethodPost, "/api/v1/model/retrain", RetrainRequest{Records: spikeRecords()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[RetrainResponse](t, rec)
	assert.Equal(t, "request", resp.Source)
	assert.Equal(t, 5, resp.Records)
	assert.True(t, resp.Model.Trained)
	assert.Equal(t, 5, resp.Model.SubsampleSize)
	first := s.manager.Status().TrainedAt

	// A rejected batch leaves the published model in place.
	same := []market.FeatureRecord{spikeRecords()[0], spikeRecords()[0]}
	rec = do(t, h, http.MethodPost, "/api/v1/model/retrain", RetrainRequest{Records: same})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, first, s.manager.Status().TrainedAt)

	rec = do(t, h, http.MethodGet, "/api/v1/model", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[engine.Status](t, rec).Trained)
}

func TestRiskLevel(t *testing.T) {
	_, h := newTestServer(t)

	tests := []struct {
		query  string
		status int
		level  risk.Level
	}{
		{query: "score=0.3", status: http.StatusOK, level: risk.Low},
		{query: "score=0.7", status: http.StatusOK, level: risk.High},
		{query: "score=0.99", status: http.StatusOK, level: risk.Critical},
		{query: "", status: http.StatusBadRequest},
		{query: "score=high", status: http.StatusBadRequest},
		{query: "score=NaN", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/api/v1/risk-level?"+tt.query, nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusOK {
				return
			}

			resp := decodeBody[RiskLevelResponse](t, rec)
			assert.Equal(t, tt.level, resp.RiskLevel)
			assert.Len(t, resp.Table, 4)
		})
	}
}

func TestRateLimit(t *testing.T) {
	_, h := newTestServer(t, WithRateLimit(0.001, 1))

	rec := do(t, h, http.MethodGet, "/api/v1/model", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/model", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, TypeRateLimit, decodeBody[Problem](t, rec).Type)

	// Health checks are not limited.
	rec = do(t, h, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t, WithMetrics(metrics.New()))

	rec := do(t, h, http.MethodGet, "/api/v1/risk-level?score=0.5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "tradeguard_http_requests_total")
	assert.Contains(t, body, `route="/api/v1/risk-level"`)
}

func TestMetricsEndpointDisabled(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListenAndServeShutdown(t *testing.T) {
	s, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0"}

	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, srv, time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
