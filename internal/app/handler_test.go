package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docquery/internal/app"
	"docquery/internal/pipeline"
	"docquery/internal/registry"
	"docquery/internal/resilience"
	"docquery/internal/trace"
)

const testToken = "secret-token"

type MockPipeline struct{ mock.Mock }

func (m *MockPipeline) ProcessRequest(ctx context.Context, url string, questions []string) ([]string, error) {
	args := m.Called(ctx, url, questions)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type stubHealth struct{ health registry.Health }

func (s stubHealth) HealthCheck(ctx context.Context) registry.Health { return s.health }

type stubStats struct{ stats trace.Stats }

func (s stubStats) Snapshot() trace.Stats { return s.stats }

func newTestApp(p app.Pipeline, h app.HealthChecker) *app.App {
	if h == nil {
		h = stubHealth{health: registry.Health{Healthy: true, State: "ready"}}
	}
	handler := app.NewHandler(p, h, stubStats{}, testToken)
	return app.New(8081, handler)
}

func runRequest(t *testing.T, a *app.App, token string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/v1/run", bytes.NewBufferString(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, req)
	return rec
}

func TestRun_Success(t *testing.T) {
	p := new(MockPipeline)
	p.On("ProcessRequest", mock.Anything, "http://example.com/doc.pdf", []string{"q1", "q2"}).
		Return([]string{"a1", "a2"}, nil)

	a := newTestApp(p, nil)
	rec := runRequest(t, a, testToken, `{"documents":"http://example.com/doc.pdf","questions":["q1","q2"]}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp app.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"a1", "a2"}, resp.Answers)
	p.AssertExpectations(t)
}

func TestRun_MissingToken(t *testing.T) {
	p := new(MockPipeline)
	a := newTestApp(p, nil)

	rec := runRequest(t, a, "", `{"documents":"http://example.com/doc.pdf","questions":["q"]}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	p.AssertNotCalled(t, "ProcessRequest", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_WrongToken(t *testing.T) {
	a := newTestApp(new(MockPipeline), nil)
	rec := runRequest(t, a, "wrong", `{"documents":"http://example.com/doc.pdf","questions":["q"]}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRun_MalformedBody(t *testing.T) {
	a := newTestApp(new(MockPipeline), nil)
	rec := runRequest(t, a, testToken, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRun_MissingDocuments(t *testing.T) {
	a := newTestApp(new(MockPipeline), nil)
	rec := runRequest(t, a, testToken, `{"questions":["q"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRun_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "question count",
			err:        pipeline.ErrInvalidQuestionCount,
			wantStatus: http.StatusBadRequest,
			wantCode:   "BAD_REQUEST",
		},
		{
			name:       "timeout",
			err:        &resilience.TimeoutError{Operation: "document_download", Limit: time.Second},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "TIMEOUT",
		},
		{
			name:       "external service",
			err:        &resilience.ExternalServiceError{Service: "llm", Detail: "unavailable"},
			wantStatus: http.StatusBadGateway,
			wantCode:   "UPSTREAM_ERROR",
		},
		{
			name:       "document",
			err:        &resilience.DocumentError{Operation: "pdf_processing", Detail: "corrupt"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "DOCUMENT_ERROR",
		},
		{
			name:       "vector store",
			err:        &resilience.VectorStoreError{Operation: "upsert_chunks", Detail: "down"},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "VECTOR_STORE_ERROR",
		},
		{
			name:       "not ready",
			err:        &resilience.ResourceInitError{Resource: "registry", Detail: "initializing"},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "NOT_READY",
		},
		{
			name:       "unknown",
			err:        assert.AnError,
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := new(MockPipeline)
			p.On("ProcessRequest", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.err)

			a := newTestApp(p, nil)
			rec := runRequest(t, a, testToken, `{"documents":"http://example.com/doc.pdf","questions":["q"]}`)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			errObj := body["error"].(map[string]interface{})
			assert.Equal(t, tt.wantCode, errObj["code"])
			assert.NotEmpty(t, body["correlationId"])
		})
	}
}

func TestHealth_Healthy(t *testing.T) {
	a := newTestApp(new(MockPipeline), stubHealth{health: registry.Health{Healthy: true, State: "ready"}})

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_Unhealthy(t *testing.T) {
	a := newTestApp(new(MockPipeline), stubHealth{health: registry.Health{Healthy: false, State: "failed"}})

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var h registry.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "failed", h.State)
}

func TestStats(t *testing.T) {
	a := newTestApp(new(MockPipeline), nil)

	req := httptest.NewRequest("GET", "/stats", nil)
	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var s trace.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.Equal(t, 0, s.TotalRequests)
}

func TestRoot_Liveness(t *testing.T) {
	a := newTestApp(new(MockPipeline), nil)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRun_CorrelationHeaderPropagated(t *testing.T) {
	p := new(MockPipeline)
	p.On("ProcessRequest", mock.Anything, mock.Anything, mock.Anything).Return([]string{"a"}, nil)
	a := newTestApp(p, nil)

	req := httptest.NewRequest("POST", "/api/v1/run", bytes.NewBufferString(`{"documents":"http://x.test/d.pdf","questions":["q"]}`))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("X-Correlation-ID", "fixed-id")
	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, req)

	assert.Equal(t, "fixed-id", rec.Header().Get("X-Correlation-ID"))
}
