package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidchain/ai-analysis-service/internal/api/handler"
	"github.com/evidchain/ai-analysis-service/internal/domain"
	"github.com/evidchain/ai-analysis-service/internal/orchestrator"
)

type stubService struct {
	queue *domain.QueueStatus
}

func (s *stubService) Submit(ctx context.Context, req *orchestrator.SubmitRequest) (*domain.SubmitReceipt, error) {
	return nil, errors.New("not used")
}

func (s *stubService) GetStatus(ctx context.Context, id string) (*domain.JobStatus, error) {
	return nil, domain.ErrNotFound
}

func (s *stubService) GetResult(ctx context.Context, id string) (json.RawMessage, error) {
	return nil, domain.ErrNotFound
}

func (s *stubService) Cancel(ctx context.Context, id string) (*domain.Job, error) {
	return nil, domain.ErrNotFound
}

func (s *stubService) ListByEvidence(ctx context.Context, evidenceID string, skip, limit int) ([]domain.Job, error) {
	return nil, nil
}

func (s *stubService) QueueStatus(ctx context.Context) *domain.QueueStatus {
	return s.queue
}

type stubVerifier struct{}

func (v *stubVerifier) Verify(token string) (string, error) {
	if token != "valid-token" {
		return "", errors.New("bad token")
	}
	return "svc", nil
}

type stubProber struct{ ready bool }

func (p *stubProber) Ready(ctx context.Context) bool { return p.ready }

func setup(store, cache, broker bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return SetupRouter(&handler.Dependencies{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Service:  &stubService{queue: &domain.QueueStatus{}},
		Verifier: &stubVerifier{},
		Store:    &stubProber{ready: store},
		Cache:    &stubProber{ready: cache},
		Broker:   &stubProber{ready: broker},
	})
}

func TestHealthNeedsNoAuth(t *testing.T) {
	r := setup(true, true, true)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadinessReportsPerAdapter(t *testing.T) {
	r := setup(true, false, true)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status   string            `json:"status"`
		Adapters map[string]string `json:"adapters"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ok", resp.Adapters["database"])
	assert.Equal(t, "unavailable", resp.Adapters["cache"])
	assert.Equal(t, "ok", resp.Adapters["broker"])
}

func TestDetailedHealthReportsDependenciesAndMetadata(t *testing.T) {
	r := setup(true, true, false)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status        string            `json:"status"`
		Service       string            `json:"service"`
		Version       string            `json:"version"`
		Timestamp     string            `json:"timestamp"`
		UptimeSeconds *int              `json:"uptime_seconds"`
		Adapters      map[string]string `json:"adapters"`
		Features      map[string]bool   `json:"features"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "ai-analysis-service", resp.Service)
	assert.NotEmpty(t, resp.Version)
	assert.NotEmpty(t, resp.Timestamp)
	require.NotNil(t, resp.UptimeSeconds)
	assert.Equal(t, "unavailable", resp.Adapters["broker"])
	assert.True(t, resp.Features["image_analysis"])

	// All adapters up reads healthy.
	r = setup(true, true, true)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestAPIRequiresBearerToken(t *testing.T) {
	r := setup(true, true, true)

	// No header.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/analysis/queue/status", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong scheme.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/analysis/queue/status", nil)
	req.Header.Set("Authorization", "Basic abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Invalid token.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/analysis/queue/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid token.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/analysis/queue/status", nil)
	req.Header.Set("Authorization", "Bearer valid-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
