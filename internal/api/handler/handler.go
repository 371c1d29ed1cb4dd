package handler

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/evidchain/ai-analysis-service/internal/domain"
	"github.com/evidchain/ai-analysis-service/internal/orchestrator"
)

// AnalysisService is the orchestrator surface the handlers call.
type AnalysisService interface {
	Submit(ctx context.Context, req *orchestrator.SubmitRequest) (*domain.SubmitReceipt, error)
	GetStatus(ctx context.Context, analysisID string) (*domain.JobStatus, error)
	GetResult(ctx context.Context, analysisID string) (json.RawMessage, error)
	Cancel(ctx context.Context, analysisID string) (*domain.Job, error)
	ListByEvidence(ctx context.Context, evidenceID string, skip, limit int) ([]domain.Job, error)
	QueueStatus(ctx context.Context) *domain.QueueStatus
}

// Prober reports one adapter's availability.
type Prober interface {
	Ready(ctx context.Context) bool
}

// TokenVerifier validates inbound service tokens.
type TokenVerifier interface {
	Verify(tokenString string) (string, error)
}

// Dependencies holds all dependencies needed by handlers.
type Dependencies struct {
	Logger   *slog.Logger
	Service  AnalysisService
	Verifier TokenVerifier
	Store    Prober
	Cache    Prober
	Broker   Prober
}

// AnalysisHandler handles analysis-related HTTP requests.
type AnalysisHandler struct {
	logger  *slog.Logger
	service AnalysisService
}

// NewAnalysisHandler creates a new AnalysisHandler instance.
func NewAnalysisHandler(deps *Dependencies) *AnalysisHandler {
	return &AnalysisHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}
