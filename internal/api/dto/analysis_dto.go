package dto

import (
	"encoding/json"
	"time"

	"github.com/evidchain/ai-analysis-service/internal/domain"
)

// SubmitAnalysisRequest is the body of POST /api/v1/analysis/submit.
type SubmitAnalysisRequest struct {
	EvidenceID string `json:"evidence_id" binding:"required"`
	MediaType  string `json:"media_type" binding:"required"`
	FilePath   string `json:"file_path" binding:"required"`
	Priority   int    `json:"priority"`
}

// SubmitAnalysisResponse acknowledges a submission.
type SubmitAnalysisResponse struct {
	AnalysisID          string    `json:"analysis_id"`
	EvidenceID          string    `json:"evidence_id"`
	Status              string    `json:"status"`
	Priority            int       `json:"priority"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
}

// StatusResponse is the poller-facing status view.
type StatusResponse struct {
	AnalysisID   string     `json:"analysis_id"`
	EvidenceID   string     `json:"evidence_id"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// ResultsResponse wraps the full result blob.
type ResultsResponse struct {
	AnalysisID string          `json:"analysis_id"`
	Results    json.RawMessage `json:"results"`
}

// AnalysisSummary is one entry in an evidence listing.
type AnalysisSummary struct {
	AnalysisID   string     `json:"analysis_id"`
	EvidenceID   string     `json:"evidence_id"`
	MediaType    string     `json:"media_type"`
	Priority     int        `json:"priority"`
	Status       string     `json:"status"`
	Progress     int        `json:"progress"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// ListAnalysesResponse is the body of GET /api/v1/evidence/:evidence_id/analyses.
type ListAnalysesResponse struct {
	EvidenceID string            `json:"evidence_id"`
	Analyses   []AnalysisSummary `json:"analyses"`
	Skip       int               `json:"skip"`
	Limit      int               `json:"limit"`
}

// StatusFromDomain projects a status view into its response shape.
func StatusFromDomain(status *domain.JobStatus) *StatusResponse {
	return &StatusResponse{
		AnalysisID:   status.ID,
		EvidenceID:   status.EvidenceID,
		Status:       string(status.Status),
		Progress:     status.Progress,
		StartedAt:    status.StartedAt,
		CompletedAt:  status.CompletedAt,
		ErrorMessage: status.ErrorMessage,
	}
}

// SummaryFromDomain projects a job into its listing shape.
func SummaryFromDomain(job *domain.Job) AnalysisSummary {
	return AnalysisSummary{
		AnalysisID:   job.ID,
		EvidenceID:   job.EvidenceID,
		MediaType:    string(job.MediaType),
		Priority:     job.Priority,
		Status:       string(job.Status),
		Progress:     job.Progress,
		SubmittedAt:  job.SubmittedAt,
		CompletedAt:  job.CompletedAt,
		ErrorMessage: job.ErrorMessage,
	}
}
