package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/evidchain/ai-analysis-service/internal/api/dto"
	"github.com/evidchain/ai-analysis-service/internal/domain"
	"github.com/evidchain/ai-analysis-service/internal/orchestrator"
)

// SubmitAnalysis handles POST /api/v1/analysis/submit.
func (h *AnalysisHandler) SubmitAnalysis(c *gin.Context) {
	var req dto.SubmitAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	receipt, err := h.service.Submit(c.Request.Context(), &orchestrator.SubmitRequest{
		EvidenceID: req.EvidenceID,
		MediaType:  domain.MediaType(req.MediaType),
		Priority:   req.Priority,
		FilePath:   req.FilePath,
		UserID:     c.GetString("subject"),
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidMediaType) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "media_type must be one of: image, video, document, audio",
			})
			return
		}
		h.logger.Error("Failed to submit analysis", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to submit analysis",
		})
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitAnalysisResponse{
		AnalysisID:          receipt.ID,
		EvidenceID:          receipt.EvidenceID,
		Status:              string(receipt.Status),
		Priority:            receipt.Priority,
		EstimatedCompletion: receipt.EstimatedCompletion,
	})
}

// SubmitBatchAnalysis handles POST /api/v1/analysis/batch. The body is a JSON
// array of submit requests; each item is submitted in order and the receipts
// come back in the same order. The first invalid item aborts the batch, so
// items before it may already be queued.
func (h *AnalysisHandler) SubmitBatchAnalysis(c *gin.Context) {
	var reqs []dto.SubmitAnalysisRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		h.logger.Error("Invalid batch request body", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}
	if len(reqs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "batch must contain at least one analysis request",
		})
		return
	}

	userID := c.GetString("subject")
	analyses := make([]dto.SubmitAnalysisResponse, 0, len(reqs))
	for i := range reqs {
		receipt, err := h.service.Submit(c.Request.Context(), &orchestrator.SubmitRequest{
			EvidenceID: reqs[i].EvidenceID,
			MediaType:  domain.MediaType(reqs[i].MediaType),
			Priority:   reqs[i].Priority,
			FilePath:   reqs[i].FilePath,
			UserID:     userID,
		})
		if err != nil {
			if errors.Is(err, domain.ErrInvalidMediaType) {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": fmt.Sprintf("item %d: media_type must be one of: image, video, document, audio", i),
				})
				return
			}
			h.logger.Error("Failed to submit batch analysis",
				slog.Int("item", i),
				slog.Any("error", err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to submit analysis",
			})
			return
		}

		analyses = append(analyses, dto.SubmitAnalysisResponse{
			AnalysisID:          receipt.ID,
			EvidenceID:          receipt.EvidenceID,
			Status:              string(receipt.Status),
			Priority:            receipt.Priority,
			EstimatedCompletion: receipt.EstimatedCompletion,
		})
	}

	c.JSON(http.StatusAccepted, gin.H{
		"analyses": analyses,
		"count":    len(analyses),
	})
}

// GetStatus handles GET /api/v1/analysis/status/:analysis_id.
func (h *AnalysisHandler) GetStatus(c *gin.Context) {
	analysisID, ok := h.analysisID(c)
	if !ok {
		return
	}

	status, err := h.service.GetStatus(c.Request.Context(), analysisID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Analysis not found",
			})
			return
		}
		h.logger.Error("Failed to get analysis status", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get analysis status",
		})
		return
	}

	c.JSON(http.StatusOK, dto.StatusFromDomain(status))
}

// GetResults handles GET /api/v1/analysis/results/:analysis_id.
func (h *AnalysisHandler) GetResults(c *gin.Context) {
	analysisID, ok := h.analysisID(c)
	if !ok {
		return
	}

	results, err := h.service.GetResult(c.Request.Context(), analysisID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Analysis not found",
			})
		case errors.Is(err, domain.ErrNotReady):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Analysis has not completed",
			})
		case errors.Is(err, domain.ErrResultMissing):
			h.logger.Error("Result blob missing for completed analysis",
				slog.String("analysis_id", analysisID),
			)
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Analysis results no longer available",
			})
		default:
			h.logger.Error("Failed to get analysis results", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to get analysis results",
			})
		}
		return
	}

	c.JSON(http.StatusOK, dto.ResultsResponse{
		AnalysisID: analysisID,
		Results:    results,
	})
}

// CancelAnalysis handles DELETE /api/v1/analysis/cancel/:analysis_id.
func (h *AnalysisHandler) CancelAnalysis(c *gin.Context) {
	analysisID, ok := h.analysisID(c)
	if !ok {
		return
	}

	job, err := h.service.Cancel(c.Request.Context(), analysisID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Analysis not found",
			})
		case errors.Is(err, domain.ErrAlreadyTerminal):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Analysis already finished",
			})
		default:
			h.logger.Error("Failed to cancel analysis", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to cancel analysis",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"analysis_id": job.ID,
		"status":      string(job.Status),
	})
}

// ListEvidenceAnalyses handles GET /api/v1/evidence/:evidence_id/analyses.
func (h *AnalysisHandler) ListEvidenceAnalyses(c *gin.Context) {
	evidenceID := c.Param("evidence_id")
	if evidenceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "evidence_id is required",
		})
		return
	}

	skip := queryInt(c, "skip", 0)
	limit := queryInt(c, "limit", 50)
	if limit > 200 {
		limit = 200
	}

	jobs, err := h.service.ListByEvidence(c.Request.Context(), evidenceID, skip, limit)
	if err != nil {
		h.logger.Error("Failed to list analyses", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list analyses",
		})
		return
	}

	analyses := make([]dto.AnalysisSummary, len(jobs))
	for i := range jobs {
		analyses[i] = dto.SummaryFromDomain(&jobs[i])
	}

	c.JSON(http.StatusOK, dto.ListAnalysesResponse{
		EvidenceID: evidenceID,
		Analyses:   analyses,
		Skip:       skip,
		Limit:      limit,
	})
}

// GetQueueStatus handles GET /api/v1/analysis/queue/status.
func (h *AnalysisHandler) GetQueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.QueueStatus(c.Request.Context()))
}

// GetAnalysisTypes handles GET /api/v1/analysis/types.
func (h *AnalysisHandler) GetAnalysisTypes(c *gin.Context) {
	types := make([]gin.H, 0, len(domain.MediaTypes))
	for _, mt := range domain.MediaTypes {
		types = append(types, gin.H{
			"media_type":               mt,
			"estimated_seconds_normal": int(orchestrator.EstimateDuration(mt, domain.PriorityNormal).Seconds()),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"supported_types": types,
		"priorities": gin.H{
			"low":      domain.PriorityLow,
			"normal":   domain.PriorityNormal,
			"high":     domain.PriorityHigh,
			"urgent":   domain.PriorityUrgent,
			"critical": domain.PriorityCritical,
		},
	})
}

// analysisID extracts and validates the analysis_id path parameter.
func (h *AnalysisHandler) analysisID(c *gin.Context) (string, bool) {
	analysisID := c.Param("analysis_id")
	if _, err := uuid.Parse(analysisID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "analysis_id must be a valid UUID",
		})
		return "", false
	}
	return analysisID, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
