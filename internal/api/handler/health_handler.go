package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const serviceVersion = "1.0.0"

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	logger  *slog.Logger
	store   Prober
	cache   Prober
	broker  Prober
	started time.Time
}

// NewHealthHandler creates a new HealthHandler instance.
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		logger:  deps.Logger,
		store:   deps.Store,
		cache:   deps.Cache,
		broker:  deps.Broker,
		started: time.Now(),
	}
}

// Live handles GET /health. The service is alive as long as it can answer;
// adapter state is a readiness concern.
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "ai-analysis-service",
	})
}

// Ready handles GET /health/ready. Each adapter is probed independently; the
// service reports degraded rather than unhealthy when some tiers are down,
// because submission and status reads still work off the registry.
func (h *HealthHandler) Ready(c *gin.Context) {
	adapters, allUp := h.probeAdapters(c)

	status := "ready"
	if !allUp {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"adapters": adapters,
	})
}

// Detailed handles GET /health/detailed: the readiness probe plus service
// metadata for operators.
func (h *HealthHandler) Detailed(c *gin.Context) {
	adapters, allUp := h.probeAdapters(c)

	status := "healthy"
	if !allUp {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"service":        "ai-analysis-service",
		"version":        serviceVersion,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"adapters":       adapters,
		"features": gin.H{
			"image_analysis":    true,
			"video_analysis":    true,
			"document_analysis": true,
			"audio_analysis":    true,
		},
	})
}

func (h *HealthHandler) probeAdapters(c *gin.Context) (gin.H, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	adapters := gin.H{
		"database": probe(ctx, h.store),
		"cache":    probe(ctx, h.cache),
		"broker":   probe(ctx, h.broker),
	}

	allUp := true
	for _, v := range adapters {
		if v == "unavailable" {
			allUp = false
			break
		}
	}
	return adapters, allUp
}

func probe(ctx context.Context, p Prober) string {
	if p == nil || !p.Ready(ctx) {
		return "unavailable"
	}
	return "ok"
}
