package orchestrator

import (
	"time"

	"github.com/evidchain/ai-analysis-service/internal/domain"
)

// Base processing time per media type, before priority weighting.
var baseProcessing = map[domain.MediaType]time.Duration{
	domain.MediaTypeImage:    60 * time.Second,
	domain.MediaTypeVideo:    300 * time.Second,
	domain.MediaTypeDocument: 120 * time.Second,
	domain.MediaTypeAudio:    180 * time.Second,
}

// Priority multipliers, highest bucket first. An arbitrary priority maps to
// the nearest bucket at or below it.
var priorityMultipliers = []struct {
	min    int
	factor float64
}{
	{domain.PriorityCritical, 0.3},
	{domain.PriorityUrgent, 0.5},
	{domain.PriorityHigh, 0.7},
	{domain.PriorityNormal, 1.0},
	{domain.PriorityLow, 2.0},
}

// EstimateDuration returns the expected processing time for a media type at a
// given priority.
func EstimateDuration(mt domain.MediaType, priority int) time.Duration {
	base, ok := baseProcessing[mt]
	if !ok {
		base = 120 * time.Second
	}

	factor := 2.0
	for _, m := range priorityMultipliers {
		if priority >= m.min {
			factor = m.factor
			break
		}
	}

	return time.Duration(float64(base) * factor)
}
