package processor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidchain/ai-analysis-service/internal/domain"
	"github.com/evidchain/ai-analysis-service/internal/packager"
)

func task(mt domain.MediaType) *domain.TaskMessage {
	return &domain.TaskMessage{
		AnalysisID:  "an-42",
		EvidenceID:  "ev-42",
		MediaType:   mt,
		FilePath:    "/evidence/sample.bin",
		Priority:    domain.PriorityNormal,
		SubmittedAt: time.Now(),
	}
}

func TestForMediaTypeCoversAllTypes(t *testing.T) {
	for _, mt := range domain.MediaTypes {
		p, err := ForMediaType(mt, &Config{})
		require.NoError(t, err)
		assert.Equal(t, mt, p.MediaType())
	}

	_, err := ForMediaType("hologram", &Config{})
	assert.Error(t, err)
}

func TestProcessEmitsPackageableResults(t *testing.T) {
	for _, mt := range domain.MediaTypes {
		t.Run(string(mt), func(t *testing.T) {
			p, err := ForMediaType(mt, &Config{})
			require.NoError(t, err)

			var progress []int
			raw, err := p.Process(context.Background(), task(mt), func(v int) {
				progress = append(progress, v)
			})
			require.NoError(t, err)
			require.NotEmpty(t, raw)

			// Progress reports must be monotone and in range.
			require.NotEmpty(t, progress)
			last := 0
			for _, v := range progress {
				assert.GreaterOrEqual(t, v, last)
				assert.LessOrEqual(t, v, 100)
				last = v
			}

			// The packager must recognize the emitted shape.
			payload := packager.Package("an-42", "ev-42", mt, time.Now(), raw)
			assert.Empty(t, payload.Metadata.Error)
			assert.Greater(t, payload.Confidence, 0)
		})
	}
}

func TestProcessIsDeterministicPerTask(t *testing.T) {
	p, err := ForMediaType(domain.MediaTypeDocument, &Config{})
	require.NoError(t, err)

	first, err := p.Process(context.Background(), task(domain.MediaTypeDocument), nil)
	require.NoError(t, err)
	second, err := p.Process(context.Background(), task(domain.MediaTypeDocument), nil)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
}

func TestProcessHonorsCancellation(t *testing.T) {
	p, err := ForMediaType(domain.MediaTypeVideo, &Config{StageDelay: time.Minute})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = p.Process(ctx, task(domain.MediaTypeVideo), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResultsCarryConfidenceScore(t *testing.T) {
	p, err := ForMediaType(domain.MediaTypeImage, &Config{})
	require.NoError(t, err)

	raw, err := p.Process(context.Background(), task(domain.MediaTypeImage), nil)
	require.NoError(t, err)

	var decoded struct {
		ConfidenceScore float64 `json:"confidence_score"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Greater(t, decoded.ConfidenceScore, 0.0)
	assert.LessOrEqual(t, decoded.ConfidenceScore, 1.0)
}
