package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/evidchain/ai-analysis-service/internal/domain"
	"github.com/evidchain/ai-analysis-service/internal/packager"
)

// maxCallbackErrorBody bounds how much of a rejected callback response is
// carried into the error for logging.
const maxCallbackErrorBody = 512

// TokenIssuer mints short-lived service tokens for the result callback.
type TokenIssuer interface {
	Issue() (string, error)
}

// DeliveryConfig holds result delivery settings.
type DeliveryConfig struct {
	EvidenceServiceURL string
	CallbackTimeout    time.Duration
}

// Deliverer pushes packaged results to the evidence service over both
// channels: the results queue and the HTTP callback. The two are independent;
// one failing does not stop the other.
type Deliverer struct {
	config *DeliveryConfig
	broker Broker
	tokens TokenIssuer
	client *http.Client
	logger *slog.Logger
}

// NewDeliverer creates a deliverer. A nil client selects a default with the
// configured callback timeout.
func NewDeliverer(config *DeliveryConfig, broker Broker, tokens TokenIssuer, client *http.Client, logger *slog.Logger) *Deliverer {
	if client == nil {
		timeout := config.CallbackTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Deliverer{
		config: config,
		broker: broker,
		tokens: tokens,
		client: client,
		logger: logger,
	}
}

// Deliver publishes the raw result on the results queue and posts the
// packaged payload to the evidence service callback. The raw blob travels on
// the queue; the callback gets the packaged contract shape, falling back to
// the zero-confidence payload when packaging fails.
func (d *Deliverer) Deliver(ctx context.Context, job *domain.Job) error {
	completedAt := job.SubmittedAt
	if job.CompletedAt != nil {
		completedAt = *job.CompletedAt
	}

	var queueErr error
	if err := d.broker.PublishResult(ctx, &domain.ResultMessage{
		AnalysisID:  job.ID,
		EvidenceID:  job.EvidenceID,
		Results:     job.Result,
		CompletedAt: completedAt,
	}); err != nil {
		queueErr = fmt.Errorf("results queue publish failed: %w", err)
		d.logger.Warn("Results queue publish failed",
			slog.String("analysis_id", job.ID),
			slog.Any("error", err),
		)
	}

	payload := packager.Package(job.ID, job.EvidenceID, job.MediaType, completedAt, job.Result)
	if payload.Metadata.Error != "" {
		d.logger.Warn("Result packaging degraded to fallback payload",
			slog.String("analysis_id", job.ID),
			slog.String("reason", payload.Metadata.Error),
		)
	}

	if err := d.postCallback(ctx, job.EvidenceID, payload); err != nil {
		d.logger.Warn("Evidence service callback failed",
			slog.String("analysis_id", job.ID),
			slog.String("evidence_id", job.EvidenceID),
			slog.Any("error", err),
		)
		if queueErr != nil {
			return fmt.Errorf("both delivery channels failed: %w", err)
		}
		return nil
	}

	d.logger.Info("Result delivered",
		slog.String("analysis_id", job.ID),
		slog.String("evidence_id", job.EvidenceID),
		slog.Int("confidence", payload.Confidence),
		slog.Bool("anomalies", payload.AnomaliesDetected),
	)
	return queueErr
}

func (d *Deliverer) postCallback(ctx context.Context, evidenceID string, payload *packager.Payload) error {
	if d.config.EvidenceServiceURL == "" {
		return fmt.Errorf("evidence service URL not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal callback payload: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/evidence/%s/analysis", d.config.EvidenceServiceURL, evidenceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := d.tokens.Issue()
	if err != nil {
		return fmt.Errorf("failed to issue callback token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxCallbackErrorBody))
		return fmt.Errorf("callback rejected with status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
