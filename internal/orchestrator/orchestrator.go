// Package orchestrator coordinates the lifecycle of analysis jobs across the
// three persistence tiers. The in-process registry is the source of truth;
// cache, durable store, and broker are best-effort side effects that degrade
// independently without failing the operation that touched them.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evidchain/ai-analysis-service/internal/domain"
)

// Store is the durable persistence tier.
type Store interface {
	Ready(ctx context.Context) bool
	SaveJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, analysisID string) (*domain.Job, error)
	SaveResult(ctx context.Context, analysisID string, results json.RawMessage) error
	GetResult(ctx context.Context, analysisID string) (json.RawMessage, error)
	ListByEvidence(ctx context.Context, evidenceID string, skip, limit int) ([]domain.Job, error)
}

// Cache is the fast read tier.
type Cache interface {
	Ready(ctx context.Context) bool
	SetStatus(ctx context.Context, status *domain.JobStatus) error
	GetStatus(ctx context.Context, analysisID string) (*domain.JobStatus, bool, error)
	SetResult(ctx context.Context, analysisID string, results json.RawMessage) error
	GetResult(ctx context.Context, analysisID string) (json.RawMessage, bool, error)
	Delete(ctx context.Context, analysisID string) error
}

// Broker dispatches task and result messages.
type Broker interface {
	Ready(ctx context.Context) bool
	PublishTask(ctx context.Context, task *domain.TaskMessage) error
	PublishResult(ctx context.Context, msg *domain.ResultMessage) error
}

// SubmitRequest carries a new analysis submission.
type SubmitRequest struct {
	EvidenceID string
	MediaType  domain.MediaType
	Priority   int
	FilePath   string
	UserID     string
}

// StatusUpdate carries a worker-reported change to one job.
type StatusUpdate struct {
	Status       domain.Status
	Progress     int
	Result       json.RawMessage
	ErrorMessage string
}

// Orchestrator owns job lifecycle and tier coordination.
type Orchestrator struct {
	registry *Registry
	store    Store
	cache    Cache
	broker   Broker
	logger   *slog.Logger

	now   func() time.Time
	newID func() string
}

// New creates an orchestrator over the three tiers.
func New(store Store, cache Cache, broker Broker, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry: NewRegistry(0),
		store:    store,
		cache:    cache,
		broker:   broker,
		logger:   logger,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Registry exposes the in-process job table for aggregation endpoints.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Submit registers a new analysis job and dispatches it. Registry insertion
// always succeeds, so the caller gets a receipt even when cache, store, and
// broker are all unreachable; the degraded tiers are logged and skipped.
func (o *Orchestrator) Submit(ctx context.Context, req *SubmitRequest) (*domain.SubmitReceipt, error) {
	if !req.MediaType.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidMediaType, req.MediaType)
	}

	priority := req.Priority
	if priority == 0 {
		priority = domain.PriorityNormal
	}
	if priority < domain.PriorityLow {
		priority = domain.PriorityLow
	}
	if priority > domain.PriorityCritical {
		priority = domain.PriorityCritical
	}

	now := o.now().UTC()
	job := &domain.Job{
		ID:          o.newID(),
		EvidenceID:  req.EvidenceID,
		MediaType:   req.MediaType,
		Priority:    priority,
		Status:      domain.StatusPending,
		Progress:    0,
		PayloadRef:  req.FilePath,
		UserID:      req.UserID,
		SubmittedAt: now,
	}

	o.registry.Put(job)

	if err := o.cache.SetStatus(ctx, domain.StatusOf(job)); err != nil {
		o.logger.Warn("Cache unavailable on submit, continuing",
			slog.String("analysis_id", job.ID),
			slog.Any("error", err),
		)
	}
	if err := o.store.SaveJob(ctx, job); err != nil {
		o.logger.Warn("Durable store unavailable on submit, continuing",
			slog.String("analysis_id", job.ID),
			slog.Any("error", err),
		)
	}

	task := &domain.TaskMessage{
		AnalysisID:  job.ID,
		EvidenceID:  job.EvidenceID,
		MediaType:   job.MediaType,
		FilePath:    job.PayloadRef,
		Priority:    job.Priority,
		SubmittedAt: job.SubmittedAt,
	}
	if err := o.broker.PublishTask(ctx, task); err != nil {
		o.logger.Warn("Broker unavailable on submit, task not dispatched",
			slog.String("analysis_id", job.ID),
			slog.String("queue", string(job.MediaType)),
			slog.Any("error", err),
		)
	}

	o.logger.Info("Analysis submitted",
		slog.String("analysis_id", job.ID),
		slog.String("evidence_id", job.EvidenceID),
		slog.String("media_type", string(job.MediaType)),
		slog.Int("priority", job.Priority),
	)

	return &domain.SubmitReceipt{
		ID:                  job.ID,
		EvidenceID:          job.EvidenceID,
		Status:              job.Status,
		Priority:            job.Priority,
		EstimatedCompletion: now.Add(EstimateDuration(job.MediaType, job.Priority)),
	}, nil
}

// GetStatus reads the status view tier by tier: cache, then durable store,
// then registry. A tier error demotes to the next tier; domain.ErrNotFound
// means every reachable tier agreed the id is unknown.
func (o *Orchestrator) GetStatus(ctx context.Context, analysisID string) (*domain.JobStatus, error) {
	status, hit, err := o.cache.GetStatus(ctx, analysisID)
	if err != nil {
		o.logger.Warn("Cache read failed, falling back to durable store",
			slog.String("analysis_id", analysisID),
			slog.Any("error", err),
		)
	} else if hit {
		return status, nil
	}

	job, err := o.store.GetJob(ctx, analysisID)
	if err == nil {
		status := domain.StatusOf(job)
		if cerr := o.cache.SetStatus(ctx, status); cerr != nil {
			o.logger.Debug("Cache backfill failed", slog.Any("error", cerr))
		}
		return status, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		o.logger.Warn("Durable store read failed, falling back to registry",
			slog.String("analysis_id", analysisID),
			slog.Any("error", err),
		)
	}

	if job := o.registry.Get(analysisID); job != nil {
		return domain.StatusOf(job), nil
	}

	return nil, domain.ErrNotFound
}

// GetResult returns the full result blob for a completed job. A known but
// non-completed job yields domain.ErrNotReady; a completed job whose blob
// cannot be found in any tier yields domain.ErrResultMissing.
func (o *Orchestrator) GetResult(ctx context.Context, analysisID string) (json.RawMessage, error) {
	status, err := o.GetStatus(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if status.Status != domain.StatusCompleted {
		return nil, fmt.Errorf("%w: analysis is %s", domain.ErrNotReady, status.Status)
	}

	results, hit, err := o.cache.GetResult(ctx, analysisID)
	if err != nil {
		o.logger.Warn("Cache result read failed, falling back to durable store",
			slog.String("analysis_id", analysisID),
			slog.Any("error", err),
		)
	} else if hit {
		return results, nil
	}

	results, err = o.store.GetResult(ctx, analysisID)
	if err == nil {
		if cerr := o.cache.SetResult(ctx, analysisID, results); cerr != nil {
			o.logger.Debug("Cache backfill failed", slog.Any("error", cerr))
		}
		return results, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		o.logger.Warn("Durable store result read failed, falling back to registry",
			slog.String("analysis_id", analysisID),
			slog.Any("error", err),
		)
	}

	if job := o.registry.Get(analysisID); job != nil && job.Result != nil {
		return job.Result, nil
	}

	return nil, domain.ErrResultMissing
}

// UpdateStatus applies a worker-reported update. Illegal transitions and
// updates against terminal jobs are dropped, not errored: the returned applied
// flag is false and the job is unchanged. Progress never moves backward.
func (o *Orchestrator) UpdateStatus(ctx context.Context, analysisID string, upd StatusUpdate) (*domain.Job, bool, error) {
	current := o.registry.Get(analysisID)
	if current == nil {
		// Process restart can leave the registry empty while the durable
		// store still knows the job; rehydrate before applying.
		stored, err := o.store.GetJob(ctx, analysisID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, false, domain.ErrNotFound
			}
			return nil, false, err
		}
		o.registry.Put(stored)
		current = stored
	}

	if current.Status.Terminal() {
		o.logger.Warn("Dropping update against terminal job",
			slog.String("analysis_id", analysisID),
			slog.String("status", string(current.Status)),
			slog.String("requested", string(upd.Status)),
		)
		return current, false, nil
	}
	sameStatus := upd.Status == current.Status
	if !sameStatus && !current.Status.CanTransition(upd.Status) {
		o.logger.Warn("Dropping illegal status transition",
			slog.String("analysis_id", analysisID),
			slog.String("from", string(current.Status)),
			slog.String("to", string(upd.Status)),
		)
		return current, false, nil
	}

	now := o.now().UTC()
	job := o.registry.Update(analysisID, func(j *domain.Job) {
		j.Status = upd.Status
		if upd.Progress > j.Progress {
			j.Progress = upd.Progress
		}
		switch upd.Status {
		case domain.StatusProcessing:
			if j.StartedAt == nil {
				t := now
				j.StartedAt = &t
			}
		case domain.StatusCompleted:
			j.Progress = 100
			t := now
			j.CompletedAt = &t
			j.Result = upd.Result
		case domain.StatusFailed, domain.StatusCancelled:
			t := now
			j.CompletedAt = &t
			j.ErrorMessage = upd.ErrorMessage
		}
	})

	o.flush(ctx, job)
	return job, true, nil
}

// flush writes the job's current state to cache and store. On completion the
// result blob is written before the status record in each tier, so a reader
// that observes completed can always fetch the result from the same tier.
func (o *Orchestrator) flush(ctx context.Context, job *domain.Job) {
	if job.Status == domain.StatusCompleted && job.Result != nil {
		if err := o.cache.SetResult(ctx, job.ID, job.Result); err != nil {
			o.logger.Warn("Cache result write failed",
				slog.String("analysis_id", job.ID),
				slog.Any("error", err),
			)
		}
		if err := o.store.SaveResult(ctx, job.ID, job.Result); err != nil {
			o.logger.Warn("Durable store result write failed",
				slog.String("analysis_id", job.ID),
				slog.Any("error", err),
			)
		}
	}

	if err := o.cache.SetStatus(ctx, domain.StatusOf(job)); err != nil {
		o.logger.Warn("Cache status write failed",
			slog.String("analysis_id", job.ID),
			slog.Any("error", err),
		)
	}
	if err := o.store.SaveJob(ctx, job); err != nil {
		o.logger.Warn("Durable store status write failed",
			slog.String("analysis_id", job.ID),
			slog.Any("error", err),
		)
	} else if job.Status.Terminal() {
		o.registry.MarkFlushed(job.ID)
	}
}

// Cancel cancels a pending or processing job. A job already in any terminal
// state yields domain.ErrAlreadyTerminal.
func (o *Orchestrator) Cancel(ctx context.Context, analysisID string) (*domain.Job, error) {
	// UpdateStatus owns the registry rehydration and the terminal check; a
	// rejected cancellation means the job finished first.
	job, applied, err := o.UpdateStatus(ctx, analysisID, StatusUpdate{Status: domain.StatusCancelled})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("%w: analysis is %s", domain.ErrAlreadyTerminal, job.Status)
	}

	o.logger.Info("Analysis cancelled", slog.String("analysis_id", analysisID))
	return job, nil
}

// ListByEvidence returns analyses referencing one evidence item, durable store
// first with a registry fallback when the store is unreachable.
func (o *Orchestrator) ListByEvidence(ctx context.Context, evidenceID string, skip, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	jobs, err := o.store.ListByEvidence(ctx, evidenceID, skip, limit)
	if err == nil {
		return jobs, nil
	}
	o.logger.Warn("Durable store list failed, serving from registry",
		slog.String("evidence_id", evidenceID),
		slog.Any("error", err),
	)

	all := o.registry.ListByEvidence(evidenceID)
	if skip >= len(all) {
		return []domain.Job{}, nil
	}
	all = all[skip:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// QueueStatus aggregates the registry into a point-in-time snapshot.
func (o *Orchestrator) QueueStatus(ctx context.Context) *domain.QueueStatus {
	jobs := o.registry.Snapshot()
	now := o.now().UTC()

	qs := &domain.QueueStatus{
		QueueByType:     make(map[string]int),
		QueueByPriority: make(map[string]int),
	}

	var waitTotal, procTotal float64
	var waitCount, procCount int

	for i := range jobs {
		job := &jobs[i]
		switch job.Status {
		case domain.StatusPending:
			qs.TotalPending++
			qs.QueueByType[string(job.MediaType)]++
			qs.QueueByPriority[priorityBucket(job.Priority)]++
			waitTotal += now.Sub(job.SubmittedAt).Seconds()
			waitCount++
		case domain.StatusProcessing:
			qs.TotalProcessing++
		case domain.StatusCompleted:
			qs.TotalCompleted++
		case domain.StatusFailed:
			qs.TotalFailed++
		case domain.StatusCancelled:
			qs.TotalCancelled++
		}

		if job.StartedAt != nil {
			waitTotal += job.StartedAt.Sub(job.SubmittedAt).Seconds()
			waitCount++
			if job.CompletedAt != nil {
				procTotal += job.CompletedAt.Sub(*job.StartedAt).Seconds()
				procCount++
			}
		}
	}

	if waitCount > 0 {
		qs.AverageWaitSeconds = waitTotal / float64(waitCount)
	}
	if procCount > 0 {
		qs.AverageProcessSeconds = procTotal / float64(procCount)
	}
	return qs
}

func priorityBucket(priority int) string {
	switch {
	case priority >= domain.PriorityCritical:
		return "critical"
	case priority >= domain.PriorityUrgent:
		return "urgent"
	case priority >= domain.PriorityHigh:
		return "high"
	case priority >= domain.PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}
