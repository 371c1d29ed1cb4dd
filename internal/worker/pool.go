package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/evidchain/ai-analysis-service/internal/domain"
	"github.com/evidchain/ai-analysis-service/internal/orchestrator"
)

// parseTask validates the wire form of a task message.
func parseTask(body []byte) (*domain.TaskMessage, error) {
	var task domain.TaskMessage
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("invalid task JSON: %w", err)
	}
	if _, err := uuid.Parse(task.AnalysisID); err != nil {
		return nil, fmt.Errorf("invalid analysis_id %q: %w", task.AnalysisID, err)
	}
	if !task.MediaType.Valid() {
		return nil, fmt.Errorf("invalid media type %q", task.MediaType)
	}
	return &task, nil
}

// spawnPool starts the processing goroutines.
func (w *Worker) spawnPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
	w.logger.Info("Worker pool spawned", slog.Int("worker_count", w.concurrency))
}

func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	for env := range w.tasksChan {
		w.handleTask(ctx, workerName, env)
	}
	w.logger.Info("Worker goroutine stopped", slog.String("worker_name", workerName))
}

// handleTask runs one task end to end. A task whose outcome was recorded,
// success or failure, is acked; only shutdown mid-processing requeues the
// message. Crashes leave the delivery unacked for broker redelivery.
func (w *Worker) handleTask(ctx context.Context, workerName string, env *taskEnvelope) {
	task := env.task
	logger := w.logger.With(
		slog.String("worker_name", workerName),
		slog.String("analysis_id", task.AnalysisID),
		slog.String("media_type", string(task.MediaType)),
	)

	job, applied, err := w.lifecycle.UpdateStatus(ctx, task.AnalysisID, orchestrator.StatusUpdate{
		Status:   domain.StatusProcessing,
		Progress: 5,
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Nobody knows this analysis; dead-letter it.
			logger.Error("Rejecting task for unknown analysis")
			w.nack(logger, env, false)
			return
		}
		// Transient store failure; requeue for another attempt.
		logger.Warn("Failed to claim task, requeueing", slog.Any("error", err))
		w.nack(logger, env, true)
		return
	}
	if !applied {
		// Cancelled or otherwise terminal before a worker picked it up.
		logger.Info("Skipping task for terminal analysis", slog.String("status", string(job.Status)))
		w.ack(logger, env)
		return
	}

	logger.Info("Processing analysis")

	proc, ok := w.processors[task.MediaType]
	if !ok {
		w.recordFailure(ctx, logger, task, fmt.Sprintf("no processor registered for media type %s", task.MediaType))
		w.ack(logger, env)
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	results, err := proc.Process(taskCtx, task, func(progress int) {
		_, _, perr := w.lifecycle.UpdateStatus(ctx, task.AnalysisID, orchestrator.StatusUpdate{
			Status:   domain.StatusProcessing,
			Progress: progress,
		})
		if perr != nil {
			logger.Debug("Progress report failed", slog.Any("error", perr))
		}
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			// Shutdown, not a processing failure; give the task back.
			logger.Info("Requeueing task interrupted by shutdown")
			w.nack(logger, env, true)
			return
		}
		w.recordFailure(ctx, logger, task, err.Error())
		w.ack(logger, env)
		return
	}

	job, applied, err = w.lifecycle.UpdateStatus(ctx, task.AnalysisID, orchestrator.StatusUpdate{
		Status: domain.StatusCompleted,
		Result: results,
	})
	if err != nil {
		logger.Error("Failed to record completion", slog.Any("error", err))
		w.nack(logger, env, true)
		return
	}
	if applied {
		if derr := w.deliverer.Deliver(ctx, job); derr != nil {
			// Delivery failures never fail the analysis; the result is
			// persisted and pollable.
			logger.Warn("Result delivery failed", slog.Any("error", derr))
		}
		logger.Info("Analysis completed")
	} else {
		logger.Info("Completion dropped, analysis already terminal",
			slog.String("status", string(job.Status)),
		)
	}
	w.ack(logger, env)
}

func (w *Worker) recordFailure(ctx context.Context, logger *slog.Logger, task *domain.TaskMessage, reason string) {
	logger.Error("Analysis failed", slog.String("reason", reason))
	_, _, err := w.lifecycle.UpdateStatus(ctx, task.AnalysisID, orchestrator.StatusUpdate{
		Status:       domain.StatusFailed,
		ErrorMessage: reason,
	})
	if err != nil {
		logger.Error("Failed to record failure", slog.Any("error", err))
	}
}

func (w *Worker) ack(logger *slog.Logger, env *taskEnvelope) {
	if err := env.delivery.Ack(false); err != nil {
		logger.Error("Failed to ACK message", slog.Any("error", err))
	}
}

func (w *Worker) nack(logger *slog.Logger, env *taskEnvelope, requeue bool) {
	if err := env.delivery.Nack(false, requeue); err != nil {
		logger.Error("Failed to NACK message", slog.Any("error", err))
	}
}
