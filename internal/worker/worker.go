// Package worker consumes analysis tasks from the media-type queues, runs the
// matching processor, and reports outcomes back through the orchestrator.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/evidchain/ai-analysis-service/internal/domain"
	"github.com/evidchain/ai-analysis-service/internal/orchestrator"
	"github.com/evidchain/ai-analysis-service/internal/processor"
)

// Lifecycle is the orchestrator surface workers report through.
type Lifecycle interface {
	UpdateStatus(ctx context.Context, analysisID string, upd orchestrator.StatusUpdate) (*domain.Job, bool, error)
}

// ResultDeliverer pushes a completed job's result to the evidence service.
type ResultDeliverer interface {
	Deliver(ctx context.Context, job *domain.Job) error
}

// TaskSource supplies deliveries from one media-type queue.
type TaskSource interface {
	Consume(ctx context.Context, mt domain.MediaType, consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration.
type Config struct {
	Logger        *slog.Logger
	Broker        TaskSource
	Lifecycle     Lifecycle
	Deliverer     ResultDeliverer
	Processors    map[domain.MediaType]processor.Processor
	MediaTypes    []domain.MediaType
	Concurrency   int
	PrefetchCount int
	TaskTimeout   time.Duration
}

// Worker is the background analysis worker: one consumer per media-type
// queue feeding a shared pool of processing goroutines.
type Worker struct {
	logger      *slog.Logger
	broker      TaskSource
	lifecycle   Lifecycle
	deliverer   ResultDeliverer
	processors  map[domain.MediaType]processor.Processor
	mediaTypes  []domain.MediaType
	concurrency int
	prefetch    int
	taskTimeout time.Duration
	workerID    string

	tasksChan chan *taskEnvelope
	wg        sync.WaitGroup
}

// taskEnvelope pairs a parsed task with its broker delivery for ack/nack.
type taskEnvelope struct {
	task     *domain.TaskMessage
	delivery amqp.Delivery
}

// New creates a worker.
func New(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}
	taskTimeout := cfg.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = 10 * time.Minute
	}
	mediaTypes := cfg.MediaTypes
	if len(mediaTypes) == 0 {
		mediaTypes = domain.MediaTypes
	}

	return &Worker{
		logger:      cfg.Logger,
		broker:      cfg.Broker,
		lifecycle:   cfg.Lifecycle,
		deliverer:   cfg.Deliverer,
		processors:  cfg.Processors,
		mediaTypes:  mediaTypes,
		concurrency: concurrency,
		prefetch:    prefetch,
		taskTimeout: taskTimeout,
		workerID:    fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		tasksChan:   make(chan *taskEnvelope),
	}
}

// Start subscribes to every configured media-type queue, spawns the
// processing pool, and blocks until ctx is cancelled. In-flight tasks finish
// before Start returns; their unstarted siblings are redelivered by the
// broker after the unacked channel closes.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetch),
	)

	var dispatchers sync.WaitGroup
	for _, mt := range w.mediaTypes {
		consumerTag := fmt.Sprintf("%s-%s", w.workerID, mt)
		deliveries, err := w.broker.Consume(ctx, mt, consumerTag, w.prefetch)
		if err != nil {
			return fmt.Errorf("failed to consume %s queue: %w", mt, err)
		}
		w.logger.Info("Consumer started",
			slog.String("consumer_tag", consumerTag),
			slog.String("media_type", string(mt)),
		)

		dispatchers.Add(1)
		go func(mt domain.MediaType, deliveries <-chan amqp.Delivery) {
			defer dispatchers.Done()
			w.dispatch(ctx, mt, deliveries)
		}(mt, deliveries)
	}

	w.spawnPool(ctx)

	<-ctx.Done()
	w.logger.Info("Worker shutting down", slog.String("worker_id", w.workerID))

	dispatchers.Wait()
	close(w.tasksChan)
	w.wg.Wait()

	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	return nil
}

// dispatch parses deliveries from one queue and feeds the pool. Malformed
// messages are rejected without requeue so the dead letter exchange collects
// them instead of the queue cycling them forever.
func (w *Worker) dispatch(ctx context.Context, mt domain.MediaType, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("Delivery channel closed",
					slog.String("media_type", string(mt)),
				)
				return
			}

			task, err := parseTask(delivery.Body)
			if err != nil {
				w.logger.Error("Rejecting malformed task message",
					slog.String("media_type", string(mt)),
					slog.Any("error", err),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message", slog.Any("error", nackErr))
				}
				continue
			}

			select {
			case w.tasksChan <- &taskEnvelope{task: task, delivery: delivery}:
			case <-ctx.Done():
				// Requeue so another worker picks it up after shutdown.
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown", slog.Any("error", nackErr))
				}
				return
			}
		}
	}
}
