package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/evidchain/ai-analysis-service/internal/domain"
)

// Exchange and queue names. The topology is declared idempotently on every
// connect; re-declaration with identical parameters is a no-op on the broker.
const (
	TaskExchange       = "evidence.analysis"
	ResultsExchange    = "evidence.results"
	DeadLetterExchange = "evidence.dlx"

	ResultsQueue      = "analysis.results.queue"
	ResultsRoutingKey = "analysis.results"
	DeadLetterQueue   = "dead.letter.queue"

	// MaxPriority caps the per-queue priority range. Priorities above it are
	// clamped by the broker.
	MaxPriority = 10
)

// TaskQueue returns the durable task queue name for a media type.
func TaskQueue(mt domain.MediaType) string {
	return fmt.Sprintf("%s.analysis.queue", mt)
}

// TaskRoutingKey returns the routing key a media type's queue is bound with.
func TaskRoutingKey(mt domain.MediaType) string {
	return string(mt)
}

// DeadLetterRoutingKey returns the key rejected tasks are dead-lettered with.
func DeadLetterRoutingKey(mt domain.MediaType) string {
	return fmt.Sprintf("%s.failed", mt)
}

// declareTopology sets up the full exchange/queue/binding graph: one direct
// task exchange with a durable priority queue per media type (each
// dead-lettering into the shared DLQ), a results exchange/queue pair, and the
// dead-letter exchange/queue.
func declareTopology(ch *amqp.Channel) error {
	for _, name := range []string{TaskExchange, ResultsExchange, DeadLetterExchange} {
		if err := ch.ExchangeDeclare(
			name,
			"direct",
			true,  // durable
			false, // auto-delete
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}

	for _, mt := range domain.MediaTypes {
		args := amqp.Table{
			"x-dead-letter-exchange":    DeadLetterExchange,
			"x-dead-letter-routing-key": DeadLetterRoutingKey(mt),
			"x-max-priority":            int32(MaxPriority),
		}
		if _, err := ch.QueueDeclare(
			TaskQueue(mt),
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			args,
		); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", TaskQueue(mt), err)
		}
		if err := ch.QueueBind(TaskQueue(mt), TaskRoutingKey(mt), TaskExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", TaskQueue(mt), err)
		}
	}

	if _, err := ch.QueueDeclare(ResultsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", ResultsQueue, err)
	}
	if err := ch.QueueBind(ResultsQueue, ResultsRoutingKey, ResultsExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", ResultsQueue, err)
	}

	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", DeadLetterQueue, err)
	}
	// Direct exchanges have no wildcard binding, so the DLQ binds once per
	// media type's failure key.
	for _, mt := range domain.MediaTypes {
		if err := ch.QueueBind(DeadLetterQueue, DeadLetterRoutingKey(mt), DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind dead letter queue: %w", err)
		}
	}

	return nil
}
