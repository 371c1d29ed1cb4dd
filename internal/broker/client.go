package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/singleflight"

	"github.com/evidchain/ai-analysis-service/internal/domain"
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

type connState int

const (
	stateNotStarted connState = iota
	stateConnecting
	stateReady
	stateFailed
)

// Client is the broker adapter. Topology is declared on every successful
// connect; publishing and consuming lazily establish the connection like the
// other adapters.
type Client struct {
	config *Config
	logger *slog.Logger

	mu      sync.Mutex
	state   connState
	conn    *amqp.Connection
	channel *amqp.Channel
	sf      singleflight.Group
}

// New creates a broker client without dialing.
func New(config *Config, logger *slog.Logger) *Client {
	return &Client{
		config: config,
		logger: logger,
	}
}

// EnsureReady dials and declares the topology if the connection is not
// already up. Concurrent callers share a single attempt.
func (c *Client) EnsureReady(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateReady && c.conn != nil && !c.conn.IsClosed() {
		c.mu.Unlock()
		return nil
	}
	c.state = stateConnecting
	c.mu.Unlock()

	_, err, _ := c.sf.Do("connect", func() (interface{}, error) {
		return nil, c.connect(ctx)
	})

	c.mu.Lock()
	if err != nil {
		c.state = stateFailed
	} else {
		c.state = stateReady
	}
	c.mu.Unlock()

	return err
}

// Ready reports availability without propagating the connection error.
func (c *Client) Ready(ctx context.Context) bool {
	return c.EnsureReady(ctx) == nil
}

// connect establishes connection to RabbitMQ with retry logic, then declares
// the full topology.
func (c *Client) connect(ctx context.Context) error {
	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			break
		}

		c.logger.Warn("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			select {
			case <-time.After(c.config.RetryInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareTopology(channel); err != nil {
		channel.Close()
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()

	c.logger.Info("RabbitMQ topology declared",
		slog.String("task_exchange", TaskExchange),
		slog.String("results_exchange", ResultsExchange),
		slog.String("dead_letter_exchange", DeadLetterExchange),
	)

	return nil
}

func (c *Client) handle(ctx context.Context) (*amqp.Channel, error) {
	if err := c.EnsureReady(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel, nil
}

// PublishTask routes an analysis task to the media-type queue with the job's
// priority. Persistent delivery mode: tasks survive a broker restart.
func (c *Client) PublishTask(ctx context.Context, task *domain.TaskMessage) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task message: %w", err)
	}

	priority := task.Priority
	if priority > MaxPriority {
		priority = MaxPriority
	}
	if priority < 0 {
		priority = 0
	}

	return c.publish(ctx, TaskExchange, TaskRoutingKey(task.MediaType), body, uint8(priority))
}

// PublishResult publishes a completed-job payload on the results exchange.
func (c *Client) PublishResult(ctx context.Context, msg *domain.ResultMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal result message: %w", err)
	}
	return c.publish(ctx, ResultsExchange, ResultsRoutingKey, body, 0)
}

// publish sends one persistent message with retry and exponential backoff.
func (c *Client) publish(ctx context.Context, exchange, routingKey string, body []byte, priority uint8) error {
	channel, err := c.handle(ctx)
	if err != nil {
		return err
	}

	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	mult := c.config.PublishBackoffMult
	if mult <= 1 {
		mult = 2
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := channel.PublishWithContext(
			ctx,
			exchange,
			routingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Priority:     priority,
				Timestamp:    time.Now(),
			},
		)

		if err == nil {
			c.logger.Debug("Message published",
				slog.String("exchange", exchange),
				slog.String("routing_key", routingKey),
				slog.Int("body_size", len(body)),
			)
			return nil
		}

		lastErr = err

		if attempt < maxRetries {
			backoffDelay := retryBackoff(baseDelay, mult, attempt)
			c.logger.Warn("Failed to publish message, retrying",
				slog.String("exchange", exchange),
				slog.String("routing_key", routingKey),
				slog.Int("attempt", attempt+1),
				slog.Duration("retry_after", backoffDelay),
				slog.Any("error", err),
			)
			select {
			case <-time.After(backoffDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	c.logger.Error("Failed to publish message after all retries",
		slog.String("exchange", exchange),
		slog.String("routing_key", routingKey),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// retryBackoff grows the base delay geometrically, multiplier applied once
// per completed attempt.
func retryBackoff(base time.Duration, mult float64, attempt int) time.Duration {
	delay := float64(base)
	for i := 0; i < attempt; i++ {
		delay *= mult
	}
	return time.Duration(delay)
}

// Consume starts an explicit-ack consumer on one media type's task queue.
// QoS prefetch holds each worker to a single unacknowledged task so dispatch
// stays fair across worker instances.
func (c *Client) Consume(ctx context.Context, mt domain.MediaType, consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	channel, err := c.handle(ctx)
	if err != nil {
		return nil, err
	}

	if prefetch <= 0 {
		prefetch = 1
	}
	if err := channel.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := channel.Consume(
		TaskQueue(mt),
		consumerTag,
		false, // auto-ack: workers acknowledge explicitly
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume from %s: %w", TaskQueue(mt), err)
	}

	c.logger.Info("Consumer started",
		slog.String("queue", TaskQueue(mt)),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch_count", prefetch),
	)

	return deliveries, nil
}

// Channel exposes the underlying channel for ack/nack by delivery tag.
func (c *Client) Channel() *amqp.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// Close closes the RabbitMQ connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Warn("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
		c.channel = nil
	}

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		c.state = stateNotStarted
		if err != nil {
			c.logger.Warn("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.state = stateNotStarted
	return nil
}
