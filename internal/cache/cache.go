package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/evidchain/ai-analysis-service/internal/domain"
)

// Config holds the fast-cache connection and TTL settings
type Config struct {
	Addr           string
	Password       string
	DB             int
	MaxConnections int
	DialTimeout    time.Duration
	StatusTTL      time.Duration
	ResultTTL      time.Duration
}

const (
	defaultStatusTTL = time.Hour
	defaultResultTTL = 2 * time.Hour
)

type connState int

const (
	stateNotStarted connState = iota
	stateConnecting
	stateReady
	stateFailed
)

// Redis is the fast-cache adapter: the preferred read/write tier for status
// documents and result blobs, each under its own TTL. Like the other
// adapters it dials lazily and collapses concurrent first-use attempts.
type Redis struct {
	config *Config
	logger *slog.Logger

	mu     sync.Mutex
	state  connState
	client *redis.Client
	sf     singleflight.Group
}

// New creates a Redis adapter without dialing.
func New(config *Config, logger *slog.Logger) *Redis {
	return &Redis{
		config: config,
		logger: logger,
	}
}

// EnsureReady pings the server, dialing first if needed. Failures are
// retryable on the next call.
func (r *Redis) EnsureReady(ctx context.Context) error {
	r.mu.Lock()
	if r.state == stateReady {
		client := r.client
		r.mu.Unlock()
		if err := client.Ping(ctx).Err(); err == nil {
			return nil
		}
		r.mu.Lock()
		r.state = stateFailed
	}
	r.state = stateConnecting
	r.mu.Unlock()

	_, err, _ := r.sf.Do("connect", func() (interface{}, error) {
		return nil, r.connect(ctx)
	})

	r.mu.Lock()
	if err != nil {
		r.state = stateFailed
	} else {
		r.state = stateReady
	}
	r.mu.Unlock()

	return err
}

// Ready reports availability without propagating the connection error.
func (r *Redis) Ready(ctx context.Context) bool {
	return r.EnsureReady(ctx) == nil
}

func (r *Redis) connect(ctx context.Context) error {
	r.mu.Lock()
	client := r.client
	r.mu.Unlock()

	if client == nil {
		client = redis.NewClient(&redis.Options{
			Addr:        r.config.Addr,
			Password:    r.config.Password,
			DB:          r.config.DB,
			PoolSize:    r.config.MaxConnections,
			DialTimeout: r.config.DialTimeout,
		})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		r.logger.Warn("Failed to connect to Redis",
			slog.String("addr", r.config.Addr),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.mu.Lock()
	r.client = client
	r.mu.Unlock()

	r.logger.Info("Redis connection established",
		slog.String("addr", r.config.Addr),
	)
	return nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	r.state = stateNotStarted
	return err
}

func (r *Redis) handle(ctx context.Context) (*redis.Client, error) {
	if err := r.EnsureReady(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client, nil
}

func (r *Redis) statusTTL() time.Duration {
	if r.config.StatusTTL > 0 {
		return r.config.StatusTTL
	}
	return defaultStatusTTL
}

func (r *Redis) resultTTL() time.Duration {
	if r.config.ResultTTL > 0 {
		return r.config.ResultTTL
	}
	return defaultResultTTL
}

// SetStatus caches the poller-facing status document.
func (r *Redis) SetStatus(ctx context.Context, status *domain.JobStatus) error {
	client, err := r.handle(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	return client.Set(ctx, StatusKey(status.ID), payload, r.statusTTL()).Err()
}

// GetStatus returns the cached status document, or (nil, false, nil) on a
// clean miss.
func (r *Redis) GetStatus(ctx context.Context, analysisID string) (*domain.JobStatus, bool, error) {
	client, err := r.handle(ctx)
	if err != nil {
		return nil, false, err
	}

	raw, err := client.Get(ctx, StatusKey(analysisID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var status domain.JobStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached status: %w", err)
	}
	return &status, true, nil
}

// SetResult caches the full result blob under the longer result TTL.
func (r *Redis) SetResult(ctx context.Context, analysisID string, results json.RawMessage) error {
	client, err := r.handle(ctx)
	if err != nil {
		return err
	}
	return client.Set(ctx, ResultKey(analysisID), []byte(results), r.resultTTL()).Err()
}

// GetResult returns the cached result blob, or (nil, false, nil) on a miss.
func (r *Redis) GetResult(ctx context.Context, analysisID string) (json.RawMessage, bool, error) {
	client, err := r.handle(ctx)
	if err != nil {
		return nil, false, err
	}

	raw, err := client.Get(ctx, ResultKey(analysisID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(raw), true, nil
}

// Delete removes both cached entries for an analysis.
func (r *Redis) Delete(ctx context.Context, analysisID string) error {
	client, err := r.handle(ctx)
	if err != nil {
		return err
	}
	return client.Del(ctx, StatusKey(analysisID), ResultKey(analysisID)).Err()
}
