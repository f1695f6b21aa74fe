package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/agentguard/prompt-scanner/internal/models"
	"github.com/agentguard/prompt-scanner/pkg/metrics"
)

// RedisOptions configures the Redis connection
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// Name is the list key carrying jobs
	Name string

	// TLS configuration for secure connections
	TLS *tls.Config

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	// BlockTimeout bounds a single BRPOP so cancellation is observed
	// between blocking calls
	BlockTimeout time.Duration
}

// RedisQueue is a durable FIFO queue on a Redis list (LPUSH / BRPOP)
type RedisQueue struct {
	client       *redis.Client
	name         string
	blockTimeout time.Duration
	logger       *logrus.Logger
}

// NewRedisQueue connects to Redis and returns a queue on the configured list
func NewRedisQueue(opts RedisOptions, logger *logrus.Logger) (*RedisQueue, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Name == "" {
		opts.Name = DefaultQueueName
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.BlockTimeout == 0 {
		opts.BlockTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if opts.TLS != nil {
		redisOpts.TLSConfig = opts.TLS
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"queue": opts.Name,
		"addr":  redisOpts.Addr,
	}).Info("Connected to Redis queue")

	return &RedisQueue{
		client:       client,
		name:         opts.Name,
		blockTimeout: opts.BlockTimeout,
		logger:       logger,
	}, nil
}

// Enqueue pushes a job onto the tail of the list
func (q *RedisQueue) Enqueue(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.LPush(ctx, q.name, data).Err(); err != nil {
		metrics.RecordQueueError("enqueue")
		return fmt.Errorf("failed to push to queue %s: %w", q.name, err)
	}

	q.logger.WithField("scan_id", job.ScanID).Debug("Scan job enqueued")
	return nil
}

// Dequeue pops the job at the head of the list, blocking until one is
// available or ctx is cancelled
func (q *RedisQueue) Dequeue(ctx context.Context) (*models.Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("dequeue cancelled: %w", err)
		}

		// BRPOP returns [queue_name, value] or redis.Nil on timeout
		result, err := q.client.BRPop(ctx, q.blockTimeout, q.name).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil, fmt.Errorf("dequeue cancelled: %w", ctx.Err())
			}
			if errors.Is(err, redis.ErrClosed) {
				return nil, ErrQueueClosed
			}
			metrics.RecordQueueError("dequeue")
			return nil, fmt.Errorf("failed to pop from queue %s: %w", q.name, err)
		}

		if len(result) != 2 {
			return nil, fmt.Errorf("unexpected BRPOP result length: %d", len(result))
		}

		var job models.Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			return nil, &MalformedJobError{Payload: result[1], Err: err}
		}

		return &job, nil
	}
}

// Depth returns the number of jobs waiting in the list
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Ping checks that the broker is reachable
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
