package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/agentguard/prompt-scanner/internal/models"
)

// DefaultQueueName is the single logical topic carrying scan jobs
const DefaultQueueName = "scan_jobs"

// ErrQueueClosed is returned by queue operations after Close
var ErrQueueClosed = errors.New("queue is closed")

// Queue is a FIFO channel of scan jobs between the API tier and the worker tier.
// A dequeued job is owned by the caller; there is no acknowledgement or redelivery.
type Queue interface {
	// Enqueue appends a job to the tail of the queue
	Enqueue(ctx context.Context, job *models.Job) error

	// Dequeue removes the job at the head of the queue.
	// Blocks until a job is available or ctx is cancelled.
	Dequeue(ctx context.Context) (*models.Job, error)

	// Close releases the queue's resources
	Close() error
}

// MalformedJobError is returned by Dequeue when a message could not be decoded.
// The message has already been removed from the queue.
type MalformedJobError struct {
	Payload string
	Err     error
}

func (e *MalformedJobError) Error() string {
	return fmt.Sprintf("malformed job message: %v", e.Err)
}

func (e *MalformedJobError) Unwrap() error {
	return e.Err
}

// MemoryQueue is an in-process queue backed by a buffered channel.
// It only connects producers and consumers living in the same process.
type MemoryQueue struct {
	queue    chan *models.Job
	capacity int
	depth    int64 // atomic counter for current queue depth
	logger   *logrus.Logger
	mu       sync.RWMutex
	closed   bool
}

// NewMemoryQueue creates a new in-memory queue with the specified capacity
func NewMemoryQueue(capacity int, logger *logrus.Logger) *MemoryQueue {
	return &MemoryQueue{
		queue:    make(chan *models.Job, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Enqueue adds a job to the queue.
// Returns error if queue is full or closed.
func (q *MemoryQueue) Enqueue(ctx context.Context, job *models.Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	// Copy so later mutation by the producer cannot reach the consumer
	msg := *job

	select {
	case q.queue <- &msg:
		atomic.AddInt64(&q.depth, 1)
		q.logger.WithFields(logrus.Fields{
			"scan_id":     job.ScanID,
			"queue_depth": atomic.LoadInt64(&q.depth),
		}).Debug("Scan job enqueued")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue cancelled: %w", ctx.Err())
	default:
		return fmt.Errorf("queue is full (capacity: %d)", q.capacity)
	}
}

// Dequeue removes and returns a job from the queue (FIFO).
// Blocks until a job is available or context is cancelled.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*models.Job, error) {
	select {
	case job, ok := <-q.queue:
		if !ok {
			return nil, ErrQueueClosed
		}
		atomic.AddInt64(&q.depth, -1)
		return job, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("dequeue cancelled: %w", ctx.Err())
	}
}

// Depth returns the current number of items in the queue
func (q *MemoryQueue) Depth() int {
	return int(atomic.LoadInt64(&q.depth))
}

// Close closes the queue, preventing new enqueues.
// Existing items remain in the queue for processing.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.queue)
		q.logger.Info("Scan queue closed")
	}
	return nil
}

// Stats returns queue statistics
func (q *MemoryQueue) Stats() QueueStats {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()

	depth := q.Depth()
	var utilization float64
	if q.capacity > 0 {
		utilization = float64(depth) / float64(q.capacity) * 100
	}
	return QueueStats{
		Depth:       depth,
		Capacity:    q.capacity,
		Utilization: utilization,
		IsFull:      depth >= q.capacity,
		IsEmpty:     depth == 0,
		Closed:      closed,
	}
}

// QueueStats represents queue statistics
type QueueStats struct {
	Depth       int     `json:"depth"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization"` // Percentage (0-100)
	IsFull      bool    `json:"is_full"`
	IsEmpty     bool    `json:"is_empty"`
	Closed      bool    `json:"closed"`
}
