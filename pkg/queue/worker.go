package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/agentguard/prompt-scanner/internal/models"
	"github.com/agentguard/prompt-scanner/pkg/metrics"
)

// JobHandler processes one dequeued scan job
type JobHandler func(ctx context.Context, job *models.Job) error

// PoolOptions configures a WorkerPool
type PoolOptions struct {
	// MaxInFlight bounds concurrently running handlers. Zero means unbounded.
	MaxInFlight int

	// JobTimeout bounds a single handler call. Zero means no timeout.
	JobTimeout time.Duration

	Backoff BackoffConfig
}

// WorkerPool pulls jobs from a Queue and dispatches each to a handler
// goroutine without waiting for earlier jobs to finish
type WorkerPool struct {
	queue    Queue
	handler  JobHandler
	opts     PoolOptions
	sem      *semaphore.Weighted
	logger   *logrus.Logger
	wg       sync.WaitGroup
	loopDone chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	inFlight int64 // atomic counter for running handlers
	handled  int64
	skipped  int64
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue Queue, handler JobHandler, opts PoolOptions, logger *logrus.Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	var sem *semaphore.Weighted
	if opts.MaxInFlight > 0 {
		sem = semaphore.NewWeighted(int64(opts.MaxInFlight))
	}

	return &WorkerPool{
		queue:    queue,
		handler:  handler,
		opts:     opts,
		sem:      sem,
		logger:   logger,
		loopDone: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the dispatch loop
func (wp *WorkerPool) Start() {
	wp.logger.WithFields(logrus.Fields{
		"max_in_flight": wp.opts.MaxInFlight,
	}).Info("Starting worker pool")

	go wp.dispatch()
}

// Stop stops dequeuing and waits for in-flight jobs to complete with the given timeout
func (wp *WorkerPool) Stop(timeout time.Duration) error {
	var stopErr error

	wp.stopOnce.Do(func() {
		wp.logger.Info("Stopping worker pool")

		wp.cancel()

		done := make(chan struct{})
		go func() {
			<-wp.loopDone
			wp.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			wp.logger.Info("All jobs drained")
		case <-time.After(timeout):
			stopErr = fmt.Errorf("worker pool shutdown timeout after %v", timeout)
			wp.logger.WithField("in_flight", atomic.LoadInt64(&wp.inFlight)).
				Warn("Worker pool shutdown timeout, some jobs may still be running")
		}
	})

	return stopErr
}

// Done is closed once the dispatch loop has exited
func (wp *WorkerPool) Done() <-chan struct{} {
	return wp.loopDone
}

// dispatch is the single dequeue loop. A slot is reserved before each
// dequeue so no job is taken off the queue that cannot start immediately.
func (wp *WorkerPool) dispatch() {
	defer close(wp.loopDone)

	bo := newBackoff(wp.opts.Backoff)

	for {
		if wp.ctx.Err() != nil {
			return
		}

		if wp.sem != nil {
			if err := wp.sem.Acquire(wp.ctx, 1); err != nil {
				return
			}
		}

		job, err := wp.queue.Dequeue(wp.ctx)
		if err != nil {
			wp.release()

			if wp.ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrQueueClosed) {
				wp.logger.Info("Queue closed, dispatch loop exiting")
				return
			}

			var malformed *MalformedJobError
			if errors.As(err, &malformed) {
				wp.skip("malformed", logrus.Fields{"error": err.Error()})
				continue
			}

			wp.logger.WithError(err).Warn("Dequeue failed, backing off")
			if !bo.wait(wp.ctx) {
				return
			}
			continue
		}
		bo.reset()
		metrics.JobsDequeued.Inc()

		if err := job.Validate(); err != nil {
			wp.release()
			wp.skip("invalid", logrus.Fields{
				"scan_id": job.ScanID,
				"error":   err.Error(),
			})
			continue
		}

		wp.wg.Add(1)
		atomic.AddInt64(&wp.inFlight, 1)
		metrics.JobsInFlight.Inc()
		go wp.processJob(job)
	}
}

func (wp *WorkerPool) skip(reason string, fields logrus.Fields) {
	atomic.AddInt64(&wp.skipped, 1)
	metrics.RecordJobSkipped(reason)
	wp.logger.WithFields(fields).WithField("reason", reason).Warn("Skipping job")
}

func (wp *WorkerPool) release() {
	if wp.sem != nil {
		wp.sem.Release(1)
	}
}

// processJob runs the handler with panic recovery. In-flight jobs are not
// cancelled by Stop; they run until the handler returns or JobTimeout elapses.
func (wp *WorkerPool) processJob(job *models.Job) {
	defer func() {
		atomic.AddInt64(&wp.inFlight, -1)
		atomic.AddInt64(&wp.handled, 1)
		metrics.JobsInFlight.Dec()
		wp.release()
		wp.wg.Done()
	}()

	logger := wp.logger.WithFields(logrus.Fields{
		"scan_id":  job.ScanID,
		"agent_id": job.AgentID,
	})

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Worker panic recovered")
		}
	}()

	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if wp.opts.JobTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, wp.opts.JobTimeout)
	}
	defer cancel()

	logger.Debug("Dispatching scan job")

	if err := wp.handler(ctx, job); err != nil {
		logger.WithError(err).Error("Scan job failed")
	}
}

// Stats returns worker pool statistics
func (wp *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		MaxInFlight: wp.opts.MaxInFlight,
		InFlight:    int(atomic.LoadInt64(&wp.inFlight)),
		Handled:     atomic.LoadInt64(&wp.handled),
		Skipped:     atomic.LoadInt64(&wp.skipped),
	}
}

// WorkerPoolStats represents worker pool statistics
type WorkerPoolStats struct {
	MaxInFlight int   `json:"max_in_flight"`
	InFlight    int   `json:"in_flight"`
	Handled     int64 `json:"handled"`
	Skipped     int64 `json:"skipped"`
}
