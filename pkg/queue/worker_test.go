package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentguard/prompt-scanner/internal/models"
)

func validJob(id string) *models.Job {
	return &models.Job{ScanID: id, AgentID: "A1", SystemPrompt: "You are a helpful assistant."}
}

func TestWorkerPool_ProcessesJobs(t *testing.T) {
	q := NewMemoryQueue(10, newTestLogger())

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{}, 3)

	pool := NewWorkerPool(q, func(ctx context.Context, job *models.Job) error {
		mu.Lock()
		seen = append(seen, job.ScanID)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, PoolOptions{MaxInFlight: 2}, newTestLogger())
	pool.Start()
	defer pool.Stop(time.Second)

	for _, id := range []string{"S1", "S2", "S3"} {
		require.NoError(t, q.Enqueue(context.Background(), validJob(id)))
	}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"S1", "S2", "S3"}, seen)
}

func TestWorkerPool_SlowJobDoesNotBlockOthers(t *testing.T) {
	q := NewMemoryQueue(10, newTestLogger())

	release := make(chan struct{})
	fast := make(chan string, 1)

	pool := NewWorkerPool(q, func(ctx context.Context, job *models.Job) error {
		if job.ScanID == "slow" {
			<-release
			return nil
		}
		fast <- job.ScanID
		return nil
	}, PoolOptions{MaxInFlight: 4}, newTestLogger())
	pool.Start()
	defer func() {
		close(release)
		pool.Stop(time.Second)
	}()

	require.NoError(t, q.Enqueue(context.Background(), validJob("slow")))
	require.NoError(t, q.Enqueue(context.Background(), validJob("fast")))

	select {
	case id := <-fast:
		assert.Equal(t, "fast", id)
	case <-time.After(2 * time.Second):
		t.Fatal("fast job was blocked behind slow job")
	}
}

func TestWorkerPool_BoundsInFlight(t *testing.T) {
	q := NewMemoryQueue(10, newTestLogger())

	var running, peak int64
	release := make(chan struct{})
	started := make(chan struct{}, 10)

	pool := NewWorkerPool(q, func(ctx context.Context, job *models.Job) error {
		n := atomic.AddInt64(&running, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		started <- struct{}{}
		<-release
		atomic.AddInt64(&running, -1)
		return nil
	}, PoolOptions{MaxInFlight: 2}, newTestLogger())
	pool.Start()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(context.Background(), validJob("S")))
	}

	<-started
	<-started
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 2, pool.Stats().InFlight)
	assert.Equal(t, 3, q.Depth(), "jobs beyond the limit stay queued")

	close(release)
	require.NoError(t, pool.Stop(2*time.Second))
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestWorkerPool_SkipsInvalidJobs(t *testing.T) {
	q := NewMemoryQueue(10, newTestLogger())

	handled := make(chan string, 3)
	pool := NewWorkerPool(q, func(ctx context.Context, job *models.Job) error {
		handled <- job.ScanID
		return nil
	}, PoolOptions{MaxInFlight: 1}, newTestLogger())
	pool.Start()
	defer pool.Stop(time.Second)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, &models.Job{AgentID: "A1", SystemPrompt: "p"}))
	require.NoError(t, q.Enqueue(ctx, &models.Job{ScanID: "S2", AgentID: "A1"}))
	require.NoError(t, q.Enqueue(ctx, validJob("S3")))

	select {
	case id := <-handled:
		assert.Equal(t, "S3", id)
	case <-time.After(2 * time.Second):
		t.Fatal("valid job was not handled")
	}

	assert.Equal(t, int64(2), pool.Stats().Skipped)
}

func TestWorkerPool_RecoversFromPanic(t *testing.T) {
	q := NewMemoryQueue(10, newTestLogger())

	handled := make(chan string, 2)
	pool := NewWorkerPool(q, func(ctx context.Context, job *models.Job) error {
		if job.ScanID == "boom" {
			panic("handler exploded")
		}
		handled <- job.ScanID
		return nil
	}, PoolOptions{MaxInFlight: 1}, newTestLogger())
	pool.Start()
	defer pool.Stop(time.Second)

	require.NoError(t, q.Enqueue(context.Background(), validJob("boom")))
	require.NoError(t, q.Enqueue(context.Background(), validJob("after")))

	select {
	case id := <-handled:
		assert.Equal(t, "after", id)
	case <-time.After(2 * time.Second):
		t.Fatal("pool stopped processing after panic")
	}
}

func TestWorkerPool_StopWaitsForInFlight(t *testing.T) {
	q := NewMemoryQueue(10, newTestLogger())

	started := make(chan struct{})
	var finished int32

	pool := NewWorkerPool(q, func(ctx context.Context, job *models.Job) error {
		close(started)
		time.Sleep(100 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
		return nil
	}, PoolOptions{MaxInFlight: 1}, newTestLogger())
	pool.Start()

	require.NoError(t, q.Enqueue(context.Background(), validJob("S1")))
	<-started

	require.NoError(t, pool.Stop(2*time.Second))
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
}

func TestWorkerPool_StopTimeout(t *testing.T) {
	q := NewMemoryQueue(10, newTestLogger())

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	pool := NewWorkerPool(q, func(ctx context.Context, job *models.Job) error {
		close(started)
		<-release
		return nil
	}, PoolOptions{MaxInFlight: 1}, newTestLogger())
	pool.Start()

	require.NoError(t, q.Enqueue(context.Background(), validJob("S1")))
	<-started

	assert.Error(t, pool.Stop(50*time.Millisecond))
}

func TestWorkerPool_ExitsWhenQueueClosed(t *testing.T) {
	q := NewMemoryQueue(1, newTestLogger())

	pool := NewWorkerPool(q, func(ctx context.Context, job *models.Job) error {
		return nil
	}, PoolOptions{}, newTestLogger())
	pool.Start()

	q.Close()

	select {
	case <-pool.Done():
	case <-time.After(time.Second):
		t.Fatal("dispatch loop did not exit on closed queue")
	}
}

// flakyQueue fails a fixed number of dequeues before serving jobs
type flakyQueue struct {
	failures int32
	calls    int32
	jobs     chan *models.Job
}

func (f *flakyQueue) Enqueue(ctx context.Context, job *models.Job) error {
	f.jobs <- job
	return nil
}

func (f *flakyQueue) Dequeue(ctx context.Context) (*models.Job, error) {
	if atomic.AddInt32(&f.calls, 1) <= f.failures {
		return nil, errors.New("connection refused")
	}
	select {
	case job := <-f.jobs:
		return job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *flakyQueue) Close() error { return nil }

func TestWorkerPool_BacksOffOnBrokerErrors(t *testing.T) {
	q := &flakyQueue{failures: 2, jobs: make(chan *models.Job, 1)}
	q.jobs <- validJob("S1")

	handled := make(chan string, 1)
	pool := NewWorkerPool(q, func(ctx context.Context, job *models.Job) error {
		handled <- job.ScanID
		return nil
	}, PoolOptions{
		MaxInFlight: 1,
		Backoff: BackoffConfig{
			InitialBackoff: 10 * time.Millisecond,
			MaxBackoff:     50 * time.Millisecond,
			Multiplier:     2,
		},
	}, newTestLogger())

	start := time.Now()
	pool.Start()
	defer pool.Stop(time.Second)

	select {
	case id := <-handled:
		assert.Equal(t, "S1", id)
		// 10ms + 20ms of backoff before the third dequeue
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not recover from broker errors")
	}
}

func TestWorkerPool_JobTimeout(t *testing.T) {
	q := NewMemoryQueue(1, newTestLogger())

	result := make(chan error, 1)
	pool := NewWorkerPool(q, func(ctx context.Context, job *models.Job) error {
		<-ctx.Done()
		result <- ctx.Err()
		return ctx.Err()
	}, PoolOptions{MaxInFlight: 1, JobTimeout: 20 * time.Millisecond}, newTestLogger())
	pool.Start()
	defer pool.Stop(time.Second)

	require.NoError(t, q.Enqueue(context.Background(), validJob("S1")))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not bounded")
	}
}
