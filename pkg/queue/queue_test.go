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
)

func fastBackoff() BackoffPolicy {
	return BackoffPolicy{Base: time.Millisecond, Cap: 5 * time.Millisecond}
}

func TestQueue_PublishAndComplete(t *testing.T) {
	q := New("test", Options{Backoff: fastBackoff()})
	defer q.Close()

	require.NoError(t, q.Consume(func(ctx context.Context, job *Job) (interface{}, error) {
		return job.Payload["value"], nil
	}, ConsumeOptions{Concurrency: 1}))

	job, err := q.Publish(context.Background(), map[string]interface{}{"value": 42}, nil)
	require.NoError(t, err)

	value, err := job.Finished(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, value)
	assert.Equal(t, StateCompleted, job.State)
	assert.Equal(t, 1, job.AttemptsMade)
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	q := New("test", Options{Attempts: 3, Backoff: fastBackoff()})
	defer q.Close()

	require.NoError(t, q.Consume(func(ctx context.Context, job *Job) (interface{}, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("transient")
		}
		return "done", nil
	}, ConsumeOptions{Concurrency: 1}))

	job, err := q.Publish(context.Background(), nil, nil)
	require.NoError(t, err)

	value, err := job.Finished(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", value)
	assert.Equal(t, 3, job.AttemptsMade)
	assert.Equal(t, 0, q.DLQ().Size())
}

func TestQueue_DeadLettersExactlyOnceAfterExhaustion(t *testing.T) {
	var calls int32
	q := New("test", Options{Attempts: 3, Backoff: fastBackoff()})
	defer q.Close()

	dlqSizes := make(chan int, 8)
	require.NoError(t, q.Consume(func(ctx context.Context, job *Job) (interface{}, error) {
		dlqSizes <- q.DLQ().Size()
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("permanent fault")
	}, ConsumeOptions{Concurrency: 1}))

	job, err := q.Publish(context.Background(), map[string]interface{}{"run": "r1"}, nil)
	require.NoError(t, err)

	_, err = job.Finished(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	// Zero dead letters before the final attempt
	for i := 0; i < 3; i++ {
		assert.Equal(t, 0, <-dlqSizes, "no dead letter may exist before delivery %d", i+1)
	}

	records := q.DLQ().Records()
	require.Len(t, records, 1)
	assert.Equal(t, job.ID, records[0].JobID)
	assert.Equal(t, 3, records[0].Attempts)
	assert.Equal(t, "permanent fault", records[0].Reason)
	assert.Equal(t, map[string]interface{}{"run": "r1"}, records[0].Payload)
}

func TestQueue_FailedEventEmitted(t *testing.T) {
	q := New("test", Options{Attempts: 2, Backoff: fastBackoff()})
	defer q.Close()

	type failedEvent struct{ jobID, reason string }
	events := make(chan failedEvent, 1)
	q.OnFailed(func(jobID, reason string) {
		events <- failedEvent{jobID, reason}
	})

	require.NoError(t, q.Consume(func(ctx context.Context, job *Job) (interface{}, error) {
		return nil, errors.New("boom")
	}, ConsumeOptions{Concurrency: 1}))

	job, err := q.Publish(context.Background(), nil, nil)
	require.NoError(t, err)
	_, _ = job.Finished(context.Background())

	select {
	case ev := <-events:
		assert.Equal(t, job.ID, ev.jobID)
		assert.Equal(t, "boom", ev.reason)
	case <-time.After(time.Second):
		t.Fatal("failed event not emitted")
	}
}

func TestQueue_HandlerPanicIsAFailedAttempt(t *testing.T) {
	q := New("test", Options{Attempts: 1, Backoff: fastBackoff()})
	defer q.Close()

	require.NoError(t, q.Consume(func(ctx context.Context, job *Job) (interface{}, error) {
		panic("handler exploded")
	}, ConsumeOptions{Concurrency: 1}))

	job, err := q.Publish(context.Background(), nil, nil)
	require.NoError(t, err)

	_, err = job.Finished(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler panic")
	assert.Equal(t, 1, q.DLQ().Size())
}

func TestQueue_ConcurrencyBound(t *testing.T) {
	q := New("test", Options{Backoff: fastBackoff()})
	defer q.Close()

	var active, maxActive int32
	var mu sync.Mutex

	require.NoError(t, q.Consume(func(ctx context.Context, job *Job) (interface{}, error) {
		current := atomic.AddInt32(&active, 1)
		mu.Lock()
		if current > maxActive {
			maxActive = current
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil, nil
	}, ConsumeOptions{Concurrency: 2}))

	jobs := make([]*Job, 0, 6)
	for i := 0; i < 6; i++ {
		job, err := q.Publish(context.Background(), nil, nil)
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	for _, job := range jobs {
		_, err := job.Finished(context.Background())
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxActive, int32(2))
}

func TestQueue_DeterministicJobIDDeduplicates(t *testing.T) {
	q := New("test", Options{Backoff: fastBackoff()})
	defer q.Close()

	// No consumer yet, so the first job stays tracked in waiting state
	first, err := q.Publish(context.Background(), map[string]interface{}{"n": 1}, &PublishOptions{JobID: "run-1-step-2"})
	require.NoError(t, err)

	second, err := q.Publish(context.Background(), map[string]interface{}{"n": 2}, &PublishOptions{JobID: "run-1-step-2"})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, q.Counts().Waiting)
}

func TestQueue_CloseDuringInFlightRetryFinishesJob(t *testing.T) {
	q := New("test", Options{Attempts: 3, Backoff: fastBackoff()})

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, q.Consume(func(ctx context.Context, job *Job) (interface{}, error) {
		close(started)
		<-release
		return nil, errors.New("transient failure")
	}, ConsumeOptions{Concurrency: 1}))

	job, err := q.Publish(context.Background(), map[string]interface{}{"n": 1}, nil)
	require.NoError(t, err)
	<-started

	// Close while the delivery is in flight, then let the attempt fail
	closed := make(chan struct{})
	go func() {
		assert.NoError(t, q.Close())
		close(closed)
	}()
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.closed
	}, time.Second, time.Millisecond)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = job.Finished(ctx)
	require.ErrorIs(t, err, ErrQueueClosed)
	assert.Equal(t, StateFailed, job.State)

	<-closed
	_, tracked := q.jobs[job.ID]
	assert.False(t, tracked)
}

func TestQueue_PublishAfterCloseFails(t *testing.T) {
	q := New("test", Options{})
	require.NoError(t, q.Close())

	_, err := q.Publish(context.Background(), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_CountsAndPause(t *testing.T) {
	q := New("test", Options{Backoff: fastBackoff()})
	defer q.Close()

	q.Pause()
	_, err := q.Publish(context.Background(), nil, nil)
	require.NoError(t, err)
	_, err = q.Publish(context.Background(), nil, nil)
	require.NoError(t, err)

	counts := q.Counts()
	assert.Equal(t, 2, counts.Paused)
	assert.Equal(t, 0, counts.Waiting)

	release := make(chan struct{})
	require.NoError(t, q.Consume(func(ctx context.Context, job *Job) (interface{}, error) {
		<-release
		return nil, nil
	}, ConsumeOptions{Concurrency: 1}))

	// Still paused: nothing delivered
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, q.Counts().Active)

	q.Resume()
	assert.Eventually(t, func() bool {
		return q.Counts().Active == 1
	}, time.Second, 5*time.Millisecond)
	close(release)

	assert.Eventually(t, func() bool {
		return q.Counts().Completed == 2
	}, time.Second, 5*time.Millisecond)
}

func TestQueue_Drain(t *testing.T) {
	q := New("test", Options{Backoff: fastBackoff()})
	defer q.Close()

	var jobs []*Job
	for i := 0; i < 3; i++ {
		job, err := q.Publish(context.Background(), nil, nil)
		require.NoError(t, err)
		jobs = append(jobs, job)
	}

	removed := q.Drain(context.Background(), DrainOptions{})
	assert.Equal(t, 3, removed)

	counts := q.Counts()
	assert.Equal(t, 0, counts.Waiting)
	assert.Equal(t, 0, counts.Completed)
	assert.Equal(t, 0, counts.Failed)

	for _, job := range jobs {
		_, err := job.Finished(context.Background())
		assert.ErrorIs(t, err, ErrDrained)
	}
}

func TestQueue_SecondConsumerRejected(t *testing.T) {
	q := New("test", Options{})
	defer q.Close()

	handler := func(ctx context.Context, job *Job) (interface{}, error) { return nil, nil }
	require.NoError(t, q.Consume(handler, ConsumeOptions{}))

	err := q.Consume(handler, ConsumeOptions{})
	assert.ErrorIs(t, err, ErrConsumerAttached)
}

func TestBackoffPolicy_Delay(t *testing.T) {
	policy := BackoffPolicy{Base: 500 * time.Millisecond, Cap: 30 * time.Second}

	assert.Equal(t, 500*time.Millisecond, policy.Delay(1))
	assert.Equal(t, time.Second, policy.Delay(2))
	assert.Equal(t, 2*time.Second, policy.Delay(3))
	assert.Equal(t, 30*time.Second, policy.Delay(10))
}

func TestDeadLetterQueue_Drain(t *testing.T) {
	q := New("test", Options{Attempts: 1, Backoff: fastBackoff()})
	defer q.Close()

	require.NoError(t, q.Consume(func(ctx context.Context, job *Job) (interface{}, error) {
		return nil, errors.New("nope")
	}, ConsumeOptions{Concurrency: 1}))

	job, err := q.Publish(context.Background(), nil, nil)
	require.NoError(t, err)
	_, _ = job.Finished(context.Background())

	dlq := q.DLQ()
	assert.Equal(t, 1, dlq.Counts().Failed)

	removed := dlq.Drain(context.Background(), DrainOptions{})
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, dlq.Size())
}
