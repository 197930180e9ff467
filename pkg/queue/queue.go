// Package queue provides a durable in-process work queue with at-least-once
// delivery, bounded retries with exponential backoff, dead-lettering and
// administrative introspection.
//
// Invariants:
// - A job is redelivered until it succeeds or AttemptsMade reaches Attempts.
// - The final failed attempt publishes exactly one dead-letter record.
// - Jobs are delivered FIFO up to the consumer's concurrency limit.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/outrigger-ai/outrigger/internal/observability"
	"github.com/outrigger-ai/outrigger/internal/tracing"
)

// FailedHandler observes terminal job failures for external monitoring
type FailedHandler func(jobID, reason string)

// Options configures a queue's defaults
type Options struct {
	Attempts int
	Backoff  BackoffPolicy
	// HistoryLimit bounds the completed/failed history kept for introspection
	HistoryLimit int
}

// Queue is one durable work queue with a companion dead-letter queue
type Queue struct {
	name string
	opts Options
	dlq  *DeadLetterQueue

	mu          sync.Mutex
	waiting     []*Job
	delayed     map[string]*time.Timer
	jobs        map[string]*Job
	completed   []*Job
	failed      []*Job
	paused      bool
	closed      bool
	handler     Handler
	concurrency int
	running     int

	failedHandlers []FailedHandler
	handlersMu     sync.RWMutex

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a queue with the given name and defaults
func New(name string, opts Options) *Queue {
	observability.EnsureRegistered()

	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff.Base = 500 * time.Millisecond
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 1000
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		name:    name,
		opts:    opts,
		dlq:     newDeadLetterQueue(name),
		delayed: make(map[string]*time.Timer),
		jobs:    make(map[string]*Job),
		ctx:     ctx,
		cancel:  cancel,
	}

	log.Debug().Str("queue", name).Int("attempts", opts.Attempts).Msg("Queue initialized")
	return q
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// DLQ returns the companion dead-letter queue
func (q *Queue) DLQ() *DeadLetterQueue {
	return q.dlq
}

// Publish enqueues a payload and returns the tracked job. Publish failures
// propagate synchronously; callers must mark their work failed, not drop it.
func (q *Queue) Publish(ctx context.Context, payload map[string]interface{}, opts *PublishOptions) (*Job, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"outrigger.queue",
		"queue.publish",
		attribute.String("queue", q.name),
	)
	defer span.End()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		span.SetStatus(codes.Error, ErrQueueClosed.Error())
		return nil, fmt.Errorf("publish to %s: %w", q.name, ErrQueueClosed)
	}

	var jobID string
	if opts != nil && opts.JobID != "" {
		jobID = opts.JobID
		if existing, tracked := q.jobs[jobID]; tracked {
			q.mu.Unlock()
			log.Debug().Str("queue", q.name).Str("job_id", jobID).Msg("Duplicate job id, returning tracked job")
			return existing, nil
		}
	} else {
		id, err := gonanoid.New()
		if err != nil {
			q.mu.Unlock()
			return nil, fmt.Errorf("publish to %s: generate job id: %w", q.name, err)
		}
		jobID = id
	}

	job := &Job{
		ID:        jobID,
		Payload:   payload,
		Attempts:  q.opts.Attempts,
		Backoff:   q.opts.Backoff,
		State:     StateWaiting,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
	if opts != nil {
		if opts.Attempts > 0 {
			job.Attempts = opts.Attempts
		}
		if opts.Backoff != nil {
			job.Backoff = *opts.Backoff
		}
	}

	q.jobs[jobID] = job
	q.waiting = append(q.waiting, job)
	waiting := len(q.waiting)
	q.mu.Unlock()

	observability.RecordPublish(q.name, waiting)
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("queue", q.name).
		Str("job_id", jobID).
		Int("waiting", waiting).
		Msg("Job published")

	q.dispatch()
	return job, nil
}

// Consume attaches a worker pool. Only one consumer may be attached.
func (q *Queue) Consume(handler Handler, opts ConsumeOptions) error {
	if handler == nil {
		return fmt.Errorf("consume on %s: handler is required", q.name)
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("consume on %s: %w", q.name, ErrQueueClosed)
	}
	if q.handler != nil {
		q.mu.Unlock()
		return fmt.Errorf("consume on %s: %w", q.name, ErrConsumerAttached)
	}
	q.handler = handler
	q.concurrency = concurrency
	q.mu.Unlock()

	log.Info().Str("queue", q.name).Int("concurrency", concurrency).Msg("Consumer attached")

	q.dispatch()
	return nil
}

// OnFailed registers an observer for terminal job failures
func (q *Queue) OnFailed(handler FailedHandler) {
	q.handlersMu.Lock()
	defer q.handlersMu.Unlock()
	q.failedHandlers = append(q.failedHandlers, handler)
}

// dispatch starts deliveries while capacity and waiting jobs allow
func (q *Queue) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.handler == nil || q.paused || q.closed {
		return
	}

	for q.running < q.concurrency && len(q.waiting) > 0 {
		job := q.waiting[0]
		q.waiting = q.waiting[1:]

		job.State = StateActive
		job.AttemptsMade++
		q.running++

		q.wg.Add(1)
		go q.deliver(job)
	}
}

// deliver runs one delivery attempt
func (q *Queue) deliver(job *Job) {
	defer q.wg.Done()

	ctx, span := tracing.StartSpan(
		q.ctx,
		"outrigger.queue",
		"queue.deliver",
		attribute.String("queue", q.name),
		attribute.String("job_id", job.ID),
		attribute.Int("attempt", job.AttemptsMade),
	)
	defer span.End()

	ctx = tracing.WithJobID(ctx, job.ID)
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().
		Str("queue", q.name).
		Int("attempt", job.AttemptsMade).
		Int("max_attempts", job.Attempts).
		Logger()

	start := time.Now()
	value, err := q.invoke(ctx, job)
	duration := time.Since(start)

	observability.RecordJobAttempt(q.name, duration)

	q.mu.Lock()
	q.running--
	q.mu.Unlock()

	if err == nil {
		q.complete(job, value)
		logger.Debug().Dur("duration", duration).Msg("Job completed")
	} else {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		q.fail(job, err, logger)
	}

	q.dispatch()
}

// invoke runs the handler with panic containment
func (q *Queue) invoke(ctx context.Context, job *Job) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return q.handler(ctx, job)
}

func (q *Queue) complete(job *Job, value interface{}) {
	q.mu.Lock()
	job.State = StateCompleted
	job.returnValue = value
	q.completed = appendBounded(q.completed, job, q.opts.HistoryLimit)
	delete(q.jobs, job.ID)
	q.mu.Unlock()

	observability.RecordJobFinished(q.name, "completed", job.AttemptsMade)
	close(job.done)
}

func (q *Queue) fail(job *Job, attemptErr error, logger zerolog.Logger) {
	job.FailedReason = attemptErr.Error()

	if job.AttemptsMade < job.Attempts {
		delay := job.Backoff.Delay(job.AttemptsMade)
		logger.Warn().
			Err(attemptErr).
			Dur("backoff", delay).
			Msg("Job attempt failed, scheduling redelivery")
		q.scheduleRetry(job, delay)
		return
	}

	// Final attempt: dead-letter exactly once, then finish failed in place.
	record := q.dlq.publish(job)
	observability.SetDeadLetterSize(q.dlq.Name(), q.dlq.Size())

	q.mu.Lock()
	job.State = StateFailed
	job.finalErr = &exhaustedError{attempts: job.AttemptsMade, reason: job.FailedReason}
	q.failed = appendBounded(q.failed, job, q.opts.HistoryLimit)
	delete(q.jobs, job.ID)
	q.mu.Unlock()

	observability.RecordJobFinished(q.name, "failed", job.AttemptsMade)
	logger.Error().
		Err(attemptErr).
		Time("dead_lettered_at", record.FailedAt).
		Msg("Job exhausted all attempts, dead-lettered")

	q.emitFailed(job.ID, job.FailedReason)
	close(job.done)
}

func (q *Queue) scheduleRetry(job *Job, delay time.Duration) {
	q.mu.Lock()

	// The queue closed while this delivery was in flight. Close already
	// failed the waiting and delayed jobs, so finish this one the same way.
	if q.closed {
		job.State = StateFailed
		job.finalErr = ErrQueueClosed
		delete(q.jobs, job.ID)
		q.mu.Unlock()
		close(job.done)
		return
	}
	defer q.mu.Unlock()

	job.State = StateDelayed
	q.delayed[job.ID] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.delayed, job.ID)
		if q.closed || job.State != StateDelayed {
			q.mu.Unlock()
			return
		}
		job.State = StateWaiting
		q.waiting = append(q.waiting, job)
		q.mu.Unlock()

		q.dispatch()
	})
}

func (q *Queue) emitFailed(jobID, reason string) {
	q.handlersMu.RLock()
	handlers := make([]FailedHandler, len(q.failedHandlers))
	copy(handlers, q.failedHandlers)
	q.handlersMu.RUnlock()

	for _, handler := range handlers {
		handler(jobID, reason)
	}
}

// Pause stops new deliveries; active jobs finish their attempt
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
	log.Info().Str("queue", q.name).Msg("Queue paused")
}

// Resume restarts deliveries
func (q *Queue) Resume() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	log.Info().Str("queue", q.name).Msg("Queue resumed")
	q.dispatch()
}

// Counts returns a snapshot of job totals per state
func (q *Queue) Counts() Counts {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := Counts{
		Active:    q.running,
		Completed: len(q.completed),
		Failed:    len(q.failed),
		Delayed:   len(q.delayed),
	}
	if q.paused {
		counts.Paused = len(q.waiting)
	} else {
		counts.Waiting = len(q.waiting)
	}
	return counts
}

// Drain removes waiting (and optionally delayed) jobs, then clears the
// completed/failed history. Operational recovery only, never business logic.
func (q *Queue) Drain(ctx context.Context, opts DrainOptions) int {
	q.mu.Lock()

	removed := 0
	drained := make([]*Job, 0, len(q.waiting))

	for _, job := range q.waiting {
		job.State = StateFailed
		job.finalErr = ErrDrained
		delete(q.jobs, job.ID)
		drained = append(drained, job)
		removed++
	}
	q.waiting = nil

	if opts.IncludeDelayed {
		for jobID, timer := range q.delayed {
			timer.Stop()
			if job, tracked := q.jobs[jobID]; tracked {
				job.State = StateFailed
				job.finalErr = ErrDrained
				delete(q.jobs, jobID)
				drained = append(drained, job)
				removed++
			}
			delete(q.delayed, jobID)
		}
	}

	q.completed = nil
	q.failed = nil
	q.mu.Unlock()

	for _, job := range drained {
		close(job.done)
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Info().
		Str("queue", q.name).
		Int("removed", removed).
		Bool("include_delayed", opts.IncludeDelayed).
		Msg("Queue drained")

	return removed
}

// Close stops the queue: pending timers are cancelled, active deliveries
// finish, waiting jobs fail with ErrQueueClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true

	pending := q.waiting
	q.waiting = nil

	for jobID, timer := range q.delayed {
		timer.Stop()
		delete(q.delayed, jobID)
		if job, tracked := q.jobs[jobID]; tracked {
			pending = append(pending, job)
		}
	}

	for _, job := range pending {
		job.State = StateFailed
		job.finalErr = ErrQueueClosed
		delete(q.jobs, job.ID)
	}
	q.mu.Unlock()

	for _, job := range pending {
		close(job.done)
	}

	q.cancel()
	q.wg.Wait()

	log.Info().Str("queue", q.name).Msg("Queue closed")
	return nil
}

func appendBounded(jobs []*Job, job *Job, limit int) []*Job {
	jobs = append(jobs, job)
	if len(jobs) > limit {
		jobs = jobs[len(jobs)-limit:]
	}
	return jobs
}
