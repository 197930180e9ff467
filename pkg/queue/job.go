package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// JobState is the lifecycle state of a job inside the queue
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateDelayed   JobState = "delayed"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// BackoffPolicy computes the delay before a redelivery attempt.
// Delay doubles per attempt starting from Base, capped at Cap.
type BackoffPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the backoff before the given redelivery (1-based attempt count)
func (b BackoffPolicy) Delay(attemptsMade int) time.Duration {
	delay := b.Base
	for i := 1; i < attemptsMade; i++ {
		delay *= 2
		if b.Cap > 0 && delay >= b.Cap {
			return b.Cap
		}
	}
	if b.Cap > 0 && delay > b.Cap {
		return b.Cap
	}
	return delay
}

// Job is one unit of queued work. Created on publish; mutated by the queue
// runtime on each delivery attempt.
type Job struct {
	ID           string                 `json:"id"`
	Payload      map[string]interface{} `json:"payload"`
	Attempts     int                    `json:"attempts"`
	AttemptsMade int                    `json:"attempts_made"`
	Backoff      BackoffPolicy          `json:"-"`
	State        JobState               `json:"state"`
	FailedReason string                 `json:"failed_reason,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`

	returnValue interface{}
	finalErr    error
	done        chan struct{}
}

// Finished blocks until the job reaches a terminal state and returns the
// handler's return value, or the final failure after attempts are exhausted.
func (j *Job) Finished(ctx context.Context) (interface{}, error) {
	select {
	case <-j.done:
		return j.returnValue, j.finalErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Handler processes one delivered job. The return value becomes the job
// result; a returned error (or panic) marks the delivery attempt failed.
type Handler func(ctx context.Context, job *Job) (interface{}, error)

// PublishOptions overrides queue defaults for one job
type PublishOptions struct {
	// JobID sets a deterministic id for broker-level deduplication.
	// Publishing an id the queue still tracks returns the existing job.
	JobID string
	// Attempts overrides the queue's default max delivery attempts
	Attempts int
	// Backoff overrides the queue's default backoff policy
	Backoff *BackoffPolicy
}

// ConsumeOptions configures the worker pool attached to a queue
type ConsumeOptions struct {
	Concurrency int
}

// DrainOptions configures an administrative drain
type DrainOptions struct {
	IncludeDelayed bool
}

// Counts is a snapshot of job totals per state
type Counts struct {
	Waiting         int `json:"waiting"`
	Active          int `json:"active"`
	Completed       int `json:"completed"`
	Failed          int `json:"failed"`
	Delayed         int `json:"delayed"`
	Paused          int `json:"paused"`
	WaitingChildren int `json:"waiting_children"`
}

var (
	// ErrQueueClosed is returned by operations on a closed queue
	ErrQueueClosed = errors.New("queue closed")
	// ErrConsumerAttached is returned when Consume is called twice
	ErrConsumerAttached = errors.New("consumer already attached")
	// ErrDrained is the terminal error of jobs removed by an administrative drain
	ErrDrained = errors.New("job drained")
)

// exhaustedError is the terminal error of a job that used all its attempts
type exhaustedError struct {
	attempts int
	reason   string
}

func (e *exhaustedError) Error() string {
	return fmt.Sprintf("job failed after %d attempts: %s", e.attempts, e.reason)
}
