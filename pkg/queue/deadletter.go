package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/outrigger-ai/outrigger/internal/observability"
	"github.com/outrigger-ai/outrigger/internal/tracing"
)

// DeadLetterRecord captures a job that exhausted all delivery attempts.
// Created exactly once per exhausted job; append-only until drained.
type DeadLetterRecord struct {
	JobID    string                 `json:"job_id"`
	Payload  map[string]interface{} `json:"payload"`
	Reason   string                 `json:"reason"`
	Attempts int                    `json:"attempts"`
	FailedAt time.Time              `json:"failed_at"`
}

// DeadLetterQueue is the terminal store for exhausted jobs. Recovery is
// administrative: records are inspected and drained manually, never
// re-ingested automatically.
type DeadLetterQueue struct {
	name    string
	records []DeadLetterRecord
	mu      sync.RWMutex
}

func newDeadLetterQueue(queueName string) *DeadLetterQueue {
	return &DeadLetterQueue{name: queueName + ":dlq"}
}

// Name returns the dead-letter queue name
func (d *DeadLetterQueue) Name() string {
	return d.name
}

func (d *DeadLetterQueue) publish(job *Job) DeadLetterRecord {
	record := DeadLetterRecord{
		JobID:    job.ID,
		Payload:  job.Payload,
		Reason:   job.FailedReason,
		Attempts: job.AttemptsMade,
		FailedAt: time.Now(),
	}

	d.mu.Lock()
	d.records = append(d.records, record)
	size := len(d.records)
	d.mu.Unlock()

	log.Warn().
		Str("queue", d.name).
		Str("job_id", job.ID).
		Str("reason", record.Reason).
		Int("size", size).
		Msg("Dead-letter record appended")

	return record
}

// Records returns a copy of the stored records
func (d *DeadLetterQueue) Records() []DeadLetterRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	records := make([]DeadLetterRecord, len(d.records))
	copy(records, d.records)
	return records
}

// Size returns the number of stored records
func (d *DeadLetterQueue) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// Counts reports dead-letter records under the same shape as a primary queue
func (d *DeadLetterQueue) Counts() Counts {
	return Counts{Failed: d.Size()}
}

// Drain removes all records and returns how many were removed
func (d *DeadLetterQueue) Drain(ctx context.Context, _ DrainOptions) int {
	d.mu.Lock()
	removed := len(d.records)
	d.records = nil
	d.mu.Unlock()

	observability.SetDeadLetterSize(d.name, 0)
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Info().
		Str("queue", d.name).
		Int("removed", removed).
		Msg("Dead-letter queue drained")

	return removed
}
