// Package queue provides a durable, at-least-once job queue over Redis.
// Each named queue is an independent FIFO list; delivered jobs hold a lease
// and become redeliverable when it expires, so consumers must be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrQueueStopped = errors.New("queue consumption stopped")
)

type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobStarted  JobStatus = "started"
	JobFinished JobStatus = "finished"
	JobFailed   JobStatus = "failed"
)

type Job struct {
	ID         string          `json:"job_id"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	EndedAt    *time.Time      `json:"ended_at,omitempty"`
	Timeout    time.Duration   `json:"timeout"`
	Status     JobStatus       `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Delivery is the ack handle for a dequeued job; exactly one of Complete or
// Fail must be called before the lease expires, or the job is redelivered.
type Delivery struct {
	Job *Job
}

// Options controls a job's lease timeout and how long its terminal record
// (result or failure) is retained for observability.
type Options struct {
	Timeout   time.Duration
	Retention time.Duration
}

type Stats struct {
	Queue    string `json:"queue"`
	Queued   int64  `json:"queued"`
	Started  int64  `json:"started"`
	Finished int64  `json:"finished"`
	Failed   int64  `json:"failed"`
}

type Queue interface {
	Enqueue(ctx context.Context, queueName string, payload any, opts Options) (string, error)
	Dequeue(ctx context.Context, queueName string) (*Delivery, error)
	Complete(ctx context.Context, d *Delivery, result any) error
	Fail(ctx context.Context, d *Delivery, jobErr error) error
	Status(ctx context.Context, jobID string) (*Job, error)
	RequeueExpired(ctx context.Context, queueName string) (int, error)
	Stats(ctx context.Context, queueName string) (Stats, error)
}
