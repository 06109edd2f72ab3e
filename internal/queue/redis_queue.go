package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix   = "docpipe"
	pollTimeout = time.Second

	// defaultJobTimeout backs jobs enqueued without a timeout. A non-positive
	// timeout would put the lease deadline in the past on dequeue and the
	// reaper would redeliver a job that is actively running.
	defaultJobTimeout = 3 * time.Minute
)

// RedisQueue keys:
//
//	docpipe:queue:<name>     list of queued job IDs (LPUSH/BRPOP)
//	docpipe:job:<id>         hash with the job record
//	docpipe:started:<name>   zset of delivered job IDs scored by lease deadline
//	docpipe:finished:<name>  zset of finished job IDs scored by end time
//	docpipe:failed:<name>    zset of failed job IDs scored by end time
//
// Terminal job hashes expire after their retention window; the finished and
// failed registries are pruned to the same window on read.
type RedisQueue struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisQueue(client *redis.Client, retention time.Duration) *RedisQueue {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisQueue{client: client, retention: retention}
}

func queueKey(name string) string    { return keyPrefix + ":queue:" + name }
func jobKey(id string) string        { return keyPrefix + ":job:" + id }
func startedKey(name string) string  { return keyPrefix + ":started:" + name }
func finishedKey(name string) string { return keyPrefix + ":finished:" + name }
func failedKey(name string) string   { return keyPrefix + ":failed:" + name }

func newJobID() string {
	return "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, payload any, opts Options) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload failed: %w", err)
	}

	retention := opts.Retention
	if retention <= 0 {
		retention = q.retention
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}

	jobID := newJobID()
	now := time.Now()
	fields := map[string]interface{}{
		"queue":        queueName,
		"payload":      string(body),
		"enqueued_at":  now.UnixMilli(),
		"timeout_ms":   timeout.Milliseconds(),
		"retention_ms": retention.Milliseconds(),
		"status":       string(JobQueued),
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jobID), fields)
	pipe.LPush(ctx, queueKey(queueName), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue job failed: %w", err)
	}
	return jobID, nil
}

// Dequeue blocks until a job is available or ctx is done. The returned job is
// marked started and holds a lease of its timeout; a worker that dies before
// acking leaves the job to RequeueExpired.
func (q *RedisQueue) Dequeue(ctx context.Context, queueName string) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQueueStopped, err)
		}

		res, err := q.client.BRPop(ctx, pollTimeout, queueKey(queueName)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrQueueStopped, ctx.Err())
			}
			return nil, fmt.Errorf("dequeue from %s failed: %w", queueName, err)
		}

		jobID := res[1]
		job, err := q.Status(ctx, jobID)
		if err != nil {
			// Job hash expired or was lost; nothing to run.
			continue
		}

		now := time.Now()
		deadline := now.Add(job.Timeout)
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, jobKey(jobID), map[string]interface{}{
			"status":     string(JobStarted),
			"started_at": now.UnixMilli(),
		})
		pipe.ZAdd(ctx, startedKey(queueName), redis.Z{Score: float64(deadline.UnixMilli()), Member: jobID})
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("mark job started failed: %w", err)
		}

		job.Status = JobStarted
		job.StartedAt = &now
		return &Delivery{Job: job}, nil
	}
}

func (q *RedisQueue) Complete(ctx context.Context, d *Delivery, result any) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result failed: %w", err)
	}
	return q.finish(ctx, d, JobFinished, map[string]interface{}{"result": string(body)}, finishedKey(d.Job.Queue))
}

func (q *RedisQueue) Fail(ctx context.Context, d *Delivery, jobErr error) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	return q.finish(ctx, d, JobFailed, map[string]interface{}{"error": msg}, failedKey(d.Job.Queue))
}

func (q *RedisQueue) finish(ctx context.Context, d *Delivery, status JobStatus, extra map[string]interface{}, registry string) error {
	now := time.Now()
	fields := map[string]interface{}{
		"status":   string(status),
		"ended_at": now.UnixMilli(),
	}
	for k, v := range extra {
		fields[k] = v
	}

	retention, err := q.jobRetention(ctx, d.Job.ID)
	if err != nil {
		retention = q.retention
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, jobKey(d.Job.ID), fields)
	pipe.ZRem(ctx, startedKey(d.Job.Queue), d.Job.ID)
	pipe.ZAdd(ctx, registry, redis.Z{Score: float64(now.UnixMilli()), Member: d.Job.ID})
	pipe.Expire(ctx, jobKey(d.Job.ID), retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("finish job failed: %w", err)
	}
	return nil
}

func (q *RedisQueue) jobRetention(ctx context.Context, jobID string) (time.Duration, error) {
	raw, err := q.client.HGet(ctx, jobKey(jobID), "retention_ms").Result()
	if err != nil {
		return 0, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return 0, fmt.Errorf("bad retention value %q", raw)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (q *RedisQueue) Status(ctx context.Context, jobID string) (*Job, error) {
	fields, err := q.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}

	job := &Job{
		ID:      jobID,
		Queue:   fields["queue"],
		Payload: json.RawMessage(fields["payload"]),
		Status:  JobStatus(fields["status"]),
		Error:   fields["error"],
	}
	if raw := fields["result"]; raw != "" {
		job.Result = json.RawMessage(raw)
	}
	if ms, err := strconv.ParseInt(fields["enqueued_at"], 10, 64); err == nil {
		job.EnqueuedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(fields["timeout_ms"], 10, 64); err == nil {
		job.Timeout = time.Duration(ms) * time.Millisecond
	}
	if raw, ok := fields["started_at"]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			t := time.UnixMilli(ms)
			job.StartedAt = &t
		}
	}
	if raw, ok := fields["ended_at"]; ok {
		if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
			t := time.UnixMilli(ms)
			job.EndedAt = &t
		}
	}
	return job, nil
}

// RequeueExpired returns started jobs whose lease deadline has passed to the
// back of their queue. Crashed or stuck workers lose the job here; their
// eventual late ack is a no-op on the queue side because the registry entry
// is gone.
func (q *RedisQueue) RequeueExpired(ctx context.Context, queueName string) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	expired, err := q.client.ZRangeByScore(ctx, startedKey(queueName), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan expired leases failed: %w", err)
	}

	requeued := 0
	for _, jobID := range expired {
		removed, err := q.client.ZRem(ctx, startedKey(queueName), jobID).Result()
		if err != nil {
			return requeued, fmt.Errorf("remove expired lease failed: %w", err)
		}
		if removed == 0 {
			// Another reaper got it first.
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, jobKey(jobID), "status", string(JobQueued))
		pipe.LPush(ctx, queueKey(queueName), jobID)
		if _, err := pipe.Exec(ctx); err != nil {
			return requeued, fmt.Errorf("requeue expired job failed: %w", err)
		}
		requeued++
	}
	return requeued, nil
}

func (q *RedisQueue) Stats(ctx context.Context, queueName string) (Stats, error) {
	cutoff := strconv.FormatInt(time.Now().Add(-q.retention).UnixMilli(), 10)
	q.client.ZRemRangeByScore(ctx, finishedKey(queueName), "-inf", cutoff)
	q.client.ZRemRangeByScore(ctx, failedKey(queueName), "-inf", cutoff)

	queued, err := q.client.LLen(ctx, queueKey(queueName)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats failed: %w", err)
	}
	started, err := q.client.ZCard(ctx, startedKey(queueName)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats failed: %w", err)
	}
	finished, err := q.client.ZCard(ctx, finishedKey(queueName)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats failed: %w", err)
	}
	failed, err := q.client.ZCard(ctx, failedKey(queueName)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats failed: %w", err)
	}

	return Stats{
		Queue:    queueName,
		Queued:   queued,
		Started:  started,
		Finished: finished,
		Failed:   failed,
	}, nil
}
