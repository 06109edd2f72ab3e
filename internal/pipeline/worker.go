package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"docpipe/internal/queue"
)

// Worker pulls jobs for one stage, runs them sequentially and acks the
// outcome. It also reaps expired leases on its queue so jobs abandoned by
// crashed workers come back into rotation.
type Worker struct {
	queue      queue.Queue
	stage      Stage
	leaseCheck time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(q queue.Queue, stage Stage, leaseCheck time.Duration) *Worker {
	if leaseCheck <= 0 {
		leaseCheck = 5 * time.Second
	}
	return &Worker{
		queue:      q,
		stage:      stage,
		leaseCheck: leaseCheck,
	}
}

func (w *Worker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.consume(workerCtx)
	}()
	go func() {
		defer w.wg.Done()
		w.reapLeases(workerCtx)
	}()

	slog.Info("pipeline worker started", "stage", w.stage.Name, "queue", w.stage.Queue)
	return nil
}

func (w *Worker) consume(ctx context.Context) {
	for {
		d, err := w.queue.Dequeue(ctx, w.stage.Queue)
		if err != nil {
			if errors.Is(err, queue.ErrQueueStopped) {
				return
			}
			slog.Error("dequeue failed", "queue", w.stage.Queue, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		result, err := w.stage.Run(ctx, d.Job)
		if err != nil {
			slog.Error("stage failed", "stage", w.stage.Name, "job_id", d.Job.ID, "error", err)
			if ackErr := w.queue.Fail(ctx, d, err); ackErr != nil {
				slog.Error("record job failure failed", "job_id", d.Job.ID, "error", ackErr)
			}
			continue
		}
		if ackErr := w.queue.Complete(ctx, d, result); ackErr != nil {
			slog.Error("record job result failed", "job_id", d.Job.ID, "error", ackErr)
		}
	}
}

func (w *Worker) reapLeases(ctx context.Context) {
	ticker := time.NewTicker(w.leaseCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.queue.RequeueExpired(ctx, w.stage.Queue)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("requeue expired jobs failed", "queue", w.stage.Queue, "error", err)
				}
				continue
			}
			if n > 0 {
				slog.Warn("requeued expired jobs", "queue", w.stage.Queue, "count", n)
			}
		}
	}
}

func (w *Worker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
