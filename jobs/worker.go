package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-job/queue"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/formbridge/formbridge/core"
)

// Worker drains a queue and hands each message to the Runner. Failed runs
// are logged and not requeued.
type Worker struct {
	dequeuer queue.Dequeuer
	runner   *Runner
	logger   core.Logger
}

func NewWorker(dequeuer queue.Dequeuer, runner *Runner, logger core.Logger) (*Worker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("jobs: dequeuer is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("jobs: runner is required")
	}
	if logger == nil {
		logger = glog.Nop()
	}
	return &Worker{dequeuer: dequeuer, runner: runner, logger: logger}, nil
}

// Run blocks until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.dequeuer == nil || w.runner == nil {
		return fmt.Errorf("jobs: worker is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		delivery, err := w.dequeuer.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if delivery == nil {
			continue
		}
		w.process(ctx, delivery)
	}
}

func (w *Worker) process(ctx context.Context, delivery queue.Delivery) {
	msg := FromExecutionMessage(delivery.Message())
	if err := w.runner.Run(ctx, msg); err != nil {
		jobID := ""
		if msg != nil {
			jobID = msg.JobID
		}
		w.logger.Warn("queued job failed", "job_id", jobID, "error", err)
		if nackErr := delivery.Nack(ctx, queue.NackOptions{}); nackErr != nil {
			w.logger.Warn("job nack failed", "job_id", jobID, "error", nackErr)
		}
		return
	}
	if err := delivery.Ack(ctx); err != nil {
		w.logger.Warn("job ack failed", "error", err)
	}
}

// RunSweepSchedule enqueues the pending-authorization sweep on a fixed
// interval until the context is canceled.
func RunSweepSchedule(ctx context.Context, enqueuer core.JobEnqueuer, interval time.Duration, logger core.Logger) {
	if enqueuer == nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = glog.Nop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := enqueuer.Enqueue(ctx, PendingAuthSweepMessage()); err != nil {
				logger.Warn("sweep enqueue failed", "error", err)
			}
		}
	}
}
