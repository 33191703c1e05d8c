// Package worker implements the job execution loop.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/docs"
	"github.com/anshm02/docuagent-sub001/internal/metrics"
)

// Runner executes one job end to end.
type Runner interface {
	Execute(ctx context.Context, jobID string) error
}

// Worker consumes queue items and runs the documentation pipeline for
// each. One worker handles one job at a time; concurrency comes from
// running several workers.
type Worker struct {
	queue   docs.Queue
	runner  Runner
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New constructs a Worker. Metrics may be nil.
func New(queue docs.Queue, runner Runner, m *metrics.Metrics, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   queue,
		runner:  runner,
		metrics: m,
		logger:  logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	if w.metrics != nil {
		w.metrics.WorkerStarted()
		defer w.metrics.WorkerStopped()
	}
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item docs.QueueItem) {
	start := time.Now()
	err := w.runner.Execute(ctx, item.JobID)
	if w.metrics != nil {
		outcome := "completed"
		if err != nil {
			outcome = "failed"
		}
		w.metrics.ObserveJob(outcome, time.Since(start))
	}
	if err != nil {
		// The runner already persisted the failure; the worker only logs.
		w.logger.Error("job run failed",
			zap.String("job_id", item.JobID),
			zap.Error(err),
		)
		return
	}
	w.logger.Info("job run finished", zap.String("job_id", item.JobID))
}
