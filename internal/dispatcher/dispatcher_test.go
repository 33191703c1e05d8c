// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/docs"
	"github.com/anshm02/docuagent-sub001/internal/worker"
)

type noopRunner struct{}

func (noopRunner) Execute(context.Context, string) error { return nil }

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(queue, noopRunner{}, nil, zap.NewNop())
	dispatch := New(queue, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, nil)

	err := dispatch.Enqueue(context.Background(), docs.QueueItem{JobID: "job"})
	if err == nil || err.Error() != "queue enqueue: boom" {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, docs.QueueItem) error {
	select {
	case q.started <- struct{}{}:
	default:
	}
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (docs.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return docs.QueueItem{}, ctx.Err()
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, docs.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(ctx context.Context) (docs.QueueItem, error) {
	<-ctx.Done()
	return docs.QueueItem{}, ctx.Err()
}
