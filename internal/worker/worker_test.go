package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/docs"
	queuemem "github.com/anshm02/docuagent-sub001/internal/queue/memory"
)

type recordingRunner struct {
	mu   sync.Mutex
	ran  []string
	errs map[string]error
	done chan string
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{
		errs: make(map[string]error),
		done: make(chan string, 16),
	}
}

func (r *recordingRunner) Execute(_ context.Context, jobID string) error {
	r.mu.Lock()
	r.ran = append(r.ran, jobID)
	err := r.errs[jobID]
	r.mu.Unlock()
	r.done <- jobID
	return err
}

func TestWorkerProcessesQueueItems(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(4)
	runner := newRecordingRunner()
	w := New(queue, runner, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, queue.Enqueue(ctx, docs.QueueItem{JobID: "job-1"}))
	require.NoError(t, queue.Enqueue(ctx, docs.QueueItem{JobID: "job-2"}))

	for i := 0; i < 2; i++ {
		select {
		case <-runner.done:
		case <-time.After(time.Second):
			t.Fatal("worker did not process queued jobs")
		}
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Equal(t, []string{"job-1", "job-2"}, runner.ran)
}

func TestWorkerKeepsRunningAfterJobFailure(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(4)
	runner := newRecordingRunner()
	runner.errs["job-bad"] = fmt.Errorf("crawl: login rejected")
	w := New(queue, runner, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, queue.Enqueue(ctx, docs.QueueItem{JobID: "job-bad"}))
	require.NoError(t, queue.Enqueue(ctx, docs.QueueItem{JobID: "job-good"}))

	for i := 0; i < 2; i++ {
		select {
		case <-runner.done:
		case <-time.After(time.Second):
			t.Fatal("worker stalled after a failing job")
		}
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.Equal(t, []string{"job-bad", "job-good"}, runner.ran)
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	queue := queuemem.NewQueue(1)
	w := New(queue, newRecordingRunner(), nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
}
