package memory

import (
	"context"
	"testing"
	"time"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan docs.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	item := docs.QueueItem{JobID: "job-1"}
	if err := q.Enqueue(context.Background(), item); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.JobID != "job-1" {
			t.Fatalf("expected job-1, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue(1)
	if err := qEnqueue.Enqueue(context.Background(), docs.QueueItem{JobID: "primed"}); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, docs.QueueItem{}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	if _, err := q.Dequeue(context.Background()); err == nil || err.Error() != "queue closed" {
		t.Fatalf("expected queue closed error, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}
