// Package progress fans live crawl updates out to sinks: the durable
// message store behind the progress API, logs, and metrics.
package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// Config controls buffering and batching for the Hub.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 64
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub aggregates progress messages and fans them out to registered
// sinks. Emit never blocks the crawl; under backpressure messages are
// dropped with a rate-limited warning.
type Hub struct {
	cfg     Config
	sinks   []Sink
	msgs    chan docs.ProgressMessage
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropped atomic.Int64
	lastLog atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
}

// NewHub starts the background batching goroutine over the supplied
// sinks. The Hub accepts messages immediately.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		msgs:   make(chan docs.ProgressMessage, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: cfg.Logger,
	}
	go h.run()
	return h
}

// Notify satisfies the engine's notifier surface.
func (h *Hub) Notify(_ context.Context, msg docs.ProgressMessage) {
	h.Emit(msg)
}

// Emit enqueues a message for batching without blocking. Invalid
// messages are discarded; a full buffer drops the message.
func (h *Hub) Emit(msg docs.ProgressMessage) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := validate(msg); err != nil {
		h.logger.Debug("discarding invalid progress message", zap.Error(err))
		return
	}
	select {
	case h.msgs <- msg:
	default:
		h.dropped.Add(1)
		if h.allowDropLog(time.Now()) {
			count := h.dropped.Swap(0)
			h.logger.Warn("progress messages dropped due to backpressure", zap.Int64("dropped", count))
		}
	}
}

// Close drains remaining messages, flushes sinks, and blocks until the
// background goroutine exits. Safe to call more than once.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]docs.ProgressMessage, 0, h.cfg.MaxBatchEvents)
	ticker := time.NewTicker(h.cfg.MaxBatchWait)
	defer ticker.Stop()

	for {
		select {
		case msg := <-h.msgs:
			batch = append(batch, msg)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				h.flush(batch)
				batch = batch[:0]
			}
		case <-h.stopCh:
			h.drain(batch)
			return
		}
	}
}

func (h *Hub) drain(batch []docs.ProgressMessage) {
	for {
		select {
		case msg := <-h.msgs:
			batch = append(batch, msg)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				h.flush(batch)
			}
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) flush(batch []docs.ProgressMessage) {
	if len(batch) == 0 {
		return
	}
	copyBatch := append([]docs.ProgressMessage(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, copyBatch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(context.Background()); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}

func (h *Hub) allowDropLog(now time.Time) bool {
	nano := now.UnixNano()
	last := h.lastLog.Load()
	if nano-last < dropLogInterval.Nanoseconds() {
		return false
	}
	return h.lastLog.CompareAndSwap(last, nano)
}

func validate(msg docs.ProgressMessage) error {
	if msg.JobID == "" {
		return errors.New("job id is required")
	}
	if msg.At.IsZero() {
		return errors.New("timestamp is required")
	}
	switch msg.Kind {
	case docs.MessageInfo, docs.MessageScreenshot, docs.MessageQuestion, docs.MessageError, docs.MessageComplete:
		return nil
	default:
		return fmt.Errorf("unknown message kind %q", msg.Kind)
	}
}
