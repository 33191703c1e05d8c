// Package sinks contains the progress.Sink implementations: durable
// store writes, structured logs, and Prometheus counters.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// LogSink emits structured logs for progress streams. Useful during
// development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each message in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []docs.ProgressMessage) error {
	for _, msg := range batch {
		s.logger.Info("progress",
			zap.String("job_id", msg.JobID),
			zap.String("kind", string(msg.Kind)),
			zap.String("text", msg.Text),
			zap.String("screenshot_url", msg.ScreenshotURL),
			zap.Time("at", msg.At),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
