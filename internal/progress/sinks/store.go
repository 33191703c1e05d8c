package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// StoreSink persists progress messages so the progress API can replay
// them to late-joining readers.
type StoreSink struct {
	store  docs.ProgressStore
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink over the provided store.
func NewStoreSink(store docs.ProgressStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, logger: logger}
}

// Consume appends every message in order. The first store error aborts
// the batch and is returned verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []docs.ProgressMessage) error {
	if s == nil || s.store == nil {
		return nil
	}
	for _, msg := range batch {
		if err := s.store.AppendMessage(ctx, msg); err != nil {
			return fmt.Errorf("append progress message: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
