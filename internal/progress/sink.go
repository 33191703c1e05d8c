package progress

import (
	"context"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// Sink consumes batches of progress messages. Implementations must be
// safe for repeated calls, honor ctx deadlines, and may be invoked
// concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []docs.ProgressMessage) error
	Close(ctx context.Context) error
}

// Emitter publishes individual messages; Hub satisfies this interface
// so emitters stay agnostic about buffering and persistence.
type Emitter interface {
	Emit(msg docs.ProgressMessage)
}
