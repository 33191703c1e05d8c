package memory

import (
	"context"
	"sync"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// ProgressStore keeps the append-only progress log per job.
type ProgressStore struct {
	mu   sync.RWMutex
	msgs map[string][]docs.ProgressMessage
}

// NewProgressStore constructs a ProgressStore.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{msgs: make(map[string][]docs.ProgressMessage)}
}

// AppendMessage adds a message to the job's log.
func (s *ProgressStore) AppendMessage(_ context.Context, msg docs.ProgressMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[msg.JobID] = append(s.msgs[msg.JobID], msg)
	return nil
}

// ListMessages returns the most recent messages, oldest first. A limit
// of zero or less returns everything.
func (s *ProgressStore) ListMessages(_ context.Context, jobID string, limit int) ([]docs.ProgressMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.msgs[jobID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]docs.ProgressMessage(nil), all...), nil
}
