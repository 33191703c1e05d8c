package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// ScreenStore keeps captured screens per job.
type ScreenStore struct {
	mu      sync.RWMutex
	screens map[string][]docs.Screen
	byID    map[string]string // screen ID -> job ID
}

// NewScreenStore constructs a ScreenStore.
func NewScreenStore() *ScreenStore {
	return &ScreenStore{
		screens: make(map[string][]docs.Screen),
		byID:    make(map[string]string),
	}
}

// InsertScreen appends a screen for its job.
func (s *ScreenStore) InsertScreen(_ context.Context, screen docs.Screen) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[screen.ID]; exists {
		return fmt.Errorf("screen %s already exists", screen.ID)
	}
	s.screens[screen.JobID] = append(s.screens[screen.JobID], screen)
	s.byID[screen.ID] = screen.JobID
	return nil
}

// UpdateScreenStatus moves one screen through its lifecycle.
func (s *ScreenStore) UpdateScreenStatus(_ context.Context, screenID string, status docs.ScreenStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobID, ok := s.byID[screenID]
	if !ok {
		return fmt.Errorf("screen %s: %w", screenID, ErrNotFound)
	}
	list := s.screens[jobID]
	for i := range list {
		if list[i].ID == screenID {
			list[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("screen %s: %w", screenID, ErrNotFound)
}

// ListScreens returns a job's screens ordered by OrderIndex.
func (s *ScreenStore) ListScreens(_ context.Context, jobID string) ([]docs.Screen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]docs.Screen(nil), s.screens[jobID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

// CountScreens reports how many screens a job has persisted.
func (s *ScreenStore) CountScreens(_ context.Context, jobID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.screens[jobID]), nil
}
