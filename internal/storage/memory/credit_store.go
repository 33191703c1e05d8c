package memory

import (
	"context"
	"fmt"
	"sync"
)

// CreditStore keeps prepaid balances per user, in cents.
type CreditStore struct {
	mu       sync.RWMutex
	balances map[string]int
}

// NewCreditStore constructs a CreditStore with optional seed balances.
func NewCreditStore(seed map[string]int) *CreditStore {
	balances := make(map[string]int, len(seed))
	for user, cents := range seed {
		balances[user] = cents
	}
	return &CreditStore{balances: balances}
}

// Credits returns a user's remaining balance.
func (s *CreditStore) Credits(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[userID], nil
}

// Debit subtracts cents from a user's balance. Balances may go
// negative: jobs are never interrupted mid-flight over an overrun.
func (s *CreditStore) Debit(_ context.Context, userID string, cents int) error {
	if cents < 0 {
		return fmt.Errorf("debit must be >= 0, got %d", cents)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] -= cents
	return nil
}

// Credit adds cents to a user's balance.
func (s *CreditStore) Credit(_ context.Context, userID string, cents int) error {
	if cents < 0 {
		return fmt.Errorf("credit must be >= 0, got %d", cents)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] += cents
	return nil
}
