package statestore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	bots "rulebot/internal/domain/entity/bots"
)

// MemoryStore mirrors the redis store's semantics in process memory. It
// backs tests and single-node runs without a redis dependency.
type MemoryStore struct {
	mu    sync.Mutex
	state map[uuid.UUID]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: make(map[uuid.UUID]map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, botID uuid.UUID) (*bots.ExecutionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields := make(map[string]string, len(s.state[botID]))
	for k, v := range s.state[botID] {
		fields[k] = v
	}
	return bots.DecodeState(fields), nil
}

func (s *MemoryStore) CompareAndSet(_ context.Context, botID uuid.UUID, field string, expected, next *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields := s.state[botID]
	current, present := "", false
	if fields != nil {
		current, present = fields[field]
	}

	if expected == nil {
		if present {
			return false, nil
		}
	} else if !present || current != *expected {
		return false, nil
	}

	if next == nil {
		if fields != nil {
			delete(fields, field)
		}
		return true, nil
	}
	if fields == nil {
		fields = make(map[string]string)
		s.state[botID] = fields
	}
	fields[field] = *next
	return true, nil
}
