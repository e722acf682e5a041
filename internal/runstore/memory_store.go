package runstore

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu     sync.Mutex
	cycles map[[32]byte]CycleRecord
	tasks  map[[32]byte][]TaskRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cycles: make(map[[32]byte]CycleRecord),
		tasks:  make(map[[32]byte][]TaskRecord),
	}
}

func (s *MemoryStore) BeginCycle(_ context.Context, c CycleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cycles[c.RunID]; ok {
		return ErrDuplicateRun
	}
	s.cycles[c.RunID] = c
	return nil
}

func (s *MemoryStore) FinishCycle(_ context.Context, c CycleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.cycles[c.RunID]
	if !ok {
		return ErrNotFound
	}
	if prev.Accounts != c.Accounts {
		return ErrCycleMismatch
	}
	s.cycles[c.RunID] = c
	return nil
}

func (s *MemoryStore) GetCycle(_ context.Context, runID [32]byte) (CycleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cycles[runID]
	if !ok {
		return CycleRecord{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) RecordTask(_ context.Context, t TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cycles[t.RunID]; !ok {
		return ErrNotFound
	}
	s.tasks[t.RunID] = append(s.tasks[t.RunID], t)
	return nil
}

func (s *MemoryStore) ListTasks(_ context.Context, runID [32]byte) ([]TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cycles[runID]; !ok {
		return nil, ErrNotFound
	}
	return append([]TaskRecord(nil), s.tasks[runID]...), nil
}
