// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"sync"
)

// MemoryAttemptStore keeps attempt records in process memory. A single mutex
// serializes all updates; the critical section is a few field writes.
type MemoryAttemptStore struct {
	mu      sync.Mutex
	records map[string]AttemptRecord
}

// NewMemoryAttemptStore creates an empty store.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{records: make(map[string]AttemptRecord)}
}

// Get returns the record for key, or a clear record.
func (s *MemoryAttemptStore) Get(_ context.Context, key string) (AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return AttemptRecord{Key: key}, nil
	}
	return rec, nil
}

// Update applies fn under the store lock.
func (s *MemoryAttemptStore) Update(_ context.Context, key string, fn func(*AttemptRecord)) (AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		rec = AttemptRecord{Key: key}
	}
	fn(&rec)
	rec.Key = key
	if rec.IsClear() {
		delete(s.records, key)
	} else {
		s.records[key] = rec
	}
	return rec, nil
}

// Delete removes the record for key.
func (s *MemoryAttemptStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Prune removes every record for which evict returns true.
func (s *MemoryAttemptStore) Prune(_ context.Context, evict func(AttemptRecord) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, rec := range s.records {
		if evict(rec) {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of tracked keys.
func (s *MemoryAttemptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
