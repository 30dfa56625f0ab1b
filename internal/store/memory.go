package store

import (
	"context"
	"sync"
	"time"
)

// Memory is the in-process backend. Each instance owns its map exclusively;
// no global state, so tests and tenants get independent stores.
type Memory[T any] struct {
	mu      sync.Mutex
	records map[string]Record[T]
	clock   func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{
		records: make(map[string]Record[T]),
		clock:   time.Now,
	}
}

// Save overwrites any existing record for key. The timestamp and the map
// write happen under one lock, so the write that completes last is the one
// later Loads observe.
func (m *Memory[T]) Save(_ context.Context, key string, value T) (Record[T], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := Record[T]{Key: key, Value: value, UpdatedAt: m.clock().UnixMilli()}
	m.records[key] = rec
	return rec, nil
}

// Load returns the current record for key, reporting absence via ok.
func (m *Memory[T]) Load(_ context.Context, key string) (Record[T], bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	return rec, ok, nil
}

// Remove deletes the record for key, reporting whether one existed.
func (m *Memory[T]) Remove(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[key]
	delete(m.records, key)
	return ok, nil
}

// Len reports the number of stored records.
func (m *Memory[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
