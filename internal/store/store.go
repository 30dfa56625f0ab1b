// Package store provides the offline record store: a durable key-addressed
// map with last-write-wins semantics. Backends share one contract so callers
// can move between the in-memory store and the SQLite-backed store without
// touching call sites.
package store

import "context"

// Record is a persisted key/value pair. UpdatedAt is epoch milliseconds of
// the write that produced the visible value.
type Record[T any] struct {
	Key       string `json:"key"`
	Value     T      `json:"value"`
	UpdatedAt int64  `json:"updated_at"`
}

// Store is the persistence contract. Save overwrites any existing record and
// surfaces storage failures to the caller; Load never fails for a missing
// key; Remove reports whether a record existed. Concurrent saves to the same
// key resolve by completion order: the last write to finish is the one a
// subsequent Load observes.
type Store[T any] interface {
	Save(ctx context.Context, key string, value T) (Record[T], error)
	Load(ctx context.Context, key string) (Record[T], bool, error)
	Remove(ctx context.Context, key string) (bool, error)
}
