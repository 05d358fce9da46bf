// Package store defines the key-value persistence abstraction underlying the
// snapshot store. The same component logic works against the in-memory
// implementation or the Postgres one.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("key not found")

// Entry is one key/value pair returned by prefix listing.
type Entry struct {
	Key   string
	Value []byte
}

// KV is the persistence contract. Put must be an atomic replace: readers
// never observe a partially written value.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// ListByPrefix returns all entries whose key starts with prefix, in
	// ascending key order.
	ListByPrefix(ctx context.Context, prefix string) ([]Entry, error)
}
