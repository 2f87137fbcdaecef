// Package store defines the durable key/value collaborator used as the
// cache's persistent tier, plus its backends (Redis, DynamoDB, memory).
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key is not present in the store
	ErrNotFound = errors.New("store: key not found")

	// ErrCapacity is returned when a write fails because the store is
	// out of space. Callers distinguish this from other write failures
	// to drive eviction and memory-only fallback.
	ErrCapacity = errors.New("store: capacity exceeded")
)

// KV is a string key/value store with enumerable keys and finite
// capacity. Implementations must return ErrNotFound for missing keys
// and ErrCapacity for capacity-exceeded writes.
type KV interface {
	// Get retrieves the value stored under key
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, overwriting any previous value
	Set(ctx context.Context, key, value string) error

	// Delete removes a key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Keys returns all keys beginning with prefix
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases the underlying connection
	Close() error
}
