package store

import (
	"context"
	"strings"
	"sync"
)

// MemoryKV implements KV in process memory with an optional byte
// budget. It backs store-less runs and tests; the budget makes it
// behave like a quota-limited store so capacity handling is exercisable
// without a maxmemory-capped Redis.
type MemoryKV struct {
	mu       sync.RWMutex
	data     map[string]string
	maxBytes int
	used     int
}

// NewMemoryKV creates an in-memory store. maxBytes <= 0 means unbounded.
func NewMemoryKV(maxBytes int) *MemoryKV {
	return &MemoryKV{
		data:     make(map[string]string),
		maxBytes: maxBytes,
	}
}

// Get retrieves a value
func (m *MemoryKV) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	val, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

// Set stores a value, enforcing the byte budget
func (m *MemoryKV) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.used + len(key) + len(value)
	if old, ok := m.data[key]; ok {
		next -= len(key) + len(old)
	}
	if m.maxBytes > 0 && next > m.maxBytes {
		return ErrCapacity
	}

	m.data[key] = value
	m.used = next
	return nil
}

// Delete removes a key
func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.data[key]; ok {
		m.used -= len(key) + len(old)
		delete(m.data, key)
	}
	return nil
}

// Keys returns all keys under prefix
func (m *MemoryKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Close is a no-op
func (m *MemoryKV) Close() error {
	return nil
}

// Len returns the number of stored keys
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
