package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Daryl2002/timetable-cache/internal/platform/observability"
	"github.com/Daryl2002/timetable-cache/internal/platform/store"
)

// EntryInfo describes one durable entry for debug introspection
type EntryInfo struct {
	Key    string        `json:"key"` // key suffix, without the namespace prefix
	Entity string        `json:"entity"`
	Age    time.Duration `json:"age"`
	Size   int           `json:"size"` // serialized size in bytes
}

// entryStore is the two-tier entry store: a process-local map for the
// fastest reads and a durable KV behind it. Durable writes run through
// the quota guard: capacity failures trigger age-based eviction, one
// retry, then a permanent fallback to memory-only operation for the
// rest of the process lifetime. Reads are never affected by the latch.
type entryStore struct {
	mu  sync.RWMutex
	mem map[string]Entry

	durable   store.KV // nil for memory-only operation
	retention time.Duration
	memOnly   atomic.Bool

	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func newEntryStore(durable store.KV, retention time.Duration, logger *observability.Logger, metrics *observability.Metrics) *entryStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &entryStore{
		mem:       make(map[string]Entry),
		durable:   durable,
		retention: retention,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Get looks key up in the memory tier, then the durable tier. A durable
// hit is promoted into the memory tier. Staleness is the caller's
// concern: entries are returned regardless of age.
func (es *entryStore) Get(ctx context.Context, key string) (Entry, bool) {
	es.mu.RLock()
	entry, ok := es.mem[key]
	es.mu.RUnlock()
	if ok {
		return entry, true
	}

	if es.durable == nil {
		return Entry{}, false
	}

	raw, err := es.durable.Get(ctx, KeyPrefix+key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			es.logger.LogDebug(ctx, "durable read failed, treating as miss", "key", key, "error", err)
		}
		return Entry{}, false
	}

	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// Corrupt stored value: drop it and miss
		es.logger.LogWarn(ctx, "corrupt durable entry removed", "key", key, "error", err)
		if delErr := es.durable.Delete(ctx, KeyPrefix+key); delErr != nil {
			es.logger.LogDebug(ctx, "failed to remove corrupt entry", "key", key, "error", delErr)
		}
		return Entry{}, false
	}

	// Promote so subsequent reads in this process skip the durable tier
	es.mu.Lock()
	es.mem[key] = entry
	es.mu.Unlock()

	return entry, true
}

// Put writes the entry to the memory tier unconditionally and to the
// durable tier through the quota guard. Never returns an error: durable
// failures degrade persistence, not correctness.
func (es *entryStore) Put(ctx context.Context, key string, entry Entry) {
	es.mu.Lock()
	es.mem[key] = entry
	es.mu.Unlock()

	if es.durable == nil || es.memOnly.Load() {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		es.logger.LogWarn(ctx, "failed to serialize entry", "key", key, "error", err)
		return
	}

	es.guardedWrite(ctx, key, string(data))
}

// guardedWrite attempts the durable write with capacity recovery: on a
// capacity failure evict everything older than the retention window and
// retry once; a second capacity failure latches memory-only mode.
func (es *entryStore) guardedWrite(ctx context.Context, key, data string) {
	err := es.durable.Set(ctx, KeyPrefix+key, data)
	if err == nil {
		return
	}

	if !errors.Is(err, store.ErrCapacity) {
		es.logger.LogWarn(ctx, "durable write failed", "key", key, "error", err)
		if es.metrics != nil {
			es.metrics.RecordStoreWriteFailure(ctx, "other")
		}
		return
	}

	if es.metrics != nil {
		es.metrics.RecordStoreWriteFailure(ctx, "capacity")
	}

	evicted := es.evictOlderThan(ctx, es.retention)
	es.logger.LogInfo(ctx, "durable store full, ran age-based eviction",
		"evicted", evicted,
		"retention", es.retention.String(),
	)
	if es.metrics != nil {
		es.metrics.RecordEvictions(ctx, int64(evicted))
	}

	if err := es.durable.Set(ctx, KeyPrefix+key, data); err != nil {
		if errors.Is(err, store.ErrCapacity) {
			es.memOnly.Store(true)
			es.logger.LogWarn(ctx, "durable store still full after eviction, continuing memory-only")
		} else {
			es.logger.LogWarn(ctx, "durable retry failed", "key", key, "error", err)
			if es.metrics != nil {
				es.metrics.RecordStoreWriteFailure(ctx, "other")
			}
		}
	}
}

// evictOlderThan removes every durable entry in the namespace older
// than the window; corrupt entries are removed as well. Returns the
// count removed.
func (es *entryStore) evictOlderThan(ctx context.Context, window time.Duration) int {
	keys, err := es.durable.Keys(ctx, KeyPrefix)
	if err != nil {
		es.logger.LogWarn(ctx, "eviction scan failed", "error", err)
		return 0
	}

	cutoff := es.now().Add(-window)
	removed := 0
	for _, k := range keys {
		raw, err := es.durable.Get(ctx, k)
		if err != nil {
			continue
		}
		var entry Entry
		stale := json.Unmarshal([]byte(raw), &entry) != nil || entry.Timestamp.Before(cutoff)
		if !stale {
			continue
		}
		if err := es.durable.Delete(ctx, k); err != nil {
			continue
		}
		es.dropFromMemory(strings.TrimPrefix(k, KeyPrefix))
		removed++
	}
	return removed
}

// Clear removes entries from both tiers. An empty entity clears the
// whole namespace; otherwise only entries tagged with that entity are
// removed. Returns the count removed.
func (es *entryStore) Clear(ctx context.Context, entity string) (int, error) {
	removed := 0

	if es.durable != nil {
		keys, err := es.durable.Keys(ctx, KeyPrefix)
		if err != nil {
			return 0, err
		}
		for _, k := range keys {
			if entity != "" {
				raw, err := es.durable.Get(ctx, k)
				if err != nil {
					continue
				}
				var entry Entry
				if json.Unmarshal([]byte(raw), &entry) == nil && entry.Entity != entity {
					continue
				}
			}
			if err := es.durable.Delete(ctx, k); err != nil {
				es.logger.LogDebug(ctx, "failed to delete entry", "key", k, "error", err)
				continue
			}
			es.dropFromMemory(strings.TrimPrefix(k, KeyPrefix))
			removed++
		}
	}

	// Memory-tier entries that never reached the durable tier
	es.mu.Lock()
	for k, e := range es.mem {
		if entity == "" || e.Entity == entity {
			delete(es.mem, k)
		}
	}
	es.mu.Unlock()

	return removed, nil
}

// ClearStale removes durable entries older than their entity's TTL.
// Returns the count removed.
func (es *entryStore) ClearStale(ctx context.Context) (int, error) {
	if es.durable == nil {
		return 0, nil
	}

	keys, err := es.durable.Keys(ctx, KeyPrefix)
	if err != nil {
		return 0, err
	}

	now := es.now()
	removed := 0
	for _, k := range keys {
		raw, err := es.durable.Get(ctx, k)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err == nil {
			if entry.Valid(TTLFor(entry.Entity, 0), now) {
				continue
			}
		}
		if err := es.durable.Delete(ctx, k); err != nil {
			continue
		}
		es.dropFromMemory(strings.TrimPrefix(k, KeyPrefix))
		removed++
	}
	return removed, nil
}

// List returns debug information for every durable entry in the
// namespace.
func (es *entryStore) List(ctx context.Context) ([]EntryInfo, error) {
	if es.durable == nil {
		return nil, nil
	}

	keys, err := es.durable.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}

	now := es.now()
	infos := make([]EntryInfo, 0, len(keys))
	for _, k := range keys {
		raw, err := es.durable.Get(ctx, k)
		if err != nil {
			continue
		}
		info := EntryInfo{
			Key:  strings.TrimPrefix(k, KeyPrefix),
			Size: len(raw),
		}
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err == nil {
			info.Entity = entry.Entity
			info.Age = entry.Age(now)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// MemoryOnly reports whether durable writes have been disabled by the
// quota guard.
func (es *entryStore) MemoryOnly() bool {
	return es.memOnly.Load()
}

func (es *entryStore) dropFromMemory(key string) {
	es.mu.Lock()
	delete(es.mem, key)
	es.mu.Unlock()
}
