package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Daryl2002/timetable-cache/internal/platform/observability"
	"github.com/Daryl2002/timetable-cache/internal/platform/store"
	"github.com/Daryl2002/timetable-cache/internal/source"
)

// ErrMalformedPayload is returned when the source response is not valid
// JSON. Distinct from network failures so callers can tell "unreachable"
// from "broken"; malformed payloads are never cached.
var ErrMalformedPayload = errors.New("cache: malformed payload")

// Options configures a single fetch
type Options struct {
	// ForceRefresh bypasses cache reads but still populates the cache
	ForceRefresh bool

	// SkipCache bypasses the cache entirely: nothing read, nothing
	// written, nothing deduplicated
	SkipCache bool

	// StaleWhileRevalidate serves an expired entry immediately and
	// refreshes it in the background
	StaleWhileRevalidate bool

	// TTL overrides the entity's resolved TTL when positive
	TTL time.Duration
}

// ServiceConfig holds cache service construction parameters
type ServiceConfig struct {
	Fetcher   source.Fetcher
	Durable   store.KV // nil for memory-only operation
	Retention time.Duration
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// Service is the caching layer's entry point. Construct one per
// process and pass the handle to callers; all mutable state (both
// tiers, the in-flight registry, stats) lives behind it.
type Service struct {
	fetcher source.Fetcher
	store   *entryStore
	flights *flightGroup
	stats   Stats

	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService creates a cache service
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("cache: fetcher is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}

	return &Service{
		fetcher: cfg.Fetcher,
		store:   newEntryStore(cfg.Durable, cfg.Retention, cfg.Logger, cfg.Metrics),
		flights: newFlightGroup(),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     time.Now,
	}, nil
}

// Fetch returns the parsed JSON payload for url, consulting the cache
// per opts. Decision order with neither SkipCache nor ForceRefresh:
// attach to an in-flight fetch if one exists, then fresh memory entry,
// then fresh durable entry (promoted), then stale entry when
// StaleWhileRevalidate is set (with a background refresh), then a
// deduplicated network fetch. On a network failure any stored entry is
// served regardless of staleness before the error is propagated.
func (s *Service) Fetch(ctx context.Context, rawURL string, opts Options) (json.RawMessage, error) {
	if opts.SkipCache {
		return s.directFetch(ctx, rawURL)
	}

	key := DeriveKey(rawURL)
	entity := EntityOf(rawURL)
	ttl := TTLFor(entity, opts.TTL)

	if !opts.ForceRefresh {
		// Dedup takes priority over cache reads: a caller arriving
		// while a fetch is in flight attaches to it, even if a fresh
		// write might land first.
		if s.flights.Pending(key) {
			return s.flights.Do(key, s.loader(ctx, rawURL, key, entity))
		}

		if entry, ok := s.store.Get(ctx, key); ok {
			if entry.Valid(ttl, s.now()) {
				s.stats.Hit()
				s.recordResult(ctx, entity, "hit")
				return entry.Data, nil
			}
			if opts.StaleWhileRevalidate {
				s.stats.Hit()
				s.recordResult(ctx, entity, "stale")
				s.revalidate(ctx, rawURL, key, entity)
				return entry.Data, nil
			}
		}
	}

	s.stats.Miss()
	s.recordResult(ctx, entity, "miss")

	data, err := s.flights.Do(key, s.loader(ctx, rawURL, key, entity))
	if err == nil {
		return data, nil
	}
	if errors.Is(err, ErrMalformedPayload) {
		return nil, err
	}

	// Network failure: fall back to whatever is stored, however stale
	if entry, ok := s.store.Get(ctx, key); ok {
		s.logger.LogWarn(ctx, "fetch failed, serving stored entry",
			"entity", entity,
			"age", entry.Age(s.now()).String(),
			"error", err,
		)
		return entry.Data, nil
	}
	return nil, err
}

// Prefetch warms the cache for url. Best-effort: failures are logged
// and swallowed. Stale-while-revalidate semantics are forced so a
// caller never waits on an entry that merely needs refreshing.
func (s *Service) Prefetch(ctx context.Context, rawURL string, opts Options) {
	opts.SkipCache = false
	opts.StaleWhileRevalidate = true

	if _, err := s.Fetch(ctx, rawURL, opts); err != nil {
		s.logger.LogDebug(ctx, "prefetch failed", "url", rawURL, "error", err)
	}
}

// PrefetchMany warms the cache for a set of URLs with bounded
// concurrency.
func (s *Service) PrefetchMany(ctx context.Context, urls []string, limit int64, opts Options) error {
	if limit <= 0 {
		limit = 4
	}
	sem := semaphore.NewWeighted(limit)

	for _, u := range urls {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func(u string) {
			defer sem.Release(1)
			s.Prefetch(ctx, u, opts)
		}(u)
	}

	// Wait for the in-flight prefetches to finish
	if err := sem.Acquire(ctx, limit); err != nil {
		return err
	}
	sem.Release(limit)
	return nil
}

// Clear removes cached entries; empty entity means everything in the
// namespace. Returns the count removed from the durable tier.
func (s *Service) Clear(ctx context.Context, entity string) (int, error) {
	return s.store.Clear(ctx, entity)
}

// ClearStale removes durable entries older than their entity TTL
func (s *Service) ClearStale(ctx context.Context) (int, error) {
	return s.store.ClearStale(ctx)
}

// List returns debug information for every durable entry
func (s *Service) List(ctx context.Context) ([]EntryInfo, error) {
	return s.store.List(ctx)
}

// Stats returns a snapshot of the hit/miss counters
func (s *Service) Stats() StatsSnapshot {
	return s.stats.Snapshot()
}

// ResetStats zeroes the hit/miss counters
func (s *Service) ResetStats() {
	s.stats.Reset()
}

// MemoryOnly reports whether the quota guard has disabled durable writes
func (s *Service) MemoryOnly() bool {
	return s.store.MemoryOnly()
}

// directFetch bypasses every cache structure: no tiers, no registry,
// no stats
func (s *Service) directFetch(ctx context.Context, rawURL string) (json.RawMessage, error) {
	start := s.now()
	body, err := s.fetcher.Fetch(ctx, rawURL)
	s.recordFetch(ctx, EntityOf(rawURL), err, start)
	if err != nil {
		return nil, err
	}
	return parsePayload(body)
}

// loader builds the fetch-parse-store unit of work the in-flight
// registry runs at most once per key.
func (s *Service) loader(ctx context.Context, rawURL, key, entity string) func() (json.RawMessage, error) {
	return func() (json.RawMessage, error) {
		start := s.now()
		body, err := s.fetcher.Fetch(ctx, rawURL)
		s.recordFetch(ctx, entity, err, start)
		if err != nil {
			return nil, err
		}

		data, err := parsePayload(body)
		if err != nil {
			return nil, err
		}

		s.store.Put(ctx, key, Entry{
			Timestamp: s.now(),
			Entity:    entity,
			Data:      data,
		})
		return data, nil
	}
}

// revalidate refreshes key in the background. The registry collapses it
// with any concurrent fetch for the same key; failures keep the stale
// entry and are only logged.
func (s *Service) revalidate(ctx context.Context, rawURL, key, entity string) {
	if s.flights.Pending(key) {
		return
	}

	// The caller returns immediately with the stale payload; detach the
	// refresh from its cancellation.
	bg := context.WithoutCancel(ctx)
	s.flights.DoAsync(key, s.loader(bg, rawURL, key, entity), func(err error) {
		if err != nil {
			s.logger.LogDebug(bg, "background revalidation failed", "entity", entity, "error", err)
		}
	})
}

// parsePayload validates the body as JSON
func parsePayload(body []byte) (json.RawMessage, error) {
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %.60q", ErrMalformedPayload, body)
	}
	return json.RawMessage(body), nil
}

func (s *Service) recordResult(ctx context.Context, entity, result string) {
	if s.metrics != nil {
		s.metrics.RecordCacheResult(ctx, entity, result)
	}
}

func (s *Service) recordFetch(ctx context.Context, entity string, err error, start time.Time) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordFetch(ctx, entity, status, s.now().Sub(start))
}
