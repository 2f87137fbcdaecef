package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Daryl2002/timetable-cache/internal/platform/store"
)

// mockFetcher is a controllable source.Fetcher with a call counter
type mockFetcher struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	err   error
	body  []byte
}

func (f *mockFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	delay, err, body := f.delay, f.err, f.body
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *mockFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *mockFetcher) set(body []byte, err error, delay time.Duration) {
	f.mu.Lock()
	f.body, f.err, f.delay = body, err, delay
	f.mu.Unlock()
}

// countingKV wraps a KV and counts operations, for verifying that
// SkipCache touches nothing
type countingKV struct {
	store.KV
	mu   sync.Mutex
	gets int
	sets int
}

func (c *countingKV) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.KV.Get(ctx, key)
}

func (c *countingKV) Set(ctx context.Context, key, value string) error {
	c.mu.Lock()
	c.sets++
	c.mu.Unlock()
	return c.KV.Set(ctx, key, value)
}

func (c *countingKV) ops() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets, c.sets
}

// capacityKV rejects every write with ErrCapacity
type capacityKV struct {
	store.KV
	mu       sync.Mutex
	setCalls int
	keyCalls int
}

func (c *capacityKV) Set(ctx context.Context, key, value string) error {
	c.mu.Lock()
	c.setCalls++
	c.mu.Unlock()
	return store.ErrCapacity
}

func (c *capacityKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	c.mu.Lock()
	c.keyCalls++
	c.mu.Unlock()
	return c.KV.Keys(ctx, prefix)
}

// testClock is a manually advanced clock shared by service and store
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, fetcher *mockFetcher, kv store.KV) (*Service, *testClock) {
	t.Helper()

	svc, err := NewService(ServiceConfig{
		Fetcher:   fetcher,
		Durable:   kv,
		Retention: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	clock := newTestClock()
	svc.now = clock.Now
	svc.store.now = clock.Now
	return svc, clock
}

const testURL = "https://ftmk.utem.edu.my/portal_ad/data.php?entity=pelajar&sesi=2023"

// TestFetchCachesWithinTTL verifies the idempotence property: two
// fetches inside the TTL window issue exactly one network call
func TestFetchCachesWithinTTL(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`{"rows":[1,2]}`)}
	svc, _ := newTestService(t, fetcher, store.NewMemoryKV(0))

	first, err := svc.Fetch(ctx, testURL, Options{})
	if err != nil {
		t.Fatalf("First fetch failed: %v", err)
	}

	second, err := svc.Fetch(ctx, testURL, Options{})
	if err != nil {
		t.Fatalf("Second fetch failed: %v", err)
	}

	if string(first) != string(second) {
		t.Errorf("Payloads differ: %s vs %s", first, second)
	}
	if fetcher.Calls() != 1 {
		t.Errorf("Expected 1 network call, got %d", fetcher.Calls())
	}

	snap := svc.Stats()
	if snap.Misses != 1 || snap.Hits != 1 {
		t.Errorf("Expected 1 miss and 1 hit, got %+v", snap)
	}
}

// TestTTLExpiryTriggersRefetch verifies entries expire after their
// entity TTL (pelajar: 30 minutes)
func TestTTLExpiryTriggersRefetch(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`[1]`)}
	svc, clock := newTestService(t, fetcher, store.NewMemoryKV(0))

	svc.Fetch(ctx, testURL, Options{})

	// Just inside the window: still cached
	clock.Advance(29 * time.Minute)
	svc.Fetch(ctx, testURL, Options{})
	if fetcher.Calls() != 1 {
		t.Fatalf("Expected no refetch before expiry, got %d calls", fetcher.Calls())
	}

	// Past the window: refetch
	clock.Advance(2 * time.Minute)
	svc.Fetch(ctx, testURL, Options{})
	if fetcher.Calls() != 2 {
		t.Errorf("Expected refetch after expiry, got %d calls", fetcher.Calls())
	}
}

// TestConcurrentFetchesDeduplicate verifies N concurrent callers on an
// empty cache produce exactly one network call and identical payloads
func TestConcurrentFetchesDeduplicate(t *testing.T) {
	const callers = 50

	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`{"shared":true}`), delay: 50 * time.Millisecond}
	svc, _ := newTestService(t, fetcher, store.NewMemoryKV(0))

	var wg sync.WaitGroup
	payloads := make([]json.RawMessage, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payloads[i], errs[i] = svc.Fetch(ctx, testURL, Options{})
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("Caller %d failed: %v", i, errs[i])
		}
		if string(payloads[i]) != `{"shared":true}` {
			t.Fatalf("Caller %d got unexpected payload: %s", i, payloads[i])
		}
	}

	if fetcher.Calls() != 1 {
		t.Errorf("Expected exactly 1 network call for %d callers, got %d", callers, fetcher.Calls())
	}
}

// TestStaleWhileRevalidate verifies a stale entry is served without
// waiting on the network while exactly one background refresh runs
func TestStaleWhileRevalidate(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`"v1"`)}
	svc, clock := newTestService(t, fetcher, store.NewMemoryKV(0))

	svc.Fetch(ctx, testURL, Options{})
	clock.Advance(time.Hour) // well past the 30m pelajar TTL

	fetcher.set([]byte(`"v2"`), nil, 100*time.Millisecond)

	start := time.Now()
	data, err := svc.Fetch(ctx, testURL, Options{StaleWhileRevalidate: true})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Stale fetch failed: %v", err)
	}
	if string(data) != `"v1"` {
		t.Errorf("Expected stale payload v1, got %s", data)
	}
	if elapsed > 50*time.Millisecond {
		t.Errorf("Stale serve should not wait on the network, took %v", elapsed)
	}

	// Let the background refresh settle
	time.Sleep(300 * time.Millisecond)
	if fetcher.Calls() != 2 {
		t.Fatalf("Expected exactly 1 background refresh, got %d total calls", fetcher.Calls())
	}

	// The refreshed entry now serves without further network traffic
	data, err = svc.Fetch(ctx, testURL, Options{})
	if err != nil {
		t.Fatalf("Post-refresh fetch failed: %v", err)
	}
	if string(data) != `"v2"` {
		t.Errorf("Expected refreshed payload v2, got %s", data)
	}
	if fetcher.Calls() != 2 {
		t.Errorf("Expected no additional network call, got %d", fetcher.Calls())
	}
}

// TestForceRefreshBypassesCache verifies ForceRefresh refetches despite
// a valid entry and writes the result through
func TestForceRefreshBypassesCache(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`"old"`)}
	svc, _ := newTestService(t, fetcher, store.NewMemoryKV(0))

	svc.Fetch(ctx, testURL, Options{})
	fetcher.set([]byte(`"new"`), nil, 0)

	data, err := svc.Fetch(ctx, testURL, Options{ForceRefresh: true})
	if err != nil {
		t.Fatalf("Forced refresh failed: %v", err)
	}
	if string(data) != `"new"` {
		t.Errorf("Expected refreshed payload, got %s", data)
	}
	if fetcher.Calls() != 2 {
		t.Errorf("Expected 2 network calls, got %d", fetcher.Calls())
	}

	// The refreshed value is cached
	data, _ = svc.Fetch(ctx, testURL, Options{})
	if string(data) != `"new"` || fetcher.Calls() != 2 {
		t.Errorf("Refresh result was not written through (calls=%d, data=%s)", fetcher.Calls(), data)
	}
}

// TestForceRefreshJoinsBackgroundRefresh verifies a forced refresh and
// a concurrent background revalidation collapse into one network call
func TestForceRefreshJoinsBackgroundRefresh(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`"v1"`)}
	svc, clock := newTestService(t, fetcher, store.NewMemoryKV(0))

	svc.Fetch(ctx, testURL, Options{})
	clock.Advance(time.Hour)

	fetcher.set([]byte(`"v2"`), nil, 100*time.Millisecond)

	// Stale serve launches the background refresh
	svc.Fetch(ctx, testURL, Options{StaleWhileRevalidate: true})

	// The forced refresh must attach to the same in-flight ticket
	data, err := svc.Fetch(ctx, testURL, Options{ForceRefresh: true})
	if err != nil {
		t.Fatalf("Forced refresh failed: %v", err)
	}
	if string(data) != `"v2"` {
		t.Errorf("Expected refreshed payload, got %s", data)
	}

	time.Sleep(50 * time.Millisecond)
	if fetcher.Calls() != 2 {
		t.Errorf("Expected refresh paths to collapse to 1 call (2 total), got %d", fetcher.Calls())
	}
}

// TestNetworkFailureFallsBackToStored verifies a failing fetch serves
// the stored entry regardless of staleness
func TestNetworkFailureFallsBackToStored(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`{"kept":1}`)}
	svc, clock := newTestService(t, fetcher, store.NewMemoryKV(0))

	svc.Fetch(ctx, testURL, Options{})
	clock.Advance(48 * time.Hour) // far beyond any TTL

	fetcher.set(nil, errors.New("connection refused"), 0)

	data, err := svc.Fetch(ctx, testURL, Options{})
	if err != nil {
		t.Fatalf("Expected stale fallback, got error: %v", err)
	}
	if string(data) != `{"kept":1}` {
		t.Errorf("Expected stored payload, got %s", data)
	}
}

// TestNetworkFailureWithoutEntryPropagates verifies the failure reaches
// the caller when nothing is stored
func TestNetworkFailureWithoutEntryPropagates(t *testing.T) {
	ctx := context.Background()
	errNet := errors.New("connection refused")
	fetcher := &mockFetcher{err: errNet}
	svc, _ := newTestService(t, fetcher, store.NewMemoryKV(0))

	if _, err := svc.Fetch(ctx, testURL, Options{}); !errors.Is(err, errNet) {
		t.Errorf("Expected network error, got: %v", err)
	}
}

// TestMalformedPayloadPropagatesAndIsNotCached verifies parse failures
// are a distinct error kind and never enter the cache
func TestMalformedPayloadPropagatesAndIsNotCached(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`<html>login expired</html>`)}
	kv := store.NewMemoryKV(0)
	svc, _ := newTestService(t, fetcher, kv)

	_, err := svc.Fetch(ctx, testURL, Options{})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("Expected ErrMalformedPayload, got: %v", err)
	}
	if kv.Len() != 0 {
		t.Errorf("Malformed payload must not be cached, found %d durable entries", kv.Len())
	}

	// A later fetch goes back to the network
	fetcher.set([]byte(`{"ok":1}`), nil, 0)
	if _, err := svc.Fetch(ctx, testURL, Options{}); err != nil {
		t.Fatalf("Recovery fetch failed: %v", err)
	}
	if fetcher.Calls() != 2 {
		t.Errorf("Expected 2 network calls, got %d", fetcher.Calls())
	}
}

// TestSkipCacheTouchesNothing verifies SkipCache reads and writes
// neither tier even when a valid entry exists
func TestSkipCacheTouchesNothing(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`"cached"`)}
	counter := &countingKV{KV: store.NewMemoryKV(0)}
	svc, _ := newTestService(t, fetcher, counter)

	svc.Fetch(ctx, testURL, Options{})
	getsBefore, setsBefore := counter.ops()
	statsBefore := svc.Stats()

	fetcher.set([]byte(`"direct"`), nil, 0)
	data, err := svc.Fetch(ctx, testURL, Options{SkipCache: true})
	if err != nil {
		t.Fatalf("SkipCache fetch failed: %v", err)
	}
	if string(data) != `"direct"` {
		t.Errorf("Expected direct payload, got %s", data)
	}

	gets, sets := counter.ops()
	if gets != getsBefore || sets != setsBefore {
		t.Errorf("SkipCache touched the store: gets %d->%d, sets %d->%d", getsBefore, gets, setsBefore, sets)
	}
	if svc.Stats() != statsBefore {
		t.Errorf("SkipCache recorded stats: %+v -> %+v", statsBefore, svc.Stats())
	}

	// The cached entry is untouched
	data, _ = svc.Fetch(ctx, testURL, Options{})
	if string(data) != `"cached"` {
		t.Errorf("Cached entry changed under SkipCache: %s", data)
	}
}

// TestQuotaFallbackDisablesDurableWrites verifies the capacity path:
// eviction attempted, one retry, then memory-only for the session
func TestQuotaFallbackDisablesDurableWrites(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`"v"`)}
	kv := &capacityKV{KV: store.NewMemoryKV(0)}
	svc, _ := newTestService(t, fetcher, kv)

	if _, err := svc.Fetch(ctx, testURL, Options{}); err != nil {
		t.Fatalf("Fetch should succeed despite durable failure: %v", err)
	}

	kv.mu.Lock()
	setCalls, keyCalls := kv.setCalls, kv.keyCalls
	kv.mu.Unlock()

	if setCalls != 2 {
		t.Errorf("Expected write + one retry (2 sets), got %d", setCalls)
	}
	if keyCalls < 1 {
		t.Error("Expected an eviction scan between write attempts")
	}
	if !svc.MemoryOnly() {
		t.Error("Expected memory-only mode after repeated capacity failure")
	}

	// Later writes skip the durable tier entirely
	svc.Fetch(ctx, "https://example.edu/data.php?entity=ruang", Options{})
	kv.mu.Lock()
	after := kv.setCalls
	kv.mu.Unlock()
	if after != setCalls {
		t.Errorf("Expected no further durable writes, sets went %d -> %d", setCalls, after)
	}

	// Reads still work from the memory tier
	data, err := svc.Fetch(ctx, testURL, Options{})
	if err != nil || string(data) != `"v"` {
		t.Errorf("Memory-tier read failed after fallback: %v %s", err, data)
	}
}

// TestQuotaEvictionFreesSpaceForRetry verifies old entries are pruned
// and the retried write lands
func TestQuotaEvictionFreesSpaceForRetry(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`"fresh-payload"`)}

	// Budget fits roughly one entry
	kv := store.NewMemoryKV(220)
	svc, clock := newTestService(t, fetcher, kv)

	// Seed an entry, then age it beyond the retention window
	old := Entry{Timestamp: clock.Now().Add(-30 * time.Hour), Entity: "ruang", Data: json.RawMessage(`"ancient"`)}
	raw, _ := json.Marshal(old)
	if err := kv.Set(ctx, KeyPrefix+"old-entry", string(raw)); err != nil {
		t.Fatalf("Seeding failed: %v", err)
	}

	if _, err := svc.Fetch(ctx, testURL, Options{}); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if svc.MemoryOnly() {
		t.Error("Eviction should have made room; memory-only mode not expected")
	}
	if _, err := kv.Get(ctx, KeyPrefix+"old-entry"); !errors.Is(err, store.ErrNotFound) {
		t.Error("Expected the aged entry to be evicted")
	}
	if kv.Len() != 1 {
		t.Errorf("Expected exactly the new entry in the durable tier, got %d keys", kv.Len())
	}
}

// TestDurableHitPromotesToMemory verifies write-through promotion on a
// durable-tier hit
func TestDurableHitPromotesToMemory(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`"persisted"`)}
	kv := store.NewMemoryKV(0)
	svc, clock := newTestService(t, fetcher, kv)

	// A previous process run left an entry in the durable tier only
	entry := Entry{Timestamp: clock.Now(), Entity: "pelajar", Data: json.RawMessage(`"persisted"`)}
	raw, _ := json.Marshal(entry)
	kv.Set(ctx, KeyPrefix+DeriveKey(testURL), string(raw))

	data, err := svc.Fetch(ctx, testURL, Options{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != `"persisted"` {
		t.Errorf("Expected durable payload, got %s", data)
	}
	if fetcher.Calls() != 0 {
		t.Errorf("Durable hit should not reach the network, got %d calls", fetcher.Calls())
	}

	// Remove the durable copy; the promoted memory entry still serves
	kv.Delete(ctx, KeyPrefix+DeriveKey(testURL))
	data, err = svc.Fetch(ctx, testURL, Options{})
	if err != nil || string(data) != `"persisted"` {
		t.Errorf("Promotion to memory tier failed: %v %s", err, data)
	}
}

// TestCorruptDurableEntryIsAMiss verifies corrupt stored values are
// dropped and the fetch proceeds to the network
func TestCorruptDurableEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`"recovered"`)}
	kv := store.NewMemoryKV(0)
	svc, _ := newTestService(t, fetcher, kv)

	kv.Set(ctx, KeyPrefix+DeriveKey(testURL), `{not json!`)

	data, err := svc.Fetch(ctx, testURL, Options{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != `"recovered"` {
		t.Errorf("Expected network payload, got %s", data)
	}
	if fetcher.Calls() != 1 {
		t.Errorf("Expected 1 network call, got %d", fetcher.Calls())
	}
}

// TestScopedClearByEntity verifies Clear removes only the named entity
func TestScopedClearByEntity(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`[]`)}
	kv := store.NewMemoryKV(0)
	svc, _ := newTestService(t, fetcher, kv)

	ruangURL := "https://example.edu/data.php?entity=ruang"
	svc.Fetch(ctx, testURL, Options{})  // pelajar
	svc.Fetch(ctx, ruangURL, Options{}) // ruang

	removed, err := svc.Clear(ctx, "ruang")
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 entry removed, got %d", removed)
	}

	// pelajar survives without a refetch; ruang refetches
	svc.Fetch(ctx, testURL, Options{})
	if fetcher.Calls() != 2 {
		t.Errorf("pelajar entry should have survived, calls=%d", fetcher.Calls())
	}
	svc.Fetch(ctx, ruangURL, Options{})
	if fetcher.Calls() != 3 {
		t.Errorf("ruang entry should have been cleared, calls=%d", fetcher.Calls())
	}
}

// TestFullClearEmptiesNamespace verifies an unscoped clear removes
// everything and reports the count
func TestFullClearEmptiesNamespace(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`[]`)}
	kv := store.NewMemoryKV(0)
	svc, _ := newTestService(t, fetcher, kv)

	for i := 0; i < 3; i++ {
		svc.Fetch(ctx, fmt.Sprintf("https://example.edu/data.php?entity=ruang&blok=%d", i), Options{})
	}

	removed, err := svc.Clear(ctx, "")
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 3 {
		t.Errorf("Expected 3 entries removed, got %d", removed)
	}
	if kv.Len() != 0 {
		t.Errorf("Expected empty namespace, %d keys remain", kv.Len())
	}
}

// TestHitRateFormatting verifies getStats reports 60.0% after 3 hits
// and 2 misses
func TestHitRateFormatting(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`[]`)}
	svc, _ := newTestService(t, fetcher, store.NewMemoryKV(0))

	u1 := "https://example.edu/data.php?entity=ruang"
	u2 := "https://example.edu/data.php?entity=pelajar"

	svc.Fetch(ctx, u1, Options{}) // miss
	svc.Fetch(ctx, u2, Options{}) // miss
	svc.Fetch(ctx, u1, Options{}) // hit
	svc.Fetch(ctx, u1, Options{}) // hit
	svc.Fetch(ctx, u2, Options{}) // hit

	snap := svc.Stats()
	if snap.Hits != 3 || snap.Misses != 2 {
		t.Fatalf("Expected 3 hits / 2 misses, got %+v", snap)
	}
	if snap.HitRate != "60.0%" {
		t.Errorf("Expected hit rate %q, got %q", "60.0%", snap.HitRate)
	}

	svc.ResetStats()
	snap = svc.Stats()
	if snap.Hits != 0 || snap.Misses != 0 || snap.HitRate != "0.0%" {
		t.Errorf("Expected zeroed stats, got %+v", snap)
	}
}

// TestPrefetchIsBestEffort verifies prefetch swallows failures and
// warms the cache on success
func TestPrefetchIsBestEffort(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{err: errors.New("down")}
	svc, _ := newTestService(t, fetcher, store.NewMemoryKV(0))

	// Must not panic or surface the error
	svc.Prefetch(ctx, testURL, Options{})

	fetcher.set([]byte(`"warm"`), nil, 0)
	svc.Prefetch(ctx, testURL, Options{})

	data, err := svc.Fetch(ctx, testURL, Options{})
	if err != nil || string(data) != `"warm"` {
		t.Errorf("Prefetch did not warm the cache: %v %s", err, data)
	}
	if fetcher.Calls() != 2 {
		t.Errorf("Expected 2 network calls (failed + warm), got %d", fetcher.Calls())
	}
}

// TestPrefetchManyBoundsConcurrency verifies the bulk prefetch path
// completes and caches every URL
func TestPrefetchManyBoundsConcurrency(t *testing.T) {
	ctx := context.Background()
	fetcher := &mockFetcher{body: []byte(`[]`), delay: 5 * time.Millisecond}
	svc, _ := newTestService(t, fetcher, store.NewMemoryKV(0))

	urls := make([]string, 8)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.edu/data.php?entity=ruang&blok=%d", i)
	}

	if err := svc.PrefetchMany(ctx, urls, 3, Options{}); err != nil {
		t.Fatalf("PrefetchMany failed: %v", err)
	}
	if fetcher.Calls() != len(urls) {
		t.Errorf("Expected %d network calls, got %d", len(urls), fetcher.Calls())
	}

	// Everything is now cached
	before := fetcher.Calls()
	for _, u := range urls {
		svc.Fetch(ctx, u, Options{})
	}
	if fetcher.Calls() != before {
		t.Errorf("Expected all URLs cached, calls went %d -> %d", before, fetcher.Calls())
	}
}
