package cache

import (
	"encoding/json"
	"sync"

	"golang.org/x/sync/singleflight"
)

// flightGroup deduplicates concurrent fetches per cache key: at most
// one network operation is outstanding per key, and every path that
// issues a fetch (miss, forced refresh, background revalidation) must
// go through it. The pending set is reference-counted around the
// singleflight calls so callers can observe whether a ticket exists.
type flightGroup struct {
	sf singleflight.Group

	mu      sync.Mutex
	pending map[string]int
}

func newFlightGroup() *flightGroup {
	return &flightGroup{
		pending: make(map[string]int),
	}
}

// Pending reports whether a fetch is currently in flight for key
func (g *flightGroup) Pending(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending[key] > 0
}

// Do executes fn for key, or joins an already in-flight execution and
// returns its result. The ticket is released when fn settles, success
// or failure.
func (g *flightGroup) Do(key string, fn func() (json.RawMessage, error)) (json.RawMessage, error) {
	g.enter(key)
	defer g.leave(key)

	v, err, _ := g.sf.Do(key, func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// DoAsync launches fn for key in the background, joining any in-flight
// execution. The result is delivered to onDone once the operation
// settles; the ticket is released unconditionally.
func (g *flightGroup) DoAsync(key string, fn func() (json.RawMessage, error), onDone func(error)) {
	g.enter(key)

	ch := g.sf.DoChan(key, func() (interface{}, error) {
		return fn()
	})

	go func() {
		res := <-ch
		g.leave(key)
		if onDone != nil {
			onDone(res.Err)
		}
	}()
}

func (g *flightGroup) enter(key string) {
	g.mu.Lock()
	g.pending[key]++
	g.mu.Unlock()
}

func (g *flightGroup) leave(key string) {
	g.mu.Lock()
	if g.pending[key]--; g.pending[key] <= 0 {
		delete(g.pending, key)
	}
	g.mu.Unlock()
}
