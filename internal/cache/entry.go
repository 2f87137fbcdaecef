package cache

import (
	"encoding/json"
	"time"
)

// Entry is one cached payload. Entries are immutable once written; a
// refresh stores a new Entry under the same key rather than mutating in
// place. The entity is stored alongside the data so scoped operations
// never need to re-derive it from an opaque key.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Entity    string          `json:"entity"`
	Data      json.RawMessage `json:"data"`
}

// Valid reports whether the entry is still fresh under ttl at the given
// instant. An entry without a timestamp is never valid.
func (e Entry) Valid(ttl time.Duration, now time.Time) bool {
	if e.Timestamp.IsZero() {
		return false
	}
	return now.Sub(e.Timestamp) < ttl
}

// Age returns how old the entry is at the given instant
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.Timestamp)
}
