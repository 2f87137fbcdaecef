package cache

import "time"

// defaultTTL applies to entities not present in the table
const defaultTTL = 15 * time.Minute

// ttlTable maps an entity classification to how long its payloads stay
// fresh. Room inventories barely change; student-facing data churns.
var ttlTable = map[string]time.Duration{
	"ruang":            6 * time.Hour,
	"jadual_ruang":     1 * time.Hour,
	"jadual_pensyarah": 1 * time.Hour,
	"pensyarah":        2 * time.Hour,
	"pelajar":          30 * time.Minute,
}

// TTLFor resolves the time-to-live for an entity. A positive override
// from the caller wins; unknown entities get defaultTTL. Total: always
// returns a positive duration.
func TTLFor(entity string, override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	if ttl, ok := ttlTable[entity]; ok {
		return ttl
	}
	return defaultTTL
}
