// Package cache implements the resource caching layer in front of the
// timetable data API: a two-tier entry store with in-flight request
// deduplication, stale-tolerant reads and quota-aware persistence.
package cache

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
)

// KeyPrefix is the namespace every durable key lives under. No other
// subsystem may write keys with this prefix.
const KeyPrefix = "ttcache:"

// DefaultEntity is the classification used when a URL carries no
// recognizable entity parameter.
const DefaultEntity = "default"

// slugLen bounds the human-readable part of a derived key
const slugLen = 40

// DeriveKey maps a resource URL to a stable cache key: a sanitized,
// truncated slug of the URL for debuggability joined with an FNV-64a
// hash of the full URL for uniqueness. Pure function of its input.
func DeriveKey(rawURL string) string {
	h := fnv.New64a()
	h.Write([]byte(rawURL))

	return fmt.Sprintf("%s-%016x", slugify(rawURL), h.Sum64())
}

// EntityOf extracts the entity classification from the URL's "entity"
// query parameter, falling back to DefaultEntity.
func EntityOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return DefaultEntity
	}
	entity := u.Query().Get("entity")
	if entity == "" {
		return DefaultEntity
	}
	return entity
}

// slugify reduces a URL to a short identifier-safe string
func slugify(rawURL string) string {
	s := strings.TrimPrefix(rawURL, "https://")
	s = strings.TrimPrefix(s, "http://")

	var b strings.Builder
	b.Grow(slugLen)
	for _, r := range s {
		if b.Len() >= slugLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
