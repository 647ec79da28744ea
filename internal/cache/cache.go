// Package cache provides fingerprint-keyed result caching for
// directory queries. Entries are opaque to the cache: callers store
// whole result sets under a fingerprint derived from the query that
// produced them, so distinct queries can never observe each other's
// results.
package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
)

// DefaultTTL is how long a cached result set stays valid. Directory
// content changes slowly relative to query volume; callers needing
// fresh data clear the cache explicitly.
const DefaultTTL = 8 * time.Hour

// Provider is the storage contract for cached result sets. All
// implementations must be safe for concurrent use.
type Provider interface {
	// Has reports whether key holds an unexpired entry.
	Has(key string) bool
	// Get returns the entry stored under key. The second return is
	// false when the key is absent or expired.
	Get(key string) (any, bool)
	// Set stores value under key with the provider's TTL.
	Set(key string, value any)
	// Clear discards all entries.
	Clear()
}

// Fingerprint derives a stable cache key from the parts that
// determine a query's result set. Parts are case-folded so that
// equivalent filters and base DNs share an entry.
func Fingerprint(parts ...string) string {
	h := sha1.New()
	for _, part := range parts {
		h.Write([]byte(strings.ToLower(part)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
