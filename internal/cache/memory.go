package cache

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adsync",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Cache lookups answered from memory.",
	})
	missesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adsync",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Cache lookups that fell through to the directory.",
	})
	clearsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adsync",
		Subsystem: "cache",
		Name:      "clears_total",
		Help:      "Explicit cache invalidations.",
	})
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Memory is an in-process Provider backed by a sync.Map. Expired
// entries are dropped lazily on access and wholesale on Clear.
type Memory struct {
	ttl     time.Duration
	entries sync.Map // map[string]*entry

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewMemory returns a Memory provider with the given TTL. A
// non-positive ttl falls back to DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now}
}

func (m *Memory) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

func (m *Memory) Get(key string) (any, bool) {
	v, ok := m.entries.Load(key)
	if !ok {
		missesTotal.Inc()
		return nil, false
	}

	e := v.(*entry)
	if m.now().After(e.expiresAt) {
		m.entries.Delete(key)
		missesTotal.Inc()
		return nil, false
	}

	hitsTotal.Inc()
	return e.value, true
}

func (m *Memory) Set(key string, value any) {
	m.entries.Store(key, &entry{
		value:     value,
		expiresAt: m.now().Add(m.ttl),
	})
}

func (m *Memory) Clear() {
	clearsTotal.Inc()
	m.entries.Range(func(key, _ any) bool {
		m.entries.Delete(key)
		return true
	})
}

// Len counts unexpired entries. Intended for stats and tests.
func (m *Memory) Len() int {
	n := 0
	now := m.now()
	m.entries.Range(func(_, v any) bool {
		if now.Before(v.(*entry).expiresAt) {
			n++
		}
		return true
	})
	return n
}
