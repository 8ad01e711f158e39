// Package cache provides an in-process, time-bounded, request-coalescing
// store for raw API payloads.
//
// Entries expire TTL after insertion and are dropped lazily on read;
// there is no background sweeper and nothing persists across runs. On a
// miss, concurrent callers for the same key are coalesced so exactly one
// fetch hits the network; a failed fetch is propagated to every waiter
// and never cached, so the next caller retries instead of replaying the
// failure.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/notiontools/notion2prompt/pkg/logging"
)

// Prometheus metrics for cache operations.
var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notion_cache_hits_total",
		Help: "Total number of cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notion_cache_misses_total",
		Help: "Total number of cache misses",
	})

	cacheCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notion_cache_coalesced_total",
		Help: "Total number of callers that piggybacked on an in-flight fetch",
	})

	cacheExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notion_cache_expired_total",
		Help: "Total number of entries dropped lazily on read after TTL expiry",
	})
)

// FetchFunc produces the value for a key on a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

type entry struct {
	data     []byte
	cachedAt time.Time
}

func (e *entry) expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.cachedAt) > ttl
}

// Store is a TTL cache keyed by string. The zero value is not usable;
// construct with New or Disabled.
type Store struct {
	ttl      time.Duration
	disabled bool

	mu      sync.RWMutex
	entries map[string]*entry

	group  singleflight.Group
	logger zerolog.Logger

	// now is swappable for expiry tests.
	now func() time.Time
}

// New creates a cache whose entries expire ttl after insertion.
func New(ttl time.Duration) *Store {
	return &Store{
		ttl:     ttl,
		entries: make(map[string]*entry),
		logger:  logging.NewLogger("cache"),
		now:     time.Now,
	}
}

// Disabled creates a pass-through store: every call invokes the fetch
// function directly with no coalescing and no storage.
func Disabled() *Store {
	return &Store{disabled: true, now: time.Now}
}

// Get returns the cached value for key, or false on a miss. Expired
// entries count as misses and are removed.
func (s *Store) Get(key string) ([]byte, bool) {
	if s.disabled {
		return nil, false
	}

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		cacheMisses.Inc()
		return nil, false
	}
	if e.expired(s.ttl, s.now()) {
		s.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// refreshed the entry in between.
		if cur, ok := s.entries[key]; ok && cur.expired(s.ttl, s.now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		cacheExpired.Inc()
		cacheMisses.Inc()
		s.logger.Debug().Str("key", key).Msg("Cache entry expired")
		return nil, false
	}

	cacheHits.Inc()
	return e.data, true
}

// Set stores a value under key, resetting its TTL clock.
func (s *Store) Set(key string, data []byte) {
	if s.disabled {
		return
	}
	s.mu.Lock()
	s.entries[key] = &entry{data: data, cachedAt: s.now()}
	s.mu.Unlock()
}

// GetOrFetch returns the cached value for key, or invokes fetch to
// produce it. Concurrent callers for the same key share a single fetch;
// a successful result is stored, a failure is not.
func (s *Store) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) ([]byte, error) {
	if s.disabled {
		return fetch(ctx)
	}

	if data, ok := s.Get(key); ok {
		return data, nil
	}

	data, err, shared := s.group.Do(key, func() (any, error) {
		// Double-check: a coalesced predecessor may have populated the
		// entry between our miss and acquiring the flight.
		if data, ok := s.Get(key); ok {
			return data, nil
		}
		data, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.Set(key, data)
		return data, nil
	})
	if shared {
		cacheCoalesced.Inc()
	}
	if err != nil {
		return nil, err
	}
	return data.([]byte), nil
}

// Coalesce deduplicates concurrent calls for key without consulting or
// populating the TTL store. Used for paginated fetches, where the caller
// decides whether the (possibly partial) result is complete enough to Set.
func (s *Store) Coalesce(ctx context.Context, key string, fetch FetchFunc) ([]byte, error) {
	if s.disabled {
		return fetch(ctx)
	}

	data, err, shared := s.group.Do(key, func() (any, error) {
		return fetch(ctx)
	})
	if shared {
		cacheCoalesced.Inc()
	}
	if err != nil {
		return nil, err
	}
	return data.([]byte), nil
}

// Len reports the number of stored entries, expired or not.
func (s *Store) Len() int {
	if s.disabled {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
