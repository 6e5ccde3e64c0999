package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	gocache "github.com/patrickmn/go-cache"
)

const defaultCleanupInterval = 10 * time.Minute

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	// SizeLimit bounds the summed Policy.Size of live entries. 0 means unbounded.
	SizeLimit int64 `yaml:"size_limit"`
	// CleanupInterval is how often expired entries are reclaimed in the background.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type memoryEntry[V any] struct {
	value  V
	size   int64
	timing deadlines
}

// MemoryStore is a thread-safe, in-process Store with absolute and sliding
// expiration and size-weighted eviction.
//
// Deadlines are evaluated against the injected clock, so an entry is reported
// absent as soon as it expires even if the background janitor has not run yet.
// Values are stored as given; callers that share mutable values must copy them.
type MemoryStore[V any] struct {
	clock     clockwork.Clock
	sizeLimit int64

	mu    sync.Mutex
	items *gocache.Cache
}

// NewMemoryStore creates a MemoryStore. A nil clock uses the real clock.
func NewMemoryStore[V any](cfg MemoryConfig, clock clockwork.Clock) *MemoryStore[V] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	return &MemoryStore[V]{
		clock:     clock,
		sizeLimit: cfg.SizeLimit,
		items:     gocache.New(gocache.NoExpiration, interval),
	}
}

// TryGet returns the live value for key and resets its sliding deadline.
func (s *MemoryStore[V]) TryGet(_ context.Context, key string) (V, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	now := s.clock.Now()
	entry, ok := s.lookup(key, now)
	if !ok {
		return zero, false, nil
	}
	entry.timing = entry.timing.touch(now)
	s.put(key, entry, now)
	return entry.value, true, nil
}

// Set stores value under key with the given policy. An entry whose size exceeds
// the store's limit is not stored.
func (s *MemoryStore[V]) Set(_ context.Context, key string, value V, policy Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if !s.makeRoom(key, policy.Size, now) {
		s.items.Delete(key)
		return nil
	}
	s.put(key, &memoryEntry[V]{
		value:  value,
		size:   policy.Size,
		timing: newDeadlines(policy, now),
	}, now)
	return nil
}

// Replace swaps the value of a live entry under its original policy.
func (s *MemoryStore[V]) Replace(_ context.Context, key string, value V) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	entry, ok := s.lookup(key, now)
	if !ok {
		return false, nil
	}
	s.put(key, &memoryEntry[V]{
		value:  value,
		size:   entry.size,
		timing: entry.timing.touch(now),
	}, now)
	return true, nil
}

// Remove deletes key. It is idempotent.
func (s *MemoryStore[V]) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Delete(key)
	return nil
}

// Len reports the number of live entries.
func (s *MemoryStore[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	n := 0
	for _, item := range s.items.Items() {
		if entry, ok := item.Object.(*memoryEntry[V]); ok && !entry.timing.expired(now) {
			n++
		}
	}
	return n
}

// lookup returns the live entry for key, dropping it if it has expired.
// Must be called with s.mu held.
func (s *MemoryStore[V]) lookup(key string, now time.Time) (*memoryEntry[V], bool) {
	raw, ok := s.items.Get(key)
	if !ok {
		return nil, false
	}
	entry, ok := raw.(*memoryEntry[V])
	if !ok {
		return nil, false
	}
	if entry.timing.expired(now) {
		s.items.Delete(key)
		return nil, false
	}
	return entry, true
}

// put writes entry, aligning the janitor's expiry with the entry's next deadline.
// Must be called with s.mu held.
func (s *MemoryStore[V]) put(key string, entry *memoryEntry[V], now time.Time) {
	ttl := entry.timing.ttl(now)
	if ttl == 0 {
		ttl = gocache.NoExpiration
	}
	s.items.Set(key, entry, ttl)
}

// makeRoom evicts entries until an entry of the given size fits under the
// limit, reporting false when it can never fit. Expired entries go first, then
// the least recently accessed. Must be called with s.mu held.
func (s *MemoryStore[V]) makeRoom(key string, size int64, now time.Time) bool {
	if s.sizeLimit <= 0 {
		return true
	}
	if size > s.sizeLimit {
		return false
	}

	type candidate struct {
		key   string
		entry *memoryEntry[V]
	}
	var used int64
	live := make([]candidate, 0, s.items.ItemCount())
	for k, item := range s.items.Items() {
		entry, ok := item.Object.(*memoryEntry[V])
		if !ok || k == key {
			continue
		}
		if entry.timing.expired(now) {
			s.items.Delete(k)
			continue
		}
		used += entry.size
		live = append(live, candidate{key: k, entry: entry})
	}

	slices.SortFunc(live, func(a, b candidate) int {
		return a.entry.timing.lastAccess.Compare(b.entry.timing.lastAccess)
	})
	for len(live) > 0 && used+size > s.sizeLimit {
		victim := live[0]
		live = live[1:]
		s.items.Delete(victim.key)
		used -= victim.entry.size
	}
	return true
}

var _ Store[int] = (*MemoryStore[int])(nil)
