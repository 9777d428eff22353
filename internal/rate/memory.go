package rate

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const sweepEvery = 1024

type memItem struct {
	value     string
	expiresAt time.Time
}

func (i memItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryStore implements Store in process for single-node deployments and tests.
//
// Expired entries are dropped lazily on access and by an occasional pass piggybacked on
// writes, so memory stays bounded by the live key set.
type MemoryStore struct {
	mu     sync.Mutex
	now    func() time.Time
	items  map[string]memItem
	writes int
}

// NewMemoryStore returns an empty store. A nil now defaults to time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, items: make(map[string]memItem)}
}

func (s *MemoryStore) lookup(key string, now time.Time) (memItem, bool) {
	item, ok := s.items[key]
	if !ok {
		return memItem{}, false
	}
	if item.expired(now) {
		delete(s.items, key)
		return memItem{}, false
	}
	return item, true
}

func (s *MemoryStore) put(key, value string, ttl time.Duration, now time.Time) {
	item := memItem{value: value}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}
	s.items[key] = item

	s.writes++
	if s.writes%sweepEvery == 0 {
		for k, v := range s.items {
			if v.expired(now) {
				delete(s.items, k)
			}
		}
	}
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	item, ok := s.lookup(key, now)
	if !ok {
		s.put(key, "1", ttl, now)
		return 1, nil
	}
	count, err := strconv.ParseInt(item.value, 10, 64)
	if err != nil {
		return 0, ErrNotCounter
	}
	count++
	item.value = strconv.FormatInt(count, 10)
	s.items[key] = item
	return count, nil
}

func (s *MemoryStore) Count(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.lookup(key, s.now())
	if !ok {
		return 0, nil
	}
	count, err := strconv.ParseInt(item.value, 10, 64)
	if err != nil {
		return 0, ErrNotCounter
	}
	return count, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(key, value, ttl, s.now())
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, ok := s.lookup(key, now); ok {
		return false, nil
	}
	s.put(key, value, ttl, now)
	return true, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.lookup(key, s.now())
	return item.value, ok, nil
}

func (s *MemoryStore) Take(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.lookup(key, s.now())
	if ok {
		delete(s.items, key)
	}
	return item.value, ok, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	item, ok := s.lookup(key, now)
	if !ok || item.expiresAt.IsZero() {
		return 0, nil
	}
	return item.expiresAt.Sub(now), nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.items, key)
	}
	return nil
}

// Len reports the number of live keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, item := range s.items {
		if !item.expired(now) {
			n++
		}
	}
	return n
}
