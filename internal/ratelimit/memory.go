package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps timestamps per key in process. Counts are lost on
// restart and are not shared between instances.
type MemoryStore struct {
	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
	maxWindow time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hits: make(map[string][]time.Time), maxWindow: 2 * time.Minute}
}

func (m *MemoryStore) Take(_ context.Context, key string, now time.Time, limit int, window time.Duration) (bool, int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if window > m.maxWindow {
		m.maxWindow = window
	}
	if now.Sub(m.lastSweep) > m.maxWindow {
		m.sweep(now)
	}

	hits := prune(m.hits[key], now.Add(-window))
	if len(hits) >= limit {
		m.hits[key] = hits
		return false, len(hits), hits[0], nil
	}
	hits = append(hits, now)
	m.hits[key] = hits
	return true, len(hits), hits[0], nil
}

func (m *MemoryStore) sweep(now time.Time) {
	cutoff := now.Add(-m.maxWindow)
	for k, hits := range m.hits {
		if kept := prune(hits, cutoff); len(kept) == 0 {
			delete(m.hits, k)
		} else {
			m.hits[k] = kept
		}
	}
	m.lastSweep = now
}

// prune drops timestamps at or before cutoff. hits is sorted.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
