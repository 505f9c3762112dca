package store

import (
	"context"
	"sync"
	"time"

	"graphony/pkg/common"
)

// CacheStatsStore persists sample cache entry statistics so access history
// survives process restarts. Payload bytes live in the payload store; this
// only records the bookkeeping the eviction policies are rebuilt from.
type CacheStatsStore interface {
	Upsert(ctx context.Context, entry common.SampleCacheEntry) error
	Touch(ctx context.Context, sampleID int64, at time.Time, accessCount int64) error
	Delete(ctx context.Context, sampleID int64) error
	List(ctx context.Context) ([]common.SampleCacheEntry, error)
	GenreCounts(ctx context.Context) (map[string]int64, error)
}

// MemoryStatsStore is an in-process CacheStatsStore used in tests and when
// no database is configured. State does not survive restarts.
type MemoryStatsStore struct {
	mu      sync.Mutex
	entries map[int64]common.SampleCacheEntry
}

// NewMemoryStatsStore creates an empty in-memory stats store.
func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{
		entries: make(map[int64]common.SampleCacheEntry),
	}
}

// Upsert stores or replaces an entry record.
func (s *MemoryStatsStore) Upsert(ctx context.Context, entry common.SampleCacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.SampleID] = entry
	return nil
}

// Touch updates the access statistics of an existing record.
func (s *MemoryStatsStore) Touch(ctx context.Context, sampleID int64, at time.Time, accessCount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[sampleID]
	if !ok {
		return nil
	}
	entry.LastAccessTime = at
	entry.AccessCount = accessCount
	s.entries[sampleID] = entry
	return nil
}

// Delete removes an entry record.
func (s *MemoryStatsStore) Delete(ctx context.Context, sampleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sampleID)
	return nil
}

// List returns every stored entry record.
func (s *MemoryStatsStore) List(ctx context.Context) ([]common.SampleCacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]common.SampleCacheEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	return out, nil
}

// GenreCounts aggregates access counts by genre tag.
func (s *MemoryStatsStore) GenreCounts(ctx context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int64)
	for _, entry := range s.entries {
		counts[entry.GenreTag] += entry.AccessCount
	}
	return counts, nil
}
