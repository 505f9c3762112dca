package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"graphony/pkg/common"
	"graphony/pkg/logger"
	"graphony/pkg/samples"
	"graphony/pkg/store"

	"golang.org/x/sync/errgroup"
)

// Fetcher retrieves sample payloads and metadata from the remote library.
// Implemented by samples.Client.
type Fetcher interface {
	Fetch(ctx context.Context, sampleID int64) ([]byte, samples.Metadata, error)
	Search(ctx context.Context, params samples.SearchParams) ([]samples.Metadata, error)
}

// PayloadStore persists raw sample bytes so evicted-then-needed samples can
// be reloaded without hitting the remote library.
type PayloadStore interface {
	PutPayload(ctx context.Context, sampleID int64, payload []byte) error
	GetPayload(ctx context.Context, sampleID int64) ([]byte, error)
	DeletePayload(ctx context.Context, sampleID int64) error
}

// QuotaExceededError reports a sample too large to ever fit in the cache.
type QuotaExceededError struct {
	SampleID  int64
	SizeBytes int64
	Quota     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("sample %d (%d bytes) exceeds cache quota of %d bytes", e.SampleID, e.SizeBytes, e.Quota)
}

type cacheEntry struct {
	stats   common.SampleCacheEntry
	payload []byte
	pins    int
}

// Manager holds fetched sample payloads in memory under a byte quota,
// evicting by the configured policy when space is needed. Pinned entries
// are never evicted. All operations are safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	entries map[int64]*cacheEntry
	size    int64

	quota    int64
	policy   Policy
	fetcher  Fetcher
	stats    store.CacheStatsStore
	payloads PayloadStore
	now      func() time.Time
}

// NewManagerParams contains configuration for creating a cache Manager.
// Stats and Payloads are optional; Now overrides the clock in tests.
type NewManagerParams struct {
	QuotaBytes int64
	Policy     Policy
	Fetcher    Fetcher
	Stats      store.CacheStatsStore
	Payloads   PayloadStore
	Now        func() time.Time
}

// NewManager creates a cache manager. When a stats store is configured the
// policy state is rebuilt from persisted access history; payloads are
// reloaded lazily on first access.
func NewManager(ctx context.Context, params NewManagerParams) (*Manager, error) {
	policy := params.Policy
	if policy == nil {
		policy = NewLRUPolicy()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	m := &Manager{
		entries:  make(map[int64]*cacheEntry),
		quota:    params.QuotaBytes,
		policy:   policy,
		fetcher:  params.Fetcher,
		stats:    params.Stats,
		payloads: params.Payloads,
		now:      now,
	}
	if m.stats != nil {
		if err := m.rebuild(ctx); err != nil {
			return nil, fmt.Errorf("failed to rebuild cache state: %w", err)
		}
	}
	return m, nil
}

// rebuild restores entry bookkeeping from the stats store. Entries whose
// combined size exceeds the quota are dropped coldest-first.
func (m *Manager) rebuild(ctx context.Context) error {
	persisted, err := m.stats.List(ctx)
	if err != nil {
		return err
	}
	for _, entry := range persisted {
		m.entries[entry.SampleID] = &cacheEntry{stats: entry}
		m.size += entry.SizeBytes
		m.policy.OnInsert(entry)
	}
	if m.size > m.quota {
		if err := m.evictLocked(ctx, m.size-m.quota); err != nil {
			return err
		}
	}
	return nil
}

// Contains reports whether the sample is currently cached.
func (m *Manager) Contains(sampleID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[sampleID]
	return ok
}

// Get returns the sample payload, fetching and inserting it on a miss.
func (m *Manager) Get(ctx context.Context, sampleID int64) ([]byte, error) {
	payload, _, err := m.get(ctx, sampleID, false)
	return payload, err
}

// Acquire returns the sample payload with the entry pinned against
// eviction. The caller must invoke the release function when the sample is
// no longer in use.
func (m *Manager) Acquire(ctx context.Context, sampleID int64) ([]byte, func(), error) {
	payload, release, err := m.get(ctx, sampleID, true)
	return payload, release, err
}

func (m *Manager) get(ctx context.Context, sampleID int64, pin bool) ([]byte, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[sampleID]
	if !ok {
		inserted, err := m.fetchLocked(ctx, sampleID)
		if err != nil {
			return nil, nil, err
		}
		entry = inserted
	} else if entry.payload == nil {
		if err := m.reloadPayloadLocked(ctx, entry); err != nil {
			return nil, nil, err
		}
	}

	entry.stats.LastAccessTime = m.now()
	entry.stats.AccessCount++
	m.policy.OnAccess(entry.stats)
	if m.stats != nil {
		if err := m.stats.Touch(ctx, sampleID, entry.stats.LastAccessTime, entry.stats.AccessCount); err != nil {
			logger.Warn("failed to persist cache access", "sampleId", sampleID, "error", err)
		}
	}

	var release func()
	if pin {
		entry.pins++
		var once sync.Once
		release = func() {
			once.Do(func() {
				m.mu.Lock()
				defer m.mu.Unlock()
				if e, ok := m.entries[sampleID]; ok && e.pins > 0 {
					e.pins--
				}
			})
		}
	}
	return entry.payload, release, nil
}

// fetchLocked fetches a sample from the remote library and inserts it,
// evicting as needed to stay within quota. Caller holds the write lock.
func (m *Manager) fetchLocked(ctx context.Context, sampleID int64) (*cacheEntry, error) {
	if m.fetcher == nil {
		return nil, fmt.Errorf("sample %d not cached and no fetcher configured", sampleID)
	}
	payload, meta, err := m.fetcher.Fetch(ctx, sampleID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sample %d: %w", sampleID, err)
	}
	return m.insertLocked(ctx, sampleID, payload, meta.GenreTag)
}

func (m *Manager) insertLocked(ctx context.Context, sampleID int64, payload []byte, genre string) (*cacheEntry, error) {
	size := int64(len(payload))
	if size > m.quota {
		return nil, &QuotaExceededError{SampleID: sampleID, SizeBytes: size, Quota: m.quota}
	}
	if m.size+size > m.quota {
		if err := m.evictLocked(ctx, m.size+size-m.quota); err != nil {
			return nil, err
		}
	}

	entry := &cacheEntry{
		stats: common.SampleCacheEntry{
			SampleID:       sampleID,
			SizeBytes:      size,
			LastAccessTime: m.now(),
			GenreTag:       genre,
			FetchedAt:      m.now(),
		},
		payload: payload,
	}
	m.entries[sampleID] = entry
	m.size += size
	m.policy.OnInsert(entry.stats)

	if m.payloads != nil {
		if err := m.payloads.PutPayload(ctx, sampleID, payload); err != nil {
			logger.Warn("failed to persist sample payload", "sampleId", sampleID, "error", err)
		}
	}
	if m.stats != nil {
		if err := m.stats.Upsert(ctx, entry.stats); err != nil {
			logger.Warn("failed to persist cache entry", "sampleId", sampleID, "error", err)
		}
	}
	return entry, nil
}

// reloadPayloadLocked restores a payload dropped at restart from the
// payload store, or refetches it when no store is configured.
func (m *Manager) reloadPayloadLocked(ctx context.Context, entry *cacheEntry) error {
	if m.payloads != nil {
		payload, err := m.payloads.GetPayload(ctx, entry.stats.SampleID)
		if err == nil {
			entry.payload = payload
			return nil
		}
		logger.Warn("failed to reload sample payload", "sampleId", entry.stats.SampleID, "error", err)
	}
	if m.fetcher == nil {
		return fmt.Errorf("sample %d payload unavailable and no fetcher configured", entry.stats.SampleID)
	}
	payload, _, err := m.fetcher.Fetch(ctx, entry.stats.SampleID)
	if err != nil {
		return fmt.Errorf("failed to refetch sample %d: %w", entry.stats.SampleID, err)
	}
	entry.payload = payload
	return nil
}

// evictLocked frees at least the requested number of bytes, removing
// unpinned entries in ascending policy score order. Caller holds the write
// lock.
func (m *Manager) evictLocked(ctx context.Context, bytesNeeded int64) error {
	type scored struct {
		id    int64
		score float64
	}
	var candidates []scored
	for id, entry := range m.entries {
		if entry.pins > 0 {
			continue
		}
		candidates = append(candidates, scored{id: id, score: m.policy.Score(entry.stats)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score < candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})

	var freed int64
	for _, candidate := range candidates {
		if freed >= bytesNeeded {
			break
		}
		entry := m.entries[candidate.id]
		delete(m.entries, candidate.id)
		m.size -= entry.stats.SizeBytes
		freed += entry.stats.SizeBytes
		m.policy.OnEvict(entry.stats)
		logger.Debug("evicted cached sample", "sampleId", candidate.id, "sizeBytes", entry.stats.SizeBytes, "policy", m.policy.Name())

		if m.payloads != nil {
			if err := m.payloads.DeletePayload(ctx, candidate.id); err != nil {
				logger.Warn("failed to delete sample payload", "sampleId", candidate.id, "error", err)
			}
		}
		if m.stats != nil {
			if err := m.stats.Delete(ctx, candidate.id); err != nil {
				logger.Warn("failed to delete cache entry record", "sampleId", candidate.id, "error", err)
			}
		}
	}
	if freed < bytesNeeded {
		return fmt.Errorf("could not free %d bytes, %d bytes pinned", bytesNeeded, m.size)
	}
	return nil
}

// EvictUntil removes entries in ascending policy score order until the
// cache holds at most targetBytes. Pinned entries are never removed; an
// error is returned when pins keep the cache above the target.
func (m *Manager) EvictUntil(ctx context.Context, targetBytes int64) error {
	if targetBytes < 0 {
		targetBytes = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.size <= targetBytes {
		return nil
	}
	return m.evictLocked(ctx, m.size-targetBytes)
}

// Preload fetches samples matching the genre into the cache, up to limit.
// Individual fetch failures are logged and skipped.
func (m *Manager) Preload(ctx context.Context, genre string, limit int) (int, error) {
	if m.fetcher == nil {
		return 0, fmt.Errorf("no fetcher configured")
	}
	metas, err := m.fetcher.Search(ctx, samples.SearchParams{GenreTag: genre, Limit: limit})
	if err != nil {
		return 0, fmt.Errorf("failed to search samples for genre %q: %w", genre, err)
	}

	var (
		loadedLock sync.Mutex
		loaded     int
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for _, meta := range metas {
		if m.Contains(meta.ID) {
			continue
		}
		group.Go(func() error {
			if _, err := m.Get(groupCtx, meta.ID); err != nil {
				logger.Warn("failed to preload sample", "sampleId", meta.ID, "genre", genre, "error", err)
				return nil
			}
			loadedLock.Lock()
			loaded++
			loadedLock.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return loaded, err
	}
	logger.Info("preloaded samples", "genre", genre, "count", loaded)
	return loaded, nil
}

// ManagerStats summarizes the current cache state.
type ManagerStats struct {
	EntryCount int    `json:"entryCount"`
	SizeBytes  int64  `json:"sizeBytes"`
	QuotaBytes int64  `json:"quotaBytes"`
	Policy     string `json:"policy"`
	Pinned     int    `json:"pinned"`
}

// Stats returns a snapshot of the cache state.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := ManagerStats{
		EntryCount: len(m.entries),
		SizeBytes:  m.size,
		QuotaBytes: m.quota,
		Policy:     m.policy.Name(),
	}
	for _, entry := range m.entries {
		if entry.pins > 0 {
			stats.Pinned++
		}
	}
	return stats
}

// MemoryPayloadStore is an in-process PayloadStore used in tests and when
// no object storage is configured.
type MemoryPayloadStore struct {
	mu       sync.Mutex
	payloads map[int64][]byte
}

// NewMemoryPayloadStore creates an empty in-memory payload store.
func NewMemoryPayloadStore() *MemoryPayloadStore {
	return &MemoryPayloadStore{payloads: make(map[int64][]byte)}
}

func (s *MemoryPayloadStore) PutPayload(ctx context.Context, sampleID int64, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[sampleID] = payload
	return nil
}

func (s *MemoryPayloadStore) GetPayload(ctx context.Context, sampleID int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.payloads[sampleID]
	if !ok {
		return nil, fmt.Errorf("no payload stored for sample %d", sampleID)
	}
	return payload, nil
}

func (s *MemoryPayloadStore) DeletePayload(ctx context.Context, sampleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payloads, sampleID)
	return nil
}
