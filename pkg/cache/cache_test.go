package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"graphony/pkg/samples"
	"graphony/pkg/store"
)

type fakeFetcher struct {
	payloads map[int64][]byte
	genres   map[int64]string
	fetches  int
	library  []samples.Metadata
}

func (f *fakeFetcher) Fetch(ctx context.Context, sampleID int64) ([]byte, samples.Metadata, error) {
	f.fetches++
	payload, ok := f.payloads[sampleID]
	if !ok {
		return nil, samples.Metadata{}, fmt.Errorf("sample %d not found", sampleID)
	}
	return payload, samples.Metadata{
		ID:        sampleID,
		GenreTag:  f.genres[sampleID],
		SizeBytes: int64(len(payload)),
	}, nil
}

func (f *fakeFetcher) Search(ctx context.Context, params samples.SearchParams) ([]samples.Metadata, error) {
	var out []samples.Metadata
	for _, meta := range f.library {
		if params.GenreTag != "" && meta.GenreTag != params.GenreTag {
			continue
		}
		out = append(out, meta)
		if params.Limit > 0 && len(out) >= params.Limit {
			break
		}
	}
	return out, nil
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		payloads: make(map[int64][]byte),
		genres:   make(map[int64]string),
	}
}

func (f *fakeFetcher) add(id int64, size int, genre string) {
	f.payloads[id] = make([]byte, size)
	f.genres[id] = genre
	f.library = append(f.library, samples.Metadata{ID: id, GenreTag: genre, SizeBytes: int64(size)})
}

// fakeClock hands out strictly increasing timestamps.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newManagerForTest(t *testing.T, quota int64, policy Policy, fetcher Fetcher) *Manager {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	m, err := NewManager(context.Background(), NewManagerParams{
		QuotaBytes: quota,
		Policy:     policy,
		Fetcher:    fetcher,
		Now:        clock.now,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestGetFetchesOnMissAndCachesHit(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.add(1, 100, "ambient")
	m := newManagerForTest(t, 1000, NewLRUPolicy(), fetcher)

	payload, err := m.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(payload) != 100 {
		t.Fatalf("expected 100 byte payload, got %d", len(payload))
	}
	if _, err := m.Get(context.Background(), 1); err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if fetcher.fetches != 1 {
		t.Fatalf("expected 1 fetch, got %d", fetcher.fetches)
	}
	if !m.Contains(1) {
		t.Fatal("expected sample 1 to be cached")
	}
}

func TestQuotaInvariantHeldAcrossInsertions(t *testing.T) {
	fetcher := newFakeFetcher()
	for id := int64(1); id <= 20; id++ {
		fetcher.add(id, 100, "ambient")
	}
	m := newManagerForTest(t, 500, NewLRUPolicy(), fetcher)

	for id := int64(1); id <= 20; id++ {
		if _, err := m.Get(context.Background(), id); err != nil {
			t.Fatalf("Get(%d) failed: %v", id, err)
		}
		if stats := m.Stats(); stats.SizeBytes > stats.QuotaBytes {
			t.Fatalf("after inserting %d: size %d exceeds quota %d", id, stats.SizeBytes, stats.QuotaBytes)
		}
	}
	if stats := m.Stats(); stats.EntryCount != 5 {
		t.Fatalf("expected 5 entries at quota, got %d", stats.EntryCount)
	}
}

func TestEvictUntilShrinksToTarget(t *testing.T) {
	fetcher := newFakeFetcher()
	for id := int64(1); id <= 4; id++ {
		fetcher.add(id, 100, "ambient")
	}
	m := newManagerForTest(t, 1000, NewLRUPolicy(), fetcher)
	for id := int64(1); id <= 4; id++ {
		if _, err := m.Get(context.Background(), id); err != nil {
			t.Fatalf("Get(%d) failed: %v", id, err)
		}
	}

	if err := m.EvictUntil(context.Background(), 200); err != nil {
		t.Fatalf("EvictUntil failed: %v", err)
	}
	stats := m.Stats()
	if stats.SizeBytes > 200 {
		t.Fatalf("expected at most 200 bytes, got %d", stats.SizeBytes)
	}
	// Least recently used entries go first.
	if m.Contains(1) || m.Contains(2) {
		t.Fatal("expected oldest entries to be evicted")
	}
	if !m.Contains(3) || !m.Contains(4) {
		t.Fatal("expected newest entries to survive")
	}

	if err := m.EvictUntil(context.Background(), 1000); err != nil {
		t.Fatalf("EvictUntil above current size must be a no-op: %v", err)
	}
}

func TestEvictUntilRespectsPins(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.add(1, 100, "ambient")
	m := newManagerForTest(t, 1000, NewLRUPolicy(), fetcher)

	_, release, err := m.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := m.EvictUntil(context.Background(), 0); err == nil {
		t.Fatal("expected error while the only entry is pinned")
	}
	release()
	if err := m.EvictUntil(context.Background(), 0); err != nil {
		t.Fatalf("EvictUntil after release failed: %v", err)
	}
	if m.Contains(1) {
		t.Fatal("expected entry to be evicted after release")
	}
}

func TestLRUEvictsOldestEntry(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.add(1, 100, "")
	fetcher.add(2, 100, "")
	fetcher.add(3, 100, "")
	m := newManagerForTest(t, 200, NewLRUPolicy(), fetcher)

	ctx := context.Background()
	m.Get(ctx, 1)
	m.Get(ctx, 2)
	m.Get(ctx, 1) // refresh 1, making 2 the oldest
	m.Get(ctx, 3) // forces an eviction

	if m.Contains(2) {
		t.Fatal("expected sample 2 to be evicted")
	}
	if !m.Contains(1) || !m.Contains(3) {
		t.Fatal("expected samples 1 and 3 to remain cached")
	}
}

func TestEvictionFreesEnoughForLargeInsert(t *testing.T) {
	// Quota 100 MB, cache filled to 90 MB, a 30 MB insert must evict
	// oldest entries until it fits and end within quota.
	const mb = int64(1 << 20)
	fetcher := newFakeFetcher()
	for id := int64(1); id <= 9; id++ {
		fetcher.add(id, int(10*mb), "")
	}
	fetcher.add(10, int(30*mb), "")
	m := newManagerForTest(t, 100*mb, NewLRUPolicy(), fetcher)

	ctx := context.Background()
	for id := int64(1); id <= 9; id++ {
		if _, err := m.Get(ctx, id); err != nil {
			t.Fatalf("Get(%d) failed: %v", id, err)
		}
	}
	if stats := m.Stats(); stats.SizeBytes != 90*mb {
		t.Fatalf("expected 90 MB cached, got %d", stats.SizeBytes)
	}

	if _, err := m.Get(ctx, 10); err != nil {
		t.Fatalf("Get(10) failed: %v", err)
	}
	stats := m.Stats()
	if stats.SizeBytes > 100*mb {
		t.Fatalf("size %d exceeds quota", stats.SizeBytes)
	}
	if !m.Contains(10) {
		t.Fatal("expected the large sample to be cached")
	}
	// Oldest two 10 MB entries make room for the 30 MB insert.
	if m.Contains(1) || m.Contains(2) {
		t.Fatal("expected the two oldest entries to be evicted")
	}
	if !m.Contains(3) {
		t.Fatal("expected sample 3 to survive")
	}
}

func TestSampleLargerThanQuotaRejected(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.add(1, 2000, "")
	m := newManagerForTest(t, 1000, NewLRUPolicy(), fetcher)

	_, err := m.Get(context.Background(), 1)
	var quotaErr *QuotaExceededError
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected QuotaExceededError, got %v", err)
	}
	if quotaErr.SampleID != 1 || quotaErr.SizeBytes != 2000 || quotaErr.Quota != 1000 {
		t.Fatalf("unexpected error fields: %+v", quotaErr)
	}
	if m.Contains(1) {
		t.Fatal("rejected sample must not be cached")
	}
}

func TestPinnedEntryNotEvicted(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.add(1, 100, "")
	fetcher.add(2, 100, "")
	fetcher.add(3, 100, "")
	m := newManagerForTest(t, 200, NewLRUPolicy(), fetcher)

	ctx := context.Background()
	_, release, err := m.Acquire(ctx, 1)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	m.Get(ctx, 2)
	m.Get(ctx, 3) // sample 1 is oldest but pinned, so 2 must go

	if !m.Contains(1) {
		t.Fatal("pinned sample must not be evicted")
	}
	if m.Contains(2) {
		t.Fatal("expected sample 2 to be evicted instead of the pinned entry")
	}

	release()
	fetcher.add(4, 100, "")
	m.Get(ctx, 4)
	if m.Contains(1) {
		t.Fatal("expected sample 1 to be evictable after release")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.add(1, 100, "")
	m := newManagerForTest(t, 1000, NewLRUPolicy(), fetcher)

	_, release, err := m.Acquire(context.Background(), 1)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	release()
	release()
	if stats := m.Stats(); stats.Pinned != 0 {
		t.Fatalf("expected no pinned entries, got %d", stats.Pinned)
	}
}

func TestLFUKeepsFrequentlyUsedEntries(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.add(1, 100, "")
	fetcher.add(2, 100, "")
	fetcher.add(3, 100, "")
	m := newManagerForTest(t, 200, NewLFUPolicy(), fetcher)

	ctx := context.Background()
	m.Get(ctx, 1)
	m.Get(ctx, 1)
	m.Get(ctx, 1)
	m.Get(ctx, 2) // most recent but least used
	m.Get(ctx, 3)

	if !m.Contains(1) {
		t.Fatal("expected the frequently used sample to survive")
	}
	if m.Contains(2) {
		t.Fatal("expected the least used sample to be evicted")
	}
}

func TestAdaptiveWeightShiftsOnRefetch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.add(1, 100, "")
	fetcher.add(2, 100, "")
	fetcher.add(3, 100, "")
	policy := NewAdaptivePolicy(NewAdaptivePolicyParams{})
	m := newManagerForTest(t, 200, policy, fetcher)

	ctx := context.Background()
	m.Get(ctx, 1)
	m.Get(ctx, 2)
	m.Get(ctx, 3) // evicts 1

	before := policy.FrequencyWeight()
	if before != 0.5 {
		t.Fatalf("expected initial weight 0.5, got %v", before)
	}
	m.Get(ctx, 1) // refetch shortly after eviction
	if after := policy.FrequencyWeight(); after <= before {
		t.Fatalf("expected weight to increase after refetch, got %v -> %v", before, after)
	}
}

func TestAdaptiveWeightCapped(t *testing.T) {
	policy := NewAdaptivePolicy(NewAdaptivePolicyParams{InitialFrequencyWeight: 0.85})
	entry := testEntry(1, 100, "")
	for i := 0; i < 5; i++ {
		policy.OnEvict(entry)
		policy.OnInsert(entry)
	}
	if w := policy.FrequencyWeight(); w > 0.9 {
		t.Fatalf("expected weight capped at 0.9, got %v", w)
	}
}

func TestPredictiveHotGenres(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.add(1, 10, "ambient")
	fetcher.add(2, 10, "ambient")
	fetcher.add(3, 10, "ambient")
	fetcher.add(4, 10, "jazz")
	policy := NewPredictivePolicy(NewPredictivePolicyParams{})
	m := newManagerForTest(t, 1000, policy, fetcher)

	ctx := context.Background()
	for _, id := range []int64{1, 2, 3, 1, 2, 4} {
		m.Get(ctx, id)
	}

	hot := policy.HotGenres(0.3)
	if len(hot) != 1 || hot[0] != "ambient" {
		t.Fatalf("expected [ambient], got %v", hot)
	}
	if share := policy.GenreShare("ambient"); share <= policy.GenreShare("jazz") {
		t.Fatalf("expected ambient share above jazz, got %v vs %v", share, policy.GenreShare("jazz"))
	}
}

func TestPredictiveEvictsColdGenreFirst(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.add(1, 100, "ambient")
	fetcher.add(2, 100, "jazz")
	fetcher.add(3, 100, "ambient")
	policy := NewPredictivePolicy(NewPredictivePolicyParams{})
	m := newManagerForTest(t, 200, policy, fetcher)

	ctx := context.Background()
	m.Get(ctx, 1)
	m.Get(ctx, 2)
	m.Get(ctx, 1)
	m.Get(ctx, 1)
	m.Get(ctx, 3) // jazz is the cold genre despite being more recent

	if m.Contains(2) {
		t.Fatal("expected the cold genre sample to be evicted")
	}
	if !m.Contains(1) {
		t.Fatal("expected the hot genre sample to survive")
	}
}

// Exercised with -race: the worker reads the usage profile from its
// background-loading goroutine while the manager records accesses.
func TestPredictiveProfileConcurrentWithGets(t *testing.T) {
	fetcher := newFakeFetcher()
	for id := int64(1); id <= 40; id++ {
		genre := "ambient"
		if id%2 == 0 {
			genre = "jazz"
		}
		fetcher.add(id, 10, genre)
	}
	policy := NewPredictivePolicy(NewPredictivePolicyParams{})
	m := newManagerForTest(t, 10000, policy, fetcher)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				policy.HotGenres(0.1)
				policy.GenreShare("ambient")
			}
		}
	}()

	ctx := context.Background()
	for id := int64(1); id <= 40; id++ {
		if _, err := m.Get(ctx, id); err != nil {
			close(done)
			wg.Wait()
			t.Fatalf("Get(%d) failed: %v", id, err)
		}
	}
	close(done)
	wg.Wait()

	hot := policy.HotGenres(0.1)
	if len(hot) != 2 {
		t.Fatalf("expected both genres hot, got %v", hot)
	}
}

func TestPreloadByGenre(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.add(1, 10, "ambient")
	fetcher.add(2, 10, "ambient")
	fetcher.add(3, 10, "jazz")
	m := newManagerForTest(t, 1000, NewLRUPolicy(), fetcher)

	loaded, err := m.Preload(context.Background(), "ambient", 10)
	if err != nil {
		t.Fatalf("Preload failed: %v", err)
	}
	if loaded != 2 {
		t.Fatalf("expected 2 preloaded samples, got %d", loaded)
	}
	if !m.Contains(1) || !m.Contains(2) {
		t.Fatal("expected ambient samples cached")
	}
	if m.Contains(3) {
		t.Fatal("jazz sample must not be preloaded")
	}
}

func TestRebuildFromStatsStore(t *testing.T) {
	ctx := context.Background()
	stats := store.NewMemoryStatsStore()
	payloads := NewMemoryPayloadStore()
	fetcher := newFakeFetcher()
	fetcher.add(1, 100, "ambient")

	first, err := NewManager(ctx, NewManagerParams{
		QuotaBytes: 1000,
		Policy:     NewLRUPolicy(),
		Fetcher:    fetcher,
		Stats:      stats,
		Payloads:   payloads,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if _, err := first.Get(ctx, 1); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	// A fresh manager over the same stores restores the entry without
	// touching the remote library.
	second, err := NewManager(ctx, NewManagerParams{
		QuotaBytes: 1000,
		Policy:     NewLRUPolicy(),
		Fetcher:    fetcher,
		Stats:      stats,
		Payloads:   payloads,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if !second.Contains(1) {
		t.Fatal("expected entry restored from stats store")
	}
	fetchesBefore := fetcher.fetches
	payload, err := second.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get after rebuild failed: %v", err)
	}
	if len(payload) != 100 {
		t.Fatalf("expected 100 byte payload, got %d", len(payload))
	}
	if fetcher.fetches != fetchesBefore {
		t.Fatalf("expected payload reload from store, got %d extra fetches", fetcher.fetches-fetchesBefore)
	}
}
