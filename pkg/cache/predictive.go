package cache

import (
	"sort"
	"sync"
	"time"

	"graphony/pkg/common"
)

// PredictivePolicy tracks per-genre usage frequency. Eviction favors
// samples from genres predicted least likely to be used next, and the
// usage profile drives genre preloading at startup and during idle
// periods. The profile carries its own lock: the manager mutates it under
// the cache lock while the worker reads HotGenres from other goroutines.
type PredictivePolicy struct {
	base time.Time

	mu       sync.RWMutex
	genreUse map[string]int64
	totalUse int64
}

// NewPredictivePolicyParams contains tuning options for the predictive
// policy.
type NewPredictivePolicyParams struct{}

// NewPredictivePolicy creates a genre-usage prediction policy.
func NewPredictivePolicy(params NewPredictivePolicyParams) *PredictivePolicy {
	return &PredictivePolicy{
		base:     time.Now(),
		genreUse: make(map[string]int64),
	}
}

func (p *PredictivePolicy) Name() string { return "predictive" }

// Score weighs the sample's genre share heavily and uses recency only as
// a tie breaker, so cold genres drain from the cache first.
func (p *PredictivePolicy) Score(entry common.SampleCacheEntry) float64 {
	recency := entry.LastAccessTime.Sub(p.base).Seconds()
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.genreShareLocked(entry.GenreTag)*1e7 + recency
}

func (p *PredictivePolicy) OnAccess(entry common.SampleCacheEntry) {
	p.record(entry.GenreTag)
}

func (p *PredictivePolicy) OnInsert(entry common.SampleCacheEntry) {
	p.record(entry.GenreTag)
}

func (p *PredictivePolicy) OnEvict(entry common.SampleCacheEntry) {}

func (p *PredictivePolicy) record(genre string) {
	p.mu.Lock()
	p.genreUse[genre]++
	p.totalUse++
	p.mu.Unlock()
}

// GenreShare returns the fraction of all recorded accesses that hit the
// given genre.
func (p *PredictivePolicy) GenreShare(genre string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.genreShareLocked(genre)
}

func (p *PredictivePolicy) genreShareLocked(genre string) float64 {
	if p.totalUse == 0 {
		return 0
	}
	return float64(p.genreUse[genre]) / float64(p.totalUse)
}

// HotGenres lists genres whose usage share meets the threshold, ordered
// by share descending then name, as preload candidates.
func (p *PredictivePolicy) HotGenres(threshold float64) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var hot []string
	for genre := range p.genreUse {
		if genre != "" && p.genreShareLocked(genre) >= threshold {
			hot = append(hot, genre)
		}
	}
	sort.Slice(hot, func(i, j int) bool {
		si, sj := p.genreShareLocked(hot[i]), p.genreShareLocked(hot[j])
		if si != sj {
			return si > sj
		}
		return hot[i] < hot[j]
	})
	return hot
}
