package cache

import (
	"time"

	"graphony/pkg/common"
)

// AdaptivePolicy blends recency and frequency with a weight that adjusts
// itself: when an evicted sample is re-fetched shortly afterwards the
// policy treated frequency too lightly and shifts weight toward it.
type AdaptivePolicy struct {
	base            time.Time
	frequencyWeight float64
	refetchWindow   time.Duration

	// recently evicted sample ids and when they left the cache
	evicted map[int64]time.Time
}

// NewAdaptivePolicyParams contains tuning options for the adaptive policy.
// Zero values take the documented defaults: weight 0.5, 5 minute re-fetch
// window.
type NewAdaptivePolicyParams struct {
	InitialFrequencyWeight float64
	RefetchWindow          time.Duration
}

// NewAdaptivePolicy creates an adaptive recency/frequency policy.
func NewAdaptivePolicy(params NewAdaptivePolicyParams) *AdaptivePolicy {
	weight := params.InitialFrequencyWeight
	if weight <= 0 {
		weight = 0.5
	}
	window := params.RefetchWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &AdaptivePolicy{
		base:            time.Now(),
		frequencyWeight: weight,
		refetchWindow:   window,
		evicted:         make(map[int64]time.Time),
	}
}

func (p *AdaptivePolicy) Name() string { return "adaptive" }

// Score is a weighted blend of recency (seconds since the policy was
// created) and frequency (one access weighs like a minute of recency).
// The blend is deterministic given the same access history.
func (p *AdaptivePolicy) Score(entry common.SampleCacheEntry) float64 {
	recency := entry.LastAccessTime.Sub(p.base).Seconds()
	frequency := float64(entry.AccessCount) * 60
	return (1-p.frequencyWeight)*recency + p.frequencyWeight*frequency
}

func (p *AdaptivePolicy) OnAccess(entry common.SampleCacheEntry) {}

// OnInsert detects the evict-then-refetch pattern and shifts weight
// toward frequency when it occurs.
func (p *AdaptivePolicy) OnInsert(entry common.SampleCacheEntry) {
	evictedAt, ok := p.evicted[entry.SampleID]
	if !ok {
		return
	}
	delete(p.evicted, entry.SampleID)
	if time.Since(evictedAt) <= p.refetchWindow {
		p.frequencyWeight += 0.1
		if p.frequencyWeight > 0.9 {
			p.frequencyWeight = 0.9
		}
	}
}

func (p *AdaptivePolicy) OnEvict(entry common.SampleCacheEntry) {
	p.evicted[entry.SampleID] = time.Now()

	// Bound the bookkeeping; stale records outside the window are useless.
	if len(p.evicted) > 1024 {
		cutoff := time.Now().Add(-p.refetchWindow)
		for id, at := range p.evicted {
			if at.Before(cutoff) {
				delete(p.evicted, id)
			}
		}
	}
}

// FrequencyWeight exposes the current blend for observability.
func (p *AdaptivePolicy) FrequencyWeight() float64 {
	return p.frequencyWeight
}
