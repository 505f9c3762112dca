package cache

import (
	"time"

	"graphony/pkg/common"
)

// Policy scores cache entries for eviction. Entries with the lowest score
// are evicted first. OnAccess, OnInsert, and OnEvict let stateful policies
// maintain their own bookkeeping; stateless policies ignore them.
type Policy interface {
	Name() string
	Score(entry common.SampleCacheEntry) float64
	OnAccess(entry common.SampleCacheEntry)
	OnInsert(entry common.SampleCacheEntry)
	OnEvict(entry common.SampleCacheEntry)
}

// NewPolicy constructs the policy selected by name. Unknown names fall
// back to LRU.
func NewPolicy(name string) Policy {
	switch name {
	case "lfu":
		return NewLFUPolicy()
	case "adaptive":
		return NewAdaptivePolicy(NewAdaptivePolicyParams{})
	case "predictive":
		return NewPredictivePolicy(NewPredictivePolicyParams{})
	default:
		return NewLRUPolicy()
	}
}

// LRUPolicy evicts the entry with the oldest last access time first.
type LRUPolicy struct{}

// NewLRUPolicy creates a least-recently-used eviction policy.
func NewLRUPolicy() *LRUPolicy {
	return &LRUPolicy{}
}

func (p *LRUPolicy) Name() string { return "lru" }

// Score is the last access time in seconds; older entries score lower.
func (p *LRUPolicy) Score(entry common.SampleCacheEntry) float64 {
	return float64(entry.LastAccessTime.UnixNano())
}

func (p *LRUPolicy) OnAccess(entry common.SampleCacheEntry) {}
func (p *LRUPolicy) OnInsert(entry common.SampleCacheEntry) {}
func (p *LRUPolicy) OnEvict(entry common.SampleCacheEntry)  {}

// LFUPolicy evicts the entry with the lowest access count first, breaking
// ties by last access time.
type LFUPolicy struct{}

// NewLFUPolicy creates a least-frequently-used eviction policy.
func NewLFUPolicy() *LFUPolicy {
	return &LFUPolicy{}
}

func (p *LFUPolicy) Name() string { return "lfu" }

// Score ranks by access count with a sub-integer recency component as the
// tie breaker, so two equally used entries evict oldest-first.
func (p *LFUPolicy) Score(entry common.SampleCacheEntry) float64 {
	recency := float64(entry.LastAccessTime.Unix()) / float64(time.Now().AddDate(10, 0, 0).Unix())
	return float64(entry.AccessCount) + recency
}

func (p *LFUPolicy) OnAccess(entry common.SampleCacheEntry) {}
func (p *LFUPolicy) OnInsert(entry common.SampleCacheEntry) {}
func (p *LFUPolicy) OnEvict(entry common.SampleCacheEntry)  {}
