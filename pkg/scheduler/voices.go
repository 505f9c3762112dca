package scheduler

import (
	"time"

	"graphony/pkg/common"
)

// voiceSlot tracks one sounding note on an instrument until its expiry.
type voiceSlot struct {
	nodeID     string
	pitch      int
	expiryTime time.Time

	// releases the cache pin held for the slot's sample, nil for
	// synthesized voices
	release func()
}

func (s *voiceSlot) terminate() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

// slotTable enforces the per-instrument polyphony cap. When an instrument
// is saturated the slot with the earliest expiry time is stolen.
type slotTable struct {
	maxVoices int
	active    map[common.Instrument][]*voiceSlot
}

func newSlotTable(maxVoices int) *slotTable {
	return &slotTable{
		maxVoices: maxVoices,
		active:    make(map[common.Instrument][]*voiceSlot),
	}
}

// allocate claims a slot for the instrument, stealing the earliest-expiry
// slot when the instrument is at capacity. It reports whether a voice was
// stolen.
func (t *slotTable) allocate(instrument common.Instrument, slot *voiceSlot) bool {
	slots := t.active[instrument]
	if len(slots) < t.maxVoices {
		t.active[instrument] = append(slots, slot)
		return false
	}

	victim := 0
	for i, s := range slots {
		if s.expiryTime.Before(slots[victim].expiryTime) {
			victim = i
		}
	}
	slots[victim].terminate()
	slots[victim] = slot
	return true
}

// expire releases every slot whose expiry time has passed.
func (t *slotTable) expire(now time.Time) {
	for instrument, slots := range t.active {
		kept := slots[:0]
		for _, slot := range slots {
			if slot.expiryTime.After(now) {
				kept = append(kept, slot)
				continue
			}
			slot.terminate()
		}
		if len(kept) == 0 {
			delete(t.active, instrument)
			continue
		}
		t.active[instrument] = kept
	}
}

// releaseAll terminates every active slot.
func (t *slotTable) releaseAll() {
	for instrument, slots := range t.active {
		for _, slot := range slots {
			slot.terminate()
		}
		delete(t.active, instrument)
	}
}

func (t *slotTable) count(instrument common.Instrument) int {
	return len(t.active[instrument])
}

func (t *slotTable) empty() bool {
	return len(t.active) == 0
}
