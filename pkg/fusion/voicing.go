package fusion

import (
	"slices"

	"graphony/pkg/common"
)

// applyVoicing redistributes the chord's pitches across octaves according
// to the configured strategy. Notes come back sorted by pitch ascending.
func applyVoicing(strategy common.VoicingStrategy, notes []common.NoteEvent) []common.NoteEvent {
	if len(notes) < 2 {
		return notes
	}

	voiced := compact(notes)
	switch strategy {
	case common.VoicingSpread:
		// Push every other voice up an octave so the chord spans at least
		// two octaves instead of one close stack.
		for i := 1; i < len(voiced); i += 2 {
			voiced[i].Pitch += 12
		}
		sortByPitch(voiced)
	case common.VoicingDrop2:
		dropVoice(voiced, 2)
	case common.VoicingDrop3:
		dropVoice(voiced, 3)
	}
	return voiced
}

// compact stacks the chord within one octave above its lowest pitch: the
// bass keeps its register and every other voice is folded to the first
// matching pitch class above it.
func compact(notes []common.NoteEvent) []common.NoteEvent {
	voiced := make([]common.NoteEvent, len(notes))
	copy(voiced, notes)
	sortByPitch(voiced)

	low := voiced[0].Pitch
	for i := 1; i < len(voiced); i++ {
		offset := ((voiced[i].Pitch-low)%12 + 12) % 12
		voiced[i].Pitch = low + offset
	}
	sortByPitch(voiced)
	return voiced
}

// dropVoice moves the n-th voice from the top of a close voicing down one
// octave (the classic drop-2 / drop-3 transforms). Chords too small for
// the drop stay compact.
func dropVoice(voiced []common.NoteEvent, fromTop int) {
	idx := len(voiced) - fromTop
	if idx < 0 {
		return
	}
	voiced[idx].Pitch -= 12
	sortByPitch(voiced)
}

// capComplexity limits the chord to at most limit distinct pitches. Octave
// duplicates of a pitch class collapse into the first occurrence, and
// classes beyond the cap are dropped from the top of the stack.
func capComplexity(notes []common.NoteEvent, limit int) []common.NoteEvent {
	kept := dedupePitchClasses(notes)
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}

func dedupePitchClasses(notes []common.NoteEvent) []common.NoteEvent {
	seen := make(map[int]bool, len(notes))
	kept := notes[:0:0]
	for _, n := range notes {
		pc := ((n.Pitch % 12) + 12) % 12
		if seen[pc] {
			continue
		}
		seen[pc] = true
		kept = append(kept, n)
	}
	return kept
}

func sortByPitch(notes []common.NoteEvent) {
	slices.SortStableFunc(notes, func(a, b common.NoteEvent) int {
		return a.Pitch - b.Pitch
	})
}
