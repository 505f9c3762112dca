package harmony

import "graphony/pkg/common"

// dissonanceWeights assigns a weight in [0,1] to each interval class
// (the pitch distance folded into 0..6 semitones). The table follows the
// usual consonance ordering: unison and octave are free, seconds and the
// tritone are expensive, thirds and the fourth/fifth class sit in between.
// The exact values are a documented implementation decision; they only
// need to be deterministic and ordered, not psychoacoustically exact.
var dissonanceWeights = [7]float64{
	0: 0.0,  // unison / octave
	1: 1.0,  // minor second / major seventh
	2: 0.7,  // major second / minor seventh
	3: 0.25, // minor third / major sixth
	4: 0.2,  // major third / minor sixth
	5: 0.1,  // perfect fourth / perfect fifth
	6: 0.8,  // tritone
}

// IntervalClass folds the distance between two pitches into 0..6.
func IntervalClass(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	d %= 12
	if d > 6 {
		d = 12 - d
	}
	return d
}

// DissonanceScore rates a voicing in [0,1]: the mean pairwise interval
// dissonance weight across all note pairs. Fewer than two pitches score 0.
func DissonanceScore(pitches []int) float64 {
	if len(pitches) < 2 {
		return 0
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(pitches); i++ {
		for j := i + 1; j < len(pitches); j++ {
			sum += dissonanceWeights[IntervalClass(pitches[i], pitches[j])]
			pairs++
		}
	}
	return sum / float64(pairs)
}

// CheckVoicing enforces the dissonance ceiling on a chord voicing. Notes
// whose removal is permitted (transitional tones, when chromatic passing is
// allowed) may stand even above the threshold; otherwise the interior note
// contributing the most dissonance is dropped and the voicing re-scored,
// down to a two-note floor. The surviving notes are returned in input order.
func (q *Quantizer) CheckVoicing(notes []common.NoteEvent) []common.NoteEvent {
	threshold := q.constraint.DissonanceThreshold
	kept := make([]common.NoteEvent, len(notes))
	copy(kept, notes)

	for len(kept) > 2 {
		pitches := make([]int, len(kept))
		for i, n := range kept {
			pitches[i] = n.Pitch
		}
		score := DissonanceScore(pitches)
		if score <= threshold {
			return kept
		}

		worst := q.worstRemovable(kept)
		if worst < 0 {
			// Every interior note is an exempt passing tone; the voicing
			// stands as-is.
			return kept
		}
		kept = append(kept[:worst:worst], kept[worst+1:]...)
	}
	return kept
}

// worstRemovable finds the interior note contributing the most pairwise
// dissonance. The first and last chord notes are never candidates, and
// transitional tones are exempt while chromatic passing is allowed.
func (q *Quantizer) worstRemovable(notes []common.NoteEvent) int {
	worst := -1
	var worstContribution float64
	for i := 1; i < len(notes)-1; i++ {
		if q.constraint.AllowChromaticPass && notes[i].Transitional {
			continue
		}
		var contribution float64
		for j := range notes {
			if j == i {
				continue
			}
			contribution += dissonanceWeights[IntervalClass(notes[i].Pitch, notes[j].Pitch)]
		}
		if worst < 0 || contribution > worstContribution {
			worst = i
			worstContribution = contribution
		}
	}
	return worst
}
