package harmony

import (
	"math"

	"graphony/pkg/common"
)

// scaleIntervals maps scale names to their semitone offsets from the root.
var scaleIntervals = map[string][]int{
	"major":            {0, 2, 4, 5, 7, 9, 11},
	"minor":            {0, 2, 3, 5, 7, 8, 10},
	"harmonic_minor":   {0, 2, 3, 5, 7, 8, 11},
	"dorian":           {0, 2, 3, 5, 7, 9, 10},
	"phrygian":         {0, 1, 3, 5, 7, 8, 10},
	"lydian":           {0, 2, 4, 6, 7, 9, 11},
	"mixolydian":       {0, 2, 4, 5, 7, 9, 10},
	"pentatonic_major": {0, 2, 4, 7, 9},
	"pentatonic_minor": {0, 3, 5, 7, 10},
	"whole_tone":       {0, 2, 4, 6, 8, 10},
	"chromatic":        {0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
}

// ScaleNames lists every supported scale.
func ScaleNames() []string {
	names := make([]string, 0, len(scaleIntervals))
	for name := range scaleIntervals {
		names = append(names, name)
	}
	return names
}

// KnownScale reports whether name is a supported scale.
func KnownScale(name string) bool {
	_, ok := scaleIntervals[name]
	return ok
}

// Quantizer snaps raw pitches onto a configured scale and scores chord
// voicings for dissonance.
type Quantizer struct {
	constraint common.ScaleConstraint
	intervals  []int
}

// NewQuantizerParams contains configuration for creating a Quantizer.
type NewQuantizerParams struct {
	Constraint common.ScaleConstraint
}

// NewQuantizer creates a quantizer for the given scale constraint. Unknown
// scale names fall back to chromatic, which leaves every pitch in place.
func NewQuantizer(params NewQuantizerParams) *Quantizer {
	intervals, ok := scaleIntervals[params.Constraint.ScaleName]
	if !ok {
		intervals = scaleIntervals["chromatic"]
	}
	return &Quantizer{
		constraint: params.Constraint,
		intervals:  intervals,
	}
}

// Relaxed returns a copy of the quantizer with its dissonance threshold
// raised by delta, capped at 1. Used when contextual harmony permits a
// denser voicing for thematically related material.
func (q *Quantizer) Relaxed(delta float64) *Quantizer {
	c := q.constraint
	c.DissonanceThreshold += delta
	if c.DissonanceThreshold > 1 {
		c.DissonanceThreshold = 1
	}
	return &Quantizer{constraint: c, intervals: q.intervals}
}

// Quantize maps a raw pitch onto the configured scale. The nearest in-scale
// pitch is blended with the raw pitch by the quantization strength: 0
// leaves the pitch untouched, 1 always snaps. With harmony enforcement
// disabled the raw pitch passes through unchanged.
func (q *Quantizer) Quantize(rawPitch int) int {
	if !q.constraint.EnforceHarmony {
		return rawPitch
	}
	strength := clamp01(q.constraint.QuantizationStrength)
	if strength == 0 {
		return rawPitch
	}
	snapped := q.Nearest(rawPitch)
	blended := float64(rawPitch) + strength*float64(snapped-rawPitch)
	return int(math.Round(blended))
}

// Nearest returns the closest in-scale pitch to rawPitch. Equidistant
// candidates resolve downward, which keeps the mapping deterministic.
func (q *Quantizer) Nearest(rawPitch int) int {
	if q.inScale(rawPitch) {
		return rawPitch
	}
	for delta := 1; delta <= 6; delta++ {
		if q.inScale(rawPitch - delta) {
			return rawPitch - delta
		}
		if q.inScale(rawPitch + delta) {
			return rawPitch + delta
		}
	}
	return rawPitch
}

func (q *Quantizer) inScale(pitch int) bool {
	pc := ((pitch-q.constraint.RootNote)%12 + 12) % 12
	for _, interval := range q.intervals {
		if pc == interval {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
