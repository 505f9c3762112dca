package harmony

import (
	"math"
	"testing"

	"graphony/pkg/common"
)

func newQuantizer(c common.ScaleConstraint) *Quantizer {
	return NewQuantizer(NewQuantizerParams{Constraint: c})
}

func TestQuantizeFullStrengthSnapsOffScalePitch(t *testing.T) {
	q := newQuantizer(common.ScaleConstraint{
		RootNote:             0, // C
		ScaleName:            "major",
		QuantizationStrength: 1.0,
		EnforceHarmony:       true,
	})

	// C# must never survive full-strength quantization in C major.
	got := q.Quantize(61)
	if got == 61 {
		t.Fatal("C# survived full-strength quantization in C major")
	}
	if got != 60 && got != 62 {
		t.Fatalf("expected nearest in-scale tone C or D, got %d", got)
	}
	// Equidistant candidates resolve downward.
	if got != 60 {
		t.Fatalf("expected downward tie resolution to C, got %d", got)
	}
}

func TestQuantizeZeroStrengthLeavesPitch(t *testing.T) {
	q := newQuantizer(common.ScaleConstraint{
		RootNote:             0,
		ScaleName:            "major",
		QuantizationStrength: 0,
		EnforceHarmony:       true,
	})
	if got := q.Quantize(61); got != 61 {
		t.Fatalf("strength 0 must leave raw pitch, got %d", got)
	}
}

func TestQuantizeDisabledHarmony(t *testing.T) {
	q := newQuantizer(common.ScaleConstraint{
		RootNote:             0,
		ScaleName:            "major",
		QuantizationStrength: 1.0,
		EnforceHarmony:       false,
	})
	if got := q.Quantize(61); got != 61 {
		t.Fatalf("disabled harmony must skip quantization, got %d", got)
	}
}

func TestQuantizeInScalePitchUnchanged(t *testing.T) {
	q := newQuantizer(common.ScaleConstraint{
		RootNote:             2, // D
		ScaleName:            "minor",
		QuantizationStrength: 1.0,
		EnforceHarmony:       true,
	})
	for _, pitch := range []int{62, 64, 65, 67, 69} {
		if got := q.Quantize(pitch); got != pitch {
			t.Fatalf("in-scale pitch %d changed to %d", pitch, got)
		}
	}
}

func TestQuantizePartialStrengthBlend(t *testing.T) {
	q := newQuantizer(common.ScaleConstraint{
		RootNote:             0,
		ScaleName:            "pentatonic_major",
		QuantizationStrength: 0.5,
		EnforceHarmony:       true,
	})
	// F (65) is off-scale; nearest pentatonic tone is E (64). The blended
	// pitch must stay between raw and snapped.
	got := q.Quantize(65)
	if got != 64 && got != 65 {
		t.Fatalf("blend left expected range, got %d", got)
	}
}

func TestDissonanceScoreIsMeanPairwise(t *testing.T) {
	// Pairs: minor second (1.0), major second (0.7), minor second (1.0).
	want := (1.0 + 0.7 + 1.0) / 3
	if got := DissonanceScore([]int{60, 61, 62}); math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected mean pairwise weight %f, got %f", want, got)
	}
}

func TestDissonanceScoreOrdering(t *testing.T) {
	consonant := DissonanceScore([]int{60, 64, 67})  // C major triad
	cluster := DissonanceScore([]int{60, 61, 62})    // chromatic cluster
	tritone := DissonanceScore([]int{60, 66})        // tritone dyad
	single := DissonanceScore([]int{60})

	if single != 0 {
		t.Fatalf("single pitch must score 0, got %f", single)
	}
	if consonant >= cluster {
		t.Fatalf("triad (%f) should score below chromatic cluster (%f)", consonant, cluster)
	}
	if tritone <= consonant {
		t.Fatalf("tritone (%f) should score above triad (%f)", tritone, consonant)
	}
	for _, score := range []float64{consonant, cluster, tritone} {
		if score < 0 || score > 1 {
			t.Fatalf("score %f outside [0,1]", score)
		}
	}
}

func TestCheckVoicingDropsWorstInteriorNote(t *testing.T) {
	q := newQuantizer(common.ScaleConstraint{
		RootNote:            0,
		ScaleName:           "major",
		DissonanceThreshold: 0.3,
		EnforceHarmony:      true,
	})

	notes := []common.NoteEvent{
		{NodeID: "low", Pitch: 60},
		{NodeID: "rub", Pitch: 61}, // minor second against the root
		{NodeID: "high", Pitch: 67},
	}
	kept := q.CheckVoicing(notes)
	if len(kept) != 2 {
		t.Fatalf("expected one note dropped, kept %d", len(kept))
	}
	for _, n := range kept {
		if n.NodeID == "rub" {
			t.Fatal("the dissonant interior note should have been dropped")
		}
	}
}

func TestCheckVoicingKeepsConsonantChord(t *testing.T) {
	q := newQuantizer(common.ScaleConstraint{
		RootNote:            0,
		ScaleName:           "major",
		DissonanceThreshold: 0.3,
		EnforceHarmony:      true,
	})
	notes := []common.NoteEvent{
		{Pitch: 60}, {Pitch: 64}, {Pitch: 67},
	}
	if kept := q.CheckVoicing(notes); len(kept) != 3 {
		t.Fatalf("consonant triad should survive intact, kept %d", len(kept))
	}
}

func TestCheckVoicingChromaticPassingExemption(t *testing.T) {
	q := newQuantizer(common.ScaleConstraint{
		RootNote:            0,
		ScaleName:           "major",
		DissonanceThreshold: 0.3,
		AllowChromaticPass:  true,
		EnforceHarmony:      true,
	})

	notes := []common.NoteEvent{
		{NodeID: "low", Pitch: 60},
		{NodeID: "pass", Pitch: 61, Transitional: true},
		{NodeID: "high", Pitch: 67},
	}
	kept := q.CheckVoicing(notes)
	if len(kept) != 3 {
		t.Fatalf("transitional passing tone should stand, kept %d", len(kept))
	}
}

func TestUnknownScaleFallsBackToChromatic(t *testing.T) {
	q := newQuantizer(common.ScaleConstraint{
		ScaleName:            "klingon",
		QuantizationStrength: 1.0,
		EnforceHarmony:       true,
	})
	if got := q.Quantize(61); got != 61 {
		t.Fatalf("chromatic fallback must keep every pitch, got %d", got)
	}
}

func TestIntervalClass(t *testing.T) {
	tests := []struct {
		a, b, want int
	}{
		{60, 60, 0},
		{60, 72, 0},
		{60, 61, 1},
		{60, 66, 6},
		{60, 67, 5},
		{67, 60, 5},
		{60, 71, 1},
	}
	for _, tt := range tests {
		if got := IntervalClass(tt.a, tt.b); got != tt.want {
			t.Fatalf("IntervalClass(%d,%d): expected %d, got %d", tt.a, tt.b, tt.want, got)
		}
	}
}
