package common

import "time"

// LinkDirection describes how a document was discovered relative to the
// edge that reached it during traversal.
type LinkDirection string

const (
	LinkIncoming      LinkDirection = "incoming"
	LinkOutgoing      LinkDirection = "outgoing"
	LinkBidirectional LinkDirection = "bidirectional"
)

// Layer assigns a musical role to an event stream. Chord fusion runs an
// independent state machine per layer.
type Layer string

const (
	LayerMelodic  Layer = "melodic"
	LayerHarmonic Layer = "harmonic"
	LayerRhythmic Layer = "rhythmic"
	LayerAmbient  Layer = "ambient"
)

// Layers lists every layer in a fixed order.
var Layers = []Layer{LayerMelodic, LayerHarmonic, LayerRhythmic, LayerAmbient}

// Instrument identifies a playback voice. Instruments form a fixed enum so
// per-instrument tables can be checked exhaustively instead of being keyed
// by open strings.
type Instrument string

const (
	InstrumentPiano    Instrument = "piano"
	InstrumentCelesta  Instrument = "celesta"
	InstrumentStrings  Instrument = "strings"
	InstrumentChoir    Instrument = "choir"
	InstrumentBass     Instrument = "bass"
	InstrumentMarimba  Instrument = "marimba"
	InstrumentPad      Instrument = "pad"
	InstrumentDrone    Instrument = "drone"
	InstrumentFallback Instrument = "fallback"
)

// Instruments lists every playable instrument. The synthesized fallback is
// excluded, the scheduler substitutes it when a sample cannot be resolved.
var Instruments = []Instrument{
	InstrumentPiano,
	InstrumentCelesta,
	InstrumentStrings,
	InstrumentChoir,
	InstrumentBass,
	InstrumentMarimba,
	InstrumentPad,
	InstrumentDrone,
}

// InstrumentPool groups instruments assigned to one traversal depth.
type InstrumentPool string

const (
	PoolLead    InstrumentPool = "lead"
	PoolHarmony InstrumentPool = "harmony"
	PoolRhythm  InstrumentPool = "rhythm"
	PoolAmbient InstrumentPool = "ambient"
)

// GraphNode is one document discovered by a neighborhood traversal, tagged
// with its hop distance from the center and the direction of the edge that
// discovered it. Nodes are created once per traversal run and never mutated
// afterwards; a filter or depth change rebuilds the neighborhood from
// scratch.
type GraphNode struct {
	ID                string
	Depth             int
	CreationTimestamp time.Time
	SizeProxy         int64
	Tags              []string
	LinkDirection     LinkDirection

	// Derived by the depth mapper.
	InstrumentPool InstrumentPool
	Volume         float64
	Pan            float64
}

// NoteEvent is a single scheduled note derived from a GraphNode. Onset is
// relative to the start of the playback run.
type NoteEvent struct {
	NodeID     string
	Onset      time.Duration
	Pitch      int
	Velocity   float64
	DurationMs int
	Instrument Instrument
	Pan        float64
	Depth      int
	Layer      Layer

	// Source metadata carried through fusion.
	CreatedAt time.Time
	Tags      []string

	// Connection marks a link-traversal event rather than a
	// document-arrival event.
	Connection bool

	// Transitional marks a tone that may stand outside the scale as a
	// chromatic passing tone (never the first or last note of a chord).
	Transitional bool
}

// ChordGroup is an ordered set of notes sharing one resolved onset. Size is
// bounded by the fusion configuration: at least minimumNotes (otherwise the
// members stay singletons) and at most maxChordNotes.
type ChordGroup struct {
	Onset   time.Duration
	Notes   []NoteEvent
	Layer   Layer
	Voicing VoicingStrategy
}

// VoicingStrategy redistributes chord pitches across octaves.
type VoicingStrategy string

const (
	VoicingCompact VoicingStrategy = "compact"
	VoicingSpread  VoicingStrategy = "spread"
	VoicingDrop2   VoicingStrategy = "drop2"
	VoicingDrop3   VoicingStrategy = "drop3"
)

// ScaleConstraint pins a playback run to a scale and root. It is global to
// the run and only changes through configuration, never mid-schedule.
type ScaleConstraint struct {
	RootNote             int     `json:"root_note" yaml:"root_note"`
	ScaleName            string  `json:"scale_name" yaml:"scale_name"`
	QuantizationStrength float64 `json:"quantization_strength" yaml:"quantization_strength"`
	DissonanceThreshold  float64 `json:"dissonance_threshold" yaml:"dissonance_threshold"`
	AllowChromaticPass   bool    `json:"allow_chromatic_passing" yaml:"allow_chromatic_passing"`
	EnforceHarmony       bool    `json:"enforce_harmony" yaml:"enforce_harmony"`
}

// SampleCacheEntry records one externally fetched audio payload. The cache
// manager owns these exclusively: created on first fetch, updated on every
// access, destroyed on eviction or explicit removal.
type SampleCacheEntry struct {
	SampleID       int64
	SizeBytes      int64
	LastAccessTime time.Time
	AccessCount    int64
	GenreTag       string
	FetchedAt      time.Time
}
