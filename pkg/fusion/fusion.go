package fusion

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"graphony/pkg/common"
	"graphony/pkg/harmony"
)

// Mode selects how incoming events are treated: direct emission or smart
// collection into chord groups.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeSmart  Mode = "smart"
)

// TemporalGrouping selects the rule that decides which events belong to one
// group: a real-time onset window, or a shared calendar bucket on the
// source document's creation date.
type TemporalGrouping string

const (
	GroupRealtime TemporalGrouping = "realtime"
	GroupDay      TemporalGrouping = "day"
	GroupWeek     TemporalGrouping = "week"
	GroupMonth    TemporalGrouping = "month"
	GroupYear     TemporalGrouping = "year"
)

// Config is the chord-fusion parameter surface.
type Config struct {
	Mode             Mode             `json:"mode" yaml:"mode" validate:"omitempty,oneof=direct smart"`
	TemporalGrouping TemporalGrouping `json:"temporal_grouping" yaml:"temporal_grouping" validate:"omitempty,oneof=realtime day week month year"`

	// TimingWindowMs bounds the onset spread of a realtime group, 20–500.
	TimingWindowMs int `json:"timing_window_ms" yaml:"timing_window_ms" validate:"omitempty,min=20,max=500"`

	// MinimumNotes is the smallest group that fuses into a chord, 2–4.
	MinimumNotes int `json:"minimum_notes" yaml:"minimum_notes" validate:"omitempty,min=2,max=4"`

	// MaxChordNotes caps the retained group size, 2–12.
	MaxChordNotes int `json:"max_chord_notes" yaml:"max_chord_notes" validate:"omitempty,min=2,max=12"`

	// ChordComplexity caps the distinct simultaneous pitches after
	// voicing, 2–6.
	ChordComplexity int `json:"chord_complexity" yaml:"chord_complexity" validate:"omitempty,min=2,max=6"`

	Voicing common.VoicingStrategy `json:"voicing" yaml:"voicing" validate:"omitempty,oneof=compact spread drop2 drop3"`

	// ConnectionChords routes link-traversal events through fusion as
	// well; otherwise they are emitted directly.
	ConnectionChords bool `json:"connection_chords" yaml:"connection_chords"`

	// ContextualHarmony biases voicing density by the aggregate tag
	// signature of the grouped documents.
	ContextualHarmony bool `json:"contextual_harmony" yaml:"contextual_harmony"`

	// Layers enables fusion per layer. A nil map enables every layer.
	Layers map[common.Layer]bool `json:"layers" yaml:"layers"`
}

// DefaultConfig returns the fusion defaults: smart mode, 50 ms realtime
// window, chords of 2..6 notes, compact voicing, complexity 4.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeSmart,
		TemporalGrouping: GroupRealtime,
		TimingWindowMs:   50,
		MinimumNotes:     2,
		MaxChordNotes:    6,
		ChordComplexity:  4,
		Voicing:          common.VoicingCompact,
	}
}

func (c Config) window() time.Duration {
	return time.Duration(c.TimingWindowMs) * time.Millisecond
}

func (c Config) layerEnabled(layer common.Layer) bool {
	if c.Layers == nil {
		return true
	}
	return c.Layers[layer]
}

type state int

const (
	stateIdle state = iota
	stateCollecting
)

// layerGroup is the Collecting state of one layer's state machine. Realtime
// grouping collects a single onset-window group; calendar grouping keeps one
// open group per bucket so co-dated events fuse no matter where they fall in
// onset order.
type layerGroup struct {
	state  state
	events []common.NoteEvent

	buckets     map[string][]common.NoteEvent
	bucketOrder []string
}

// Engine fuses near-simultaneous or co-dated note events into chords. Each
// layer runs an independent state machine; events must be fed in
// non-decreasing onset order per layer and Flush must be called to close
// the trailing groups.
type Engine struct {
	cfg       Config
	quantizer *harmony.Quantizer
	layers    map[common.Layer]*layerGroup
	out       []common.ChordGroup
}

// NewEngineParams contains configuration for creating a fusion Engine. The
// quantizer enforces the dissonance ceiling on fused voicings.
type NewEngineParams struct {
	Config    Config
	Quantizer *harmony.Quantizer
}

// NewEngine creates a fusion engine. Zero-valued config fields take the
// documented defaults.
func NewEngine(params NewEngineParams) *Engine {
	cfg := params.Config
	defaults := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = defaults.Mode
	}
	if cfg.TemporalGrouping == "" {
		cfg.TemporalGrouping = defaults.TemporalGrouping
	}
	if cfg.TimingWindowMs == 0 {
		cfg.TimingWindowMs = defaults.TimingWindowMs
	}
	if cfg.MinimumNotes == 0 {
		cfg.MinimumNotes = defaults.MinimumNotes
	}
	if cfg.MaxChordNotes == 0 {
		cfg.MaxChordNotes = defaults.MaxChordNotes
	}
	if cfg.ChordComplexity == 0 {
		cfg.ChordComplexity = defaults.ChordComplexity
	}
	if cfg.Voicing == "" {
		cfg.Voicing = defaults.Voicing
	}
	return &Engine{
		cfg:       cfg,
		quantizer: params.Quantizer,
		layers:    make(map[common.Layer]*layerGroup),
	}
}

// Feed advances the state machine of the event's layer.
func (e *Engine) Feed(ev common.NoteEvent) {
	if !e.cfg.layerEnabled(ev.Layer) {
		e.emitSingleton(ev)
		return
	}
	if ev.Connection && !e.cfg.ConnectionChords {
		e.emitSingleton(ev)
		return
	}
	if e.cfg.Mode == ModeDirect {
		e.emitSingleton(ev)
		return
	}

	lg, ok := e.layers[ev.Layer]
	if !ok {
		lg = &layerGroup{}
		e.layers[ev.Layer] = lg
	}

	if e.cfg.TemporalGrouping != GroupRealtime {
		key := e.bucketKey(ev)
		if lg.buckets == nil {
			lg.buckets = make(map[string][]common.NoteEvent)
		}
		if _, ok := lg.buckets[key]; !ok {
			lg.bucketOrder = append(lg.bucketOrder, key)
		}
		lg.buckets[key] = append(lg.buckets[key], ev)
		return
	}

	if lg.state == stateIdle {
		lg.state = stateCollecting
		lg.events = []common.NoteEvent{ev}
		return
	}

	if ev.Onset-lg.events[0].Onset < e.cfg.window() {
		lg.events = append(lg.events, ev)
		return
	}

	e.closeGroup(ev.Layer, lg)
	lg.state = stateCollecting
	lg.events = []common.NoteEvent{ev}
}

// Flush closes every collecting group and returns the fused stream sorted
// by onset. The engine is reset for reuse afterwards.
func (e *Engine) Flush() []common.ChordGroup {
	for layer, lg := range e.layers {
		if lg.state == stateCollecting {
			e.closeGroup(layer, lg)
		}
		for _, key := range lg.bucketOrder {
			e.fuseEvents(layer, lg.buckets[key])
		}
	}
	out := e.out
	e.out = nil
	e.layers = make(map[common.Layer]*layerGroup)
	slices.SortStableFunc(out, func(a, b common.ChordGroup) int {
		if a.Onset != b.Onset {
			return cmp.Compare(a.Onset, b.Onset)
		}
		if a.Layer != b.Layer {
			return cmp.Compare(a.Layer, b.Layer)
		}
		return cmp.Compare(a.Notes[0].NodeID, b.Notes[0].NodeID)
	})
	return out
}

// Fuse runs the whole stream through the state machine in one call.
func (e *Engine) Fuse(events []common.NoteEvent) []common.ChordGroup {
	for _, ev := range events {
		e.Feed(ev)
	}
	return e.Flush()
}

// bucketKey maps a source document's creation date to its calendar bucket.
func (e *Engine) bucketKey(ev common.NoteEvent) string {
	t := ev.CreatedAt.UTC()
	switch e.cfg.TemporalGrouping {
	case GroupDay:
		return t.Format("2006-01-02")
	case GroupWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-w%02d", year, week)
	case GroupMonth:
		return t.Format("2006-01")
	case GroupYear:
		return t.Format("2006")
	default:
		return ""
	}
}

func (e *Engine) emitSingleton(ev common.NoteEvent) {
	e.out = append(e.out, common.ChordGroup{
		Onset:   ev.Onset,
		Notes:   []common.NoteEvent{ev},
		Layer:   ev.Layer,
		Voicing: e.cfg.Voicing,
	})
}

// closeGroup resolves a collecting realtime group.
func (e *Engine) closeGroup(layer common.Layer, lg *layerGroup) {
	events := lg.events
	lg.state = stateIdle
	lg.events = nil
	e.fuseEvents(layer, events)
}

// fuseEvents resolves one closed group: fuse when the group reached the
// minimum size, otherwise re-emit its members as independent notes.
func (e *Engine) fuseEvents(layer common.Layer, events []common.NoteEvent) {
	if len(events) < e.cfg.MinimumNotes {
		for _, ev := range events {
			e.emitSingleton(ev)
		}
		return
	}

	notes := truncate(events, e.cfg.MaxChordNotes)
	onset := minOnset(notes)

	quantizer := e.quantizer
	if e.cfg.ContextualHarmony && quantizer != nil && thematicallyRelated(notes) {
		// Related material tolerates a denser, more dissonant voicing.
		quantizer = quantizer.Relaxed(0.2)
	}

	notes = applyVoicing(e.cfg.Voicing, notes)
	notes = capComplexity(notes, e.cfg.ChordComplexity)
	markTransitional(notes)
	if quantizer != nil {
		notes = quantizer.CheckVoicing(notes)
	}

	for i := range notes {
		notes[i].Onset = onset
	}
	e.out = append(e.out, common.ChordGroup{
		Onset:   onset,
		Notes:   notes,
		Layer:   layer,
		Voicing: e.cfg.Voicing,
	})
}

// truncate enforces the chord size cap. Selection priority is a documented
// deterministic rule: lowest depth first, then earlier creation timestamp,
// then node id.
func truncate(events []common.NoteEvent, maxNotes int) []common.NoteEvent {
	notes := make([]common.NoteEvent, len(events))
	copy(notes, events)
	if len(notes) <= maxNotes {
		return notes
	}
	slices.SortStableFunc(notes, func(a, b common.NoteEvent) int {
		if a.Depth != b.Depth {
			return a.Depth - b.Depth
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		if a.NodeID < b.NodeID {
			return -1
		}
		if a.NodeID > b.NodeID {
			return 1
		}
		return 0
	})
	return notes[:maxNotes]
}

func minOnset(notes []common.NoteEvent) time.Duration {
	min := notes[0].Onset
	for _, n := range notes[1:] {
		if n.Onset < min {
			min = n.Onset
		}
	}
	return min
}

// markTransitional flags every interior note of the pitch-ordered chord as
// a potential passing tone.
func markTransitional(notes []common.NoteEvent) {
	for i := range notes {
		notes[i].Transitional = i > 0 && i < len(notes)-1
	}
}

// thematicallyRelated computes the deterministic content signature used by
// contextual harmony: the mean pairwise Jaccard overlap of the source
// documents' tag sets. Groups at or above 0.5 count as related.
func thematicallyRelated(notes []common.NoteEvent) bool {
	if len(notes) < 2 {
		return false
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(notes); i++ {
		for j := i + 1; j < len(notes); j++ {
			sum += jaccard(notes[i].Tags, notes[j].Tags)
			pairs++
		}
	}
	return sum/float64(pairs) >= 0.5
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, tag := range a {
		set[tag] = true
	}
	both := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, tag := range b {
		if seen[tag] {
			continue
		}
		seen[tag] = true
		if set[tag] {
			both++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(both) / float64(union)
}
