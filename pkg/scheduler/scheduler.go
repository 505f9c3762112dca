package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"graphony/pkg/common"
	"graphony/pkg/logger"
	"graphony/pkg/synth"
)

// SampleResolver hands out pinned sample payloads. Implemented by
// cache.Manager; the pin keeps the payload from being evicted while the
// voice sounds.
type SampleResolver interface {
	Acquire(ctx context.Context, sampleID int64) ([]byte, func(), error)
}

// SampleMapper resolves the sample to play for a note. Returning false
// means the note has no sample and is always synthesized.
type SampleMapper func(note common.NoteEvent) (int64, bool)

// Scheduler turns the fused event stream into timed playback. Groups are
// dispatched in onset order at a fixed cadence between distinct onsets,
// with a short lookahead so chords land atomically on one tick. Polyphony
// is bounded per instrument through the slot table.
type Scheduler struct {
	backend   synth.Backend
	samples   SampleResolver
	sampleFor SampleMapper

	baseCadence time.Duration
	tick        time.Duration
	lookahead   time.Duration

	mu    sync.Mutex
	slots *slotTable
}

// NewSchedulerParams contains configuration options for creating a
// Scheduler. Zero durations take the defaults: 400ms cadence, 25ms tick,
// 100ms lookahead, 8 voices per instrument.
type NewSchedulerParams struct {
	Backend   synth.Backend
	Samples   SampleResolver
	SampleFor SampleMapper

	MaxVoices   int
	BaseCadence time.Duration
	Tick        time.Duration
	Lookahead   time.Duration
}

// NewScheduler creates a scheduler over the given playback backend.
func NewScheduler(params NewSchedulerParams) (*Scheduler, error) {
	if params.Backend == nil {
		return nil, fmt.Errorf("a playback backend is required")
	}
	maxVoices := params.MaxVoices
	if maxVoices <= 0 {
		maxVoices = 8
	}
	cadence := params.BaseCadence
	if cadence <= 0 {
		cadence = 400 * time.Millisecond
	}
	tick := params.Tick
	if tick <= 0 {
		tick = 25 * time.Millisecond
	}
	lookahead := params.Lookahead
	if lookahead <= 0 {
		lookahead = 100 * time.Millisecond
	}
	return &Scheduler{
		backend:     params.Backend,
		samples:     params.Samples,
		sampleFor:   params.SampleFor,
		baseCadence: cadence,
		tick:        tick,
		lookahead:   lookahead,
		slots:       newSlotTable(maxVoices),
	}, nil
}

type scheduledGroup struct {
	at    time.Duration
	group common.ChordGroup
}

// schedule lays the groups out on the cadence grid: each distinct onset
// in the fused stream becomes one step, 0.4s apart by default. Fusion
// only decides which notes share a step, never the step spacing.
func (s *Scheduler) schedule(groups []common.ChordGroup) []scheduledGroup {
	sorted := slices.Clone(groups)
	slices.SortStableFunc(sorted, func(a, b common.ChordGroup) int {
		if a.Onset < b.Onset {
			return -1
		}
		if a.Onset > b.Onset {
			return 1
		}
		return 0
	})

	var out []scheduledGroup
	step := -1
	var lastOnset time.Duration
	for _, group := range sorted {
		if step < 0 || group.Onset != lastOnset {
			step++
			lastOnset = group.Onset
		}
		out = append(out, scheduledGroup{
			at:    time.Duration(step) * s.baseCadence,
			group: group,
		})
	}
	return out
}

// Run plays the fused groups to completion. It blocks until every voice
// has expired or the context is cancelled; cancellation releases all
// active slots.
func (s *Scheduler) Run(ctx context.Context, groups []common.ChordGroup) error {
	pending := s.schedule(groups)
	defer func() {
		s.mu.Lock()
		s.slots.releaseAll()
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			elapsed := now.Sub(start)

			s.mu.Lock()
			s.slots.expire(now)
			for len(pending) > 0 && pending[0].at <= elapsed+s.lookahead {
				next := pending[0]
				pending = pending[1:]
				for _, note := range next.group.Notes {
					s.dispatchLocked(ctx, now, note)
				}
			}
			done := len(pending) == 0 && s.slots.empty()
			s.mu.Unlock()

			if done {
				return nil
			}
		}
	}
}

// dispatchLocked resolves the note's sample, claims a voice slot, and
// hands the voice to the backend. Sample failures degrade to a
// synthesized voice instead of dropping the note.
func (s *Scheduler) dispatchLocked(ctx context.Context, now time.Time, note common.NoteEvent) {
	voice := synth.Voice{
		Instrument: note.Instrument,
		Pitch:      note.Pitch,
		Velocity:   note.Velocity,
		DurationMs: note.DurationMs,
		Pan:        note.Pan,
	}

	var release func()
	if s.samples != nil && s.sampleFor != nil {
		if sampleID, ok := s.sampleFor(note); ok {
			payload, rel, err := s.samples.Acquire(ctx, sampleID)
			if err != nil {
				logger.Warn("sample unavailable, falling back to synthesis",
					"nodeId", note.NodeID, "sampleId", sampleID, "error", err)
			} else {
				voice.Sample = payload
				release = rel
			}
		}
	}
	if voice.Sample == nil {
		voice.Synthesized = true
	}

	slot := &voiceSlot{
		nodeID:     note.NodeID,
		pitch:      note.Pitch,
		expiryTime: now.Add(time.Duration(note.DurationMs) * time.Millisecond),
		release:    release,
	}
	if stolen := s.slots.allocate(note.Instrument, slot); stolen {
		logger.Debug("stole voice slot", "instrument", note.Instrument, "nodeId", note.NodeID)
	}

	if err := s.backend.Play(ctx, voice); err != nil {
		logger.Warn("playback backend rejected voice", "nodeId", note.NodeID, "error", err)
	}
}

// ActiveVoices reports the number of currently sounding voices on an
// instrument.
func (s *Scheduler) ActiveVoices(instrument common.Instrument) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots.count(instrument)
}
