package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"graphony/pkg/common"
	"graphony/pkg/synth"
)

func fastParams(backend synth.Backend) NewSchedulerParams {
	return NewSchedulerParams{
		Backend:     backend,
		MaxVoices:   8,
		BaseCadence: 5 * time.Millisecond,
		Tick:        time.Millisecond,
		Lookahead:   2 * time.Millisecond,
	}
}

func note(id string, pitch int, instrument common.Instrument, durationMs int) common.NoteEvent {
	return common.NoteEvent{
		NodeID:     id,
		Pitch:      pitch,
		Velocity:   0.8,
		DurationMs: durationMs,
		Instrument: instrument,
	}
}

func group(onset time.Duration, notes ...common.NoteEvent) common.ChordGroup {
	return common.ChordGroup{Onset: onset, Notes: notes}
}

func TestRunDispatchesInOnsetOrder(t *testing.T) {
	recorder := synth.NewRecorder()
	s, err := NewScheduler(fastParams(recorder))
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}

	groups := []common.ChordGroup{
		group(100*time.Millisecond, note("c", 64, common.InstrumentStrings, 1)),
		group(0, note("a", 60, common.InstrumentPiano, 1)),
		group(50*time.Millisecond, note("b", 62, common.InstrumentCelesta, 1)),
	}
	if err := s.Run(context.Background(), groups); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	voices := recorder.Voices()
	if len(voices) != 3 {
		t.Fatalf("expected 3 voices, got %d", len(voices))
	}
	wantPitches := []int{60, 62, 64}
	for i, want := range wantPitches {
		if voices[i].Pitch != want {
			t.Errorf("voice %d: expected pitch %d, got %d", i, want, voices[i].Pitch)
		}
	}
}

func TestChordNotesDispatchTogether(t *testing.T) {
	recorder := synth.NewRecorder()
	s, err := NewScheduler(fastParams(recorder))
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}

	chord := group(0,
		note("a", 60, common.InstrumentPiano, 1),
		note("b", 64, common.InstrumentPiano, 1),
		note("c", 67, common.InstrumentPiano, 1),
	)
	later := group(10*time.Millisecond, note("d", 72, common.InstrumentPiano, 1))
	if err := s.Run(context.Background(), []common.ChordGroup{chord, later}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	voices := recorder.Voices()
	if len(voices) != 4 {
		t.Fatalf("expected 4 voices, got %d", len(voices))
	}
	// The chord's three voices precede the later singleton.
	for i, want := range []int{60, 64, 67, 72} {
		if voices[i].Pitch != want {
			t.Errorf("voice %d: expected pitch %d, got %d", i, want, voices[i].Pitch)
		}
	}
}

func TestVoiceStealingBound(t *testing.T) {
	recorder := synth.NewRecorder()
	params := fastParams(recorder)
	params.MaxVoices = 2
	s, err := NewScheduler(params)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}

	// Long durations keep every voice sounding for the whole run, so the
	// third and fourth note must steal slots rather than exceed the cap.
	var groups []common.ChordGroup
	for i := 0; i < 4; i++ {
		groups = append(groups, group(
			time.Duration(i)*10*time.Millisecond,
			note(fmt.Sprintf("n%d", i), 60+i, common.InstrumentPiano, 500),
		))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, groups)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) && len(recorder.Voices()) < 4 {
		if n := s.ActiveVoices(common.InstrumentPiano); n > 2 {
			t.Fatalf("active voices %d exceeds cap of 2", n)
		}
		time.Sleep(time.Millisecond)
	}

	if len(recorder.Voices()) != 4 {
		t.Fatalf("expected all 4 voices played, got %d", len(recorder.Voices()))
	}
	if n := s.ActiveVoices(common.InstrumentPiano); n > 2 {
		t.Fatalf("active voices %d exceeds cap of 2", n)
	}
}

type fakeResolver struct {
	mu       sync.Mutex
	payloads map[int64][]byte
	pins     int
}

func (r *fakeResolver) Acquire(ctx context.Context, sampleID int64) ([]byte, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payload, ok := r.payloads[sampleID]
	if !ok {
		return nil, nil, fmt.Errorf("sample %d not available", sampleID)
	}
	r.pins++
	return payload, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.pins--
	}, nil
}

func (r *fakeResolver) pinned() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pins
}

func TestSampleResolvedVoiceCarriesPayload(t *testing.T) {
	recorder := synth.NewRecorder()
	resolver := &fakeResolver{payloads: map[int64][]byte{7: []byte("pcm")}}
	params := fastParams(recorder)
	params.Samples = resolver
	params.SampleFor = func(n common.NoteEvent) (int64, bool) { return 7, true }
	s, err := NewScheduler(params)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}

	groups := []common.ChordGroup{group(0, note("a", 60, common.InstrumentPiano, 1))}
	if err := s.Run(context.Background(), groups); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	voices := recorder.Voices()
	if len(voices) != 1 {
		t.Fatalf("expected 1 voice, got %d", len(voices))
	}
	if voices[0].Synthesized {
		t.Fatal("expected a sample-backed voice")
	}
	if string(voices[0].Sample) != "pcm" {
		t.Fatalf("unexpected payload %q", voices[0].Sample)
	}
	if resolver.pinned() != 0 {
		t.Fatalf("expected pins released after run, got %d", resolver.pinned())
	}
}

func TestFetchFailureFallsBackToSynthesis(t *testing.T) {
	recorder := synth.NewRecorder()
	resolver := &fakeResolver{payloads: map[int64][]byte{}}
	params := fastParams(recorder)
	params.Samples = resolver
	params.SampleFor = func(n common.NoteEvent) (int64, bool) { return 99, true }
	s, err := NewScheduler(params)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}

	groups := []common.ChordGroup{group(0, note("a", 60, common.InstrumentPiano, 1))}
	if err := s.Run(context.Background(), groups); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	voices := recorder.Voices()
	if len(voices) != 1 {
		t.Fatalf("expected the note to survive the fetch failure, got %d voices", len(voices))
	}
	if !voices[0].Synthesized {
		t.Fatal("expected a synthesized fallback voice")
	}
}

func TestCancellationReleasesSlots(t *testing.T) {
	recorder := synth.NewRecorder()
	resolver := &fakeResolver{payloads: map[int64][]byte{1: []byte("pcm")}}
	params := fastParams(recorder)
	params.Samples = resolver
	params.SampleFor = func(n common.NoteEvent) (int64, bool) { return 1, true }
	s, err := NewScheduler(params)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	groups := []common.ChordGroup{group(0, note("a", 60, common.InstrumentPiano, 10000))}

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, groups) }()

	for len(recorder.Voices()) == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if resolver.pinned() != 0 {
		t.Fatalf("expected pins released on cancellation, got %d", resolver.pinned())
	}
	if n := s.ActiveVoices(common.InstrumentPiano); n != 0 {
		t.Fatalf("expected no active voices after cancellation, got %d", n)
	}
}

func TestScheduleUsesBaseCadence(t *testing.T) {
	s, err := NewScheduler(NewSchedulerParams{Backend: synth.NewLogBackend()})
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}

	// Two groups share the second onset; they occupy the same cadence
	// step while the third onset lands one step later.
	groups := []common.ChordGroup{
		group(0, note("a", 60, common.InstrumentPiano, 1)),
		group(30*time.Millisecond, note("b", 62, common.InstrumentPiano, 1)),
		group(30*time.Millisecond, note("c", 64, common.InstrumentStrings, 1)),
		group(90*time.Millisecond, note("d", 65, common.InstrumentPiano, 1)),
	}
	scheduled := s.schedule(groups)
	if len(scheduled) != 4 {
		t.Fatalf("expected 4 scheduled groups, got %d", len(scheduled))
	}
	wantAt := []time.Duration{0, 400 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for i, want := range wantAt {
		if scheduled[i].at != want {
			t.Errorf("group %d: expected dispatch at %v, got %v", i, want, scheduled[i].at)
		}
	}
}

func TestSlotTableStealsEarliestExpiry(t *testing.T) {
	table := newSlotTable(2)
	now := time.Now()

	released := make(map[string]bool)
	mkSlot := func(id string, expiry time.Duration) *voiceSlot {
		return &voiceSlot{
			nodeID:     id,
			expiryTime: now.Add(expiry),
			release:    func() { released[id] = true },
		}
	}

	if stolen := table.allocate(common.InstrumentPiano, mkSlot("a", 100*time.Millisecond)); stolen {
		t.Fatal("first allocation must not steal")
	}
	if stolen := table.allocate(common.InstrumentPiano, mkSlot("b", 50*time.Millisecond)); stolen {
		t.Fatal("second allocation must not steal")
	}
	if stolen := table.allocate(common.InstrumentPiano, mkSlot("c", 200*time.Millisecond)); !stolen {
		t.Fatal("third allocation must steal")
	}
	if !released["b"] {
		t.Fatal("expected the earliest-expiry slot to be terminated")
	}
	if released["a"] {
		t.Fatal("the later-expiry slot must survive")
	}
	if table.count(common.InstrumentPiano) != 2 {
		t.Fatalf("expected 2 active slots, got %d", table.count(common.InstrumentPiano))
	}
}

func TestSlotTableExpire(t *testing.T) {
	table := newSlotTable(4)
	now := time.Now()
	table.allocate(common.InstrumentPiano, &voiceSlot{nodeID: "a", expiryTime: now.Add(-time.Millisecond)})
	table.allocate(common.InstrumentPiano, &voiceSlot{nodeID: "b", expiryTime: now.Add(time.Hour)})

	table.expire(now)
	if table.count(common.InstrumentPiano) != 1 {
		t.Fatalf("expected 1 slot after expiry, got %d", table.count(common.InstrumentPiano))
	}

	table.releaseAll()
	if !table.empty() {
		t.Fatal("expected an empty table after releaseAll")
	}
}
