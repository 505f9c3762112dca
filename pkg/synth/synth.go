package synth

import (
	"context"
	"sync"

	"graphony/pkg/common"
	"graphony/pkg/logger"
)

// Voice is one playback instruction handed to the synthesis backend. When
// Sample is nil the backend synthesizes the voice itself; otherwise it
// plays the cached sample payload.
type Voice struct {
	Instrument  common.Instrument
	Pitch       int
	Velocity    float64
	DurationMs  int
	Pan         float64
	Sample      []byte
	Synthesized bool
}

// Backend renders voices. The engine never generates signal itself; this
// is the boundary to the actual synthesizer or sample player.
type Backend interface {
	Play(ctx context.Context, voice Voice) error
}

// LogBackend logs every voice instead of rendering it. Used by the server
// when no real synthesis backend is attached.
type LogBackend struct{}

// NewLogBackend creates a backend that only logs playback.
func NewLogBackend() *LogBackend {
	return &LogBackend{}
}

// Play logs the voice at debug level.
func (b *LogBackend) Play(ctx context.Context, voice Voice) error {
	logger.Debug(
		"Playing voice",
		"instrument", voice.Instrument,
		"pitch", voice.Pitch,
		"velocity", voice.Velocity,
		"duration_ms", voice.DurationMs,
		"pan", voice.Pan,
		"synthesized", voice.Synthesized,
	)
	return nil
}

// Recorder captures every played voice for inspection in tests.
type Recorder struct {
	mu     sync.Mutex
	voices []Voice
}

// NewRecorder creates an empty recording backend.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Play records the voice.
func (r *Recorder) Play(ctx context.Context, voice Voice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voices = append(r.voices, voice)
	return nil
}

// Voices returns a copy of everything played so far.
func (r *Recorder) Voices() []Voice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Voice, len(r.voices))
	copy(out, r.voices)
	return out
}
