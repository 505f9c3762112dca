package runs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"graphony/pkg/cache"
	"graphony/pkg/common"
	"graphony/pkg/docgraph"
	"graphony/pkg/logger"
	"graphony/pkg/pipeline"
	"graphony/pkg/scheduler"
	"graphony/pkg/synth"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Status is the lifecycle state of a playback run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// VoiceEvent is one played voice as exposed on the run event stream.
type VoiceEvent struct {
	At          time.Time         `json:"at"`
	Instrument  common.Instrument `json:"instrument"`
	Pitch       int               `json:"pitch"`
	Velocity    float64           `json:"velocity"`
	DurationMs  int               `json:"duration_ms"`
	Pan         float64           `json:"pan"`
	Synthesized bool              `json:"synthesized"`
}

// Run is one in-flight or finished playback of a composed neighborhood.
type Run struct {
	ID        string
	CenterID  string
	CreatedAt time.Time
	Groups    int
	Status    Status
	Config    pipeline.EngineConfig

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	subs   map[chan VoiceEvent]struct{}
}

// View is a copyable snapshot of a run for API responses.
type View struct {
	ID        string    `json:"id"`
	CenterID  string    `json:"center_id"`
	CreatedAt time.Time `json:"created_at"`
	Groups    int       `json:"groups"`
	Status    Status    `json:"status"`
}

// View returns a consistent snapshot of the run.
func (r *Run) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return View{
		ID:        r.ID,
		CenterID:  r.CenterID,
		CreatedAt: r.CreatedAt,
		Groups:    r.Groups,
		Status:    r.Status,
	}
}

func (r *Run) setStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Stopped is terminal; a late scheduler return must not overwrite it.
	if r.Status == StatusStopped {
		return
	}
	r.Status = s
}

// Subscribe returns a channel of the run's voice events and a cancel
// function. Slow subscribers drop events rather than stalling playback.
func (r *Run) Subscribe() (<-chan VoiceEvent, func()) {
	ch := make(chan VoiceEvent, 64)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()
	return ch, func() {
		r.mu.Lock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
}

// Done is closed when the run finishes for any reason.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) publish(ev VoiceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (r *Run) closeSubs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.subs {
		delete(r.subs, ch)
		close(ch)
	}
}

// broadcast wraps a playback backend and mirrors every voice onto the
// run's subscriber channels.
type broadcast struct {
	backend synth.Backend
	run     *Run
}

func (b *broadcast) Play(ctx context.Context, voice synth.Voice) error {
	b.run.publish(VoiceEvent{
		At:          time.Now(),
		Instrument:  voice.Instrument,
		Pitch:       voice.Pitch,
		Velocity:    voice.Velocity,
		DurationMs:  voice.DurationMs,
		Pan:         voice.Pan,
		Synthesized: voice.Synthesized,
	})
	return b.backend.Play(ctx, voice)
}

// Registry owns every playback run of the process and the shared playback
// dependencies.
type Registry struct {
	mu   sync.Mutex
	runs map[string]*Run

	backend   synth.Backend
	samples   scheduler.SampleResolver
	sampleFor scheduler.SampleMapper
}

// NewRegistryParams contains configuration for creating a Registry. Cache
// may be nil, in which case every voice is synthesized.
type NewRegistryParams struct {
	Backend   synth.Backend
	Cache     *cache.Manager
	SampleFor scheduler.SampleMapper
}

// NewRegistry creates an empty run registry.
func NewRegistry(params NewRegistryParams) *Registry {
	backend := params.Backend
	if backend == nil {
		backend = synth.NewLogBackend()
	}
	r := &Registry{
		runs:    make(map[string]*Run),
		backend: backend,
	}
	if params.Cache != nil {
		r.samples = params.Cache
		r.sampleFor = params.SampleFor
	}
	return r
}

// Start composes the neighborhood and begins playback in the background.
// Configuration errors surface immediately; an unknown center id yields a
// run that completes with zero groups.
func (r *Registry) Start(provider docgraph.Provider, cfg pipeline.EngineConfig) (*Run, error) {
	composer, err := pipeline.NewComposer(pipeline.NewComposerParams{
		Provider: provider,
		Config:   cfg,
	})
	if err != nil {
		return nil, err
	}
	groups := composer.Compose()

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &Run{
		ID:        id,
		CenterID:  cfg.CenterID,
		CreatedAt: time.Now(),
		Groups:    len(groups),
		Status:    StatusRunning,
		Config:    cfg,
		cancel:    cancel,
		done:      make(chan struct{}),
		subs:      make(map[chan VoiceEvent]struct{}),
	}

	sched, err := scheduler.NewScheduler(scheduler.NewSchedulerParams{
		Backend:     &broadcast{backend: r.backend, run: run},
		Samples:     r.samples,
		SampleFor:   r.sampleFor,
		MaxVoices:   cfg.MaxVoices,
		BaseCadence: cfg.BaseCadence(),
	})
	if err != nil {
		cancel()
		return nil, err
	}

	r.mu.Lock()
	r.runs[id] = run
	r.mu.Unlock()

	go func() {
		defer cancel()
		defer close(run.done)
		defer run.closeSubs()

		err := sched.Run(ctx, groups)
		switch {
		case err == nil:
			run.setStatus(StatusCompleted)
		case ctx.Err() != nil:
			run.setStatus(StatusStopped)
		default:
			run.setStatus(StatusFailed)
			logger.Error("run failed", "runId", run.ID, "err", err)
		}
	}()

	return run, nil
}

// Get returns the run with the given id.
func (r *Registry) Get(id string) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	return run, ok
}

// List returns every known run, newest first.
func (r *Registry) List() []*Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Stop cancels a running run. Stopping a finished run is a no-op.
func (r *Registry) Stop(id string) bool {
	r.mu.Lock()
	run, ok := r.runs[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	run.setStatusStopped()
	run.cancel()
	return true
}

func (r *Run) setStatusStopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Status == StatusRunning {
		r.Status = StatusStopped
	}
}
