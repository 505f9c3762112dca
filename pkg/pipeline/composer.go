package pipeline

import (
	"hash/fnv"
	"time"

	"graphony/pkg/common"
	"graphony/pkg/docgraph"
	"graphony/pkg/fusion"
	"graphony/pkg/harmony"
	"graphony/pkg/logger"
	"graphony/pkg/mapping"
	"graphony/pkg/walker"
)

// poolInstruments assigns the concrete instruments of each pool. The
// instrument for a node is picked deterministically from its pool by id
// hash.
var poolInstruments = map[common.InstrumentPool][]common.Instrument{
	common.PoolLead:    {common.InstrumentPiano, common.InstrumentCelesta},
	common.PoolHarmony: {common.InstrumentStrings, common.InstrumentChoir},
	common.PoolRhythm:  {common.InstrumentBass, common.InstrumentMarimba},
	common.PoolAmbient: {common.InstrumentPad, common.InstrumentDrone},
}

// poolLayers routes each pool to the fusion layer it plays on.
var poolLayers = map[common.InstrumentPool]common.Layer{
	common.PoolLead:    common.LayerMelodic,
	common.PoolHarmony: common.LayerHarmonic,
	common.PoolRhythm:  common.LayerRhythmic,
	common.PoolAmbient: common.LayerAmbient,
}

// basePitches centers each depth in its own register: the lead voice
// sits highest and deeper cohorts descend toward the drone register.
var basePitches = map[int]int{
	0: 72,
	1: 64,
	2: 48,
	3: 36,
}

// Composer turns a neighborhood of the document graph into an
// onset-ordered, harmonically constrained chord stream. Composition is a
// pure function of the graph snapshot and the configuration.
type Composer struct {
	provider docgraph.Provider
	cfg      EngineConfig
}

// NewComposerParams contains configuration for creating a Composer.
type NewComposerParams struct {
	Provider docgraph.Provider
	Config   EngineConfig
}

// NewComposer creates a composer. The configuration is validated here so
// malformed runs fail before any scheduling starts.
func NewComposer(params NewComposerParams) (*Composer, error) {
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}
	return &Composer{
		provider: params.Provider,
		cfg:      params.Config.withDefaults(),
	}, nil
}

// Compose runs the full composition pipeline: traversal, depth mapping,
// pitch derivation, harmonic quantization, and chord fusion. An unknown
// center id yields an empty stream, not an error.
func (c *Composer) Compose() []common.ChordGroup {
	ordering := walker.DiscoveryOrder
	if c.cfg.OrderByRecency {
		ordering = walker.RecencyOrder
	}
	nodes := walker.Walk(c.provider, walker.WalkParams{
		CenterID:         c.cfg.CenterID,
		MaxDepth:         c.cfg.MaxDepth,
		MaxNodesPerDepth: c.cfg.MaxNodesPerDepth,
		Filter:           c.cfg.Filter,
		Ordering:         ordering,
	})
	if len(nodes) == 0 {
		logger.Warn("empty neighborhood, nothing to compose", "centerId", c.cfg.CenterID)
		return nil
	}

	tables := c.cfg.Tables
	tables.DirectionalPanning = c.cfg.DirectionalPanning
	mapper := mapping.NewMapper(mapping.NewMapperParams{Tables: tables})
	nodes = mapper.Apply(nodes)

	quantizer := harmony.NewQuantizer(harmony.NewQuantizerParams{Constraint: c.cfg.Scale})
	events := c.derive(nodes, quantizer)

	engine := fusion.NewEngine(fusion.NewEngineParams{
		Config:    c.cfg.Fusion,
		Quantizer: quantizer,
	})
	groups := engine.Fuse(events)
	logger.Debug("composed run",
		"centerId", c.cfg.CenterID,
		"nodes", len(nodes),
		"events", len(events),
		"groups", len(groups),
	)
	return groups
}

// derive turns mapped nodes into quantized note events in onset order.
// Onsets advance one cadence step per depth, with siblings inside a depth
// spread a few milliseconds apart so the fusion window decides which of
// them sound as one chord.
func (c *Composer) derive(nodes []common.GraphNode, quantizer *harmony.Quantizer) []common.NoteEvent {
	cadence := c.cfg.BaseCadence()
	spread := time.Duration(c.cfg.IntraDepthSpreadMs) * time.Millisecond

	var events []common.NoteEvent
	depthSeen := make(map[int]int)
	for _, node := range nodes {
		index := depthSeen[node.Depth]
		depthSeen[node.Depth]++
		onset := time.Duration(node.Depth)*cadence + time.Duration(index)*spread

		event := common.NoteEvent{
			NodeID:     node.ID,
			Onset:      onset,
			Pitch:      quantizer.Quantize(rawPitch(node)),
			Velocity:   node.Volume,
			DurationMs: duration(node.SizeProxy),
			Instrument: instrumentFor(node),
			Pan:        node.Pan,
			Depth:      node.Depth,
			Layer:      poolLayers[node.InstrumentPool],
			CreatedAt:  node.CreationTimestamp,
			Tags:       node.Tags,
		}
		events = append(events, event)

		// A link-traversal echo one octave down, for fusion to chord
		// with its document when connection chords are enabled.
		if c.cfg.Fusion.ConnectionChords && node.Depth > 0 {
			echo := event
			echo.Connection = true
			echo.Onset += spread / 2
			echo.Pitch = quantizer.Quantize(event.Pitch - 12)
			echo.Velocity = event.Velocity * 0.5
			echo.DurationMs = event.DurationMs / 2
			events = append(events, echo)
		}
	}
	return events
}

// rawPitch derives the unquantized pitch from the node's register and
// content features. The same document always yields the same pitch.
func rawPitch(node common.GraphNode) int {
	base, ok := basePitches[node.Depth]
	if !ok {
		base = basePitches[3]
	}
	h := fnv.New32a()
	h.Write([]byte(node.ID))
	offset := int(h.Sum32()%12) + int(node.SizeProxy%5)
	return base + offset%12
}

// duration scales with the content size proxy, clamped to 200..2000 ms.
func duration(sizeProxy int64) int {
	ms := 200 + int(sizeProxy/64)
	if ms > 2000 {
		ms = 2000
	}
	return ms
}

// instrumentFor picks a stable instrument from the node's pool.
func instrumentFor(node common.GraphNode) common.Instrument {
	pool, ok := poolInstruments[node.InstrumentPool]
	if !ok || len(pool) == 0 {
		return common.InstrumentFallback
	}
	h := fnv.New32a()
	h.Write([]byte(node.ID))
	return pool[int(h.Sum32())%len(pool)]
}
