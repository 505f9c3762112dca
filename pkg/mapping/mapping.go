package mapping

import (
	"graphony/pkg/common"
)

// Tables holds the user-overridable depth and direction lookup tables.
// Missing depth entries fall back to the nearest defined shallower depth,
// so partial overrides stay usable.
type Tables struct {
	// InstrumentPools maps traversal depth to the pool playing that depth.
	InstrumentPools map[int]common.InstrumentPool `json:"instrument_pools" yaml:"instrument_pools"`

	// Volumes maps traversal depth to an attenuation in [0,1]. The default
	// table is strictly non-increasing with depth.
	Volumes map[int]float64 `json:"volumes" yaml:"volumes"`

	// Pans maps the discovering link direction to a stereo position in
	// [-1,1]. Only consulted when DirectionalPanning is set.
	Pans map[common.LinkDirection]float64 `json:"pans" yaml:"pans"`

	DirectionalPanning bool `json:"directional_panning" yaml:"directional_panning"`
}

// DefaultTables returns the built-in depth and direction tables: lead pool
// at the center, harmony at depth 1, rhythm at depth 2, ambient beyond;
// volumes 1.0/0.8/0.6/0.4; incoming links panned left, outgoing right.
func DefaultTables() Tables {
	return Tables{
		InstrumentPools: map[int]common.InstrumentPool{
			0: common.PoolLead,
			1: common.PoolHarmony,
			2: common.PoolRhythm,
			3: common.PoolAmbient,
		},
		Volumes: map[int]float64{
			0: 1.0,
			1: 0.8,
			2: 0.6,
			3: 0.4,
		},
		Pans: map[common.LinkDirection]float64{
			common.LinkIncoming:      -0.7,
			common.LinkOutgoing:      0.7,
			common.LinkBidirectional: 0.0,
		},
		DirectionalPanning: true,
	}
}

// Mapper assigns instrument pool, volume, and pan to graph nodes based on
// depth and link direction. It is a pure, stateless mapping.
type Mapper struct {
	tables Tables
}

// NewMapperParams contains configuration for creating a Mapper. Zero-value
// tables fall back to the defaults wholesale; partially filled tables are
// merged per lookup.
type NewMapperParams struct {
	Tables Tables
}

// NewMapper creates a depth mapper over the given tables.
func NewMapper(params NewMapperParams) *Mapper {
	t := params.Tables
	defaults := DefaultTables()
	if t.InstrumentPools == nil {
		t.InstrumentPools = defaults.InstrumentPools
	}
	if t.Volumes == nil {
		t.Volumes = defaults.Volumes
	}
	if t.Pans == nil {
		t.Pans = defaults.Pans
	}
	return &Mapper{tables: t}
}

// Apply fills in the derived fields of every node and returns the mapped
// slice. Input nodes are not modified.
func (m *Mapper) Apply(nodes []common.GraphNode) []common.GraphNode {
	mapped := make([]common.GraphNode, len(nodes))
	for i, node := range nodes {
		mapped[i] = node
		mapped[i].InstrumentPool = m.Pool(node.Depth)
		mapped[i].Volume = m.Volume(node.Depth)
		mapped[i].Pan = m.Pan(node.LinkDirection)
	}
	return mapped
}

// Pool returns the instrument pool for a depth, falling back to the nearest
// defined shallower depth for sparse tables.
func (m *Mapper) Pool(depth int) common.InstrumentPool {
	for d := depth; d >= 0; d-- {
		if pool, ok := m.tables.InstrumentPools[d]; ok {
			return pool
		}
	}
	return common.PoolAmbient
}

// Volume returns the volume attenuation for a depth, falling back to the
// nearest defined shallower depth for sparse tables.
func (m *Mapper) Volume(depth int) float64 {
	for d := depth; d >= 0; d-- {
		if v, ok := m.tables.Volumes[d]; ok {
			return v
		}
	}
	return 0.4
}

// Pan returns the stereo position for a link direction. When directional
// panning is disabled every node sits at center.
func (m *Mapper) Pan(direction common.LinkDirection) float64 {
	if !m.tables.DirectionalPanning {
		return 0
	}
	if pan, ok := m.tables.Pans[direction]; ok {
		return pan
	}
	return 0
}
