package pipeline

import (
	"fmt"
	"time"

	"graphony/pkg/common"
	"graphony/pkg/fusion"
	"graphony/pkg/harmony"
	"graphony/pkg/mapping"
	"graphony/pkg/walker"

	"github.com/go-playground/validator"
)

// ConfigurationError reports a malformed engine configuration. It is
// surfaced before a run starts, never mid-schedule.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// EngineConfig is the full configuration surface of one playback run.
// Zero values take the documented defaults.
type EngineConfig struct {
	CenterID string `json:"center_id" yaml:"center_id" validate:"required"`

	// MaxDepth bounds the traversal hop distance, default 3.
	MaxDepth int `json:"max_depth" yaml:"max_depth" validate:"omitempty,min=1,max=10"`

	// MaxNodesPerDepth truncates each depth cohort, 0 means unlimited.
	MaxNodesPerDepth int `json:"max_nodes_per_depth" yaml:"max_nodes_per_depth" validate:"min=0"`

	// OrderByRecency breaks per-depth truncation ties by document
	// recency instead of discovery order.
	OrderByRecency bool `json:"order_by_recency" yaml:"order_by_recency"`

	Filter walker.Filter `json:"filter" yaml:"filter"`

	DirectionalPanning bool           `json:"directional_panning" yaml:"directional_panning"`
	Tables             mapping.Tables `json:"tables" yaml:"tables"`

	Scale  common.ScaleConstraint `json:"scale" yaml:"scale"`
	Fusion fusion.Config          `json:"fusion" yaml:"fusion"`

	// MaxVoices caps simultaneous voices per instrument, default 8.
	MaxVoices int `json:"max_voices" yaml:"max_voices" validate:"omitempty,min=1,max=32"`

	// BaseCadenceMs spaces node-driven onsets, default 400.
	BaseCadenceMs int `json:"base_cadence_ms" yaml:"base_cadence_ms" validate:"omitempty,min=50,max=2000"`

	// IntraDepthSpreadMs offsets sibling onsets within one depth cohort
	// so the fusion window decides which of them chord together.
	IntraDepthSpreadMs int `json:"intra_depth_spread_ms" yaml:"intra_depth_spread_ms" validate:"omitempty,min=1,max=100"`
}

// DefaultEngineConfig returns the engine defaults: depth 3, C major at
// full quantization strength, smart fusion, 8 voices.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxDepth: 3,
		Scale: common.ScaleConstraint{
			RootNote:             0,
			ScaleName:            "major",
			QuantizationStrength: 1.0,
			DissonanceThreshold:  0.5,
			EnforceHarmony:       true,
		},
		Fusion:             fusion.DefaultConfig(),
		MaxVoices:          8,
		BaseCadenceMs:      400,
		IntraDepthSpreadMs: 15,
	}
}

var validate = validator.New()

// Validate checks the configuration surface, including the cross-field
// constraints the struct tags cannot express. It returns a
// ConfigurationError describing the first violation found.
func (c EngineConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return &ConfigurationError{
				Field:  errs[0].Namespace(),
				Reason: fmt.Sprintf("failed on %q", errs[0].Tag()),
			}
		}
		return err
	}

	if c.Fusion.MinimumNotes != 0 && c.Fusion.MaxChordNotes != 0 &&
		c.Fusion.MinimumNotes > c.Fusion.MaxChordNotes {
		return &ConfigurationError{
			Field:  "Fusion.MinimumNotes",
			Reason: "must not exceed Fusion.MaxChordNotes",
		}
	}
	if s := c.Scale.QuantizationStrength; s < 0 || s > 1 {
		return &ConfigurationError{Field: "Scale.QuantizationStrength", Reason: "must be within [0,1]"}
	}
	if d := c.Scale.DissonanceThreshold; d < 0 || d > 1 {
		return &ConfigurationError{Field: "Scale.DissonanceThreshold", Reason: "must be within [0,1]"}
	}
	if c.Scale.ScaleName != "" && !harmony.KnownScale(c.Scale.ScaleName) {
		return &ConfigurationError{Field: "Scale.ScaleName", Reason: fmt.Sprintf("unknown scale %q", c.Scale.ScaleName)}
	}
	for depth, volume := range c.Tables.Volumes {
		if volume < 0 || volume > 1 {
			return &ConfigurationError{Field: fmt.Sprintf("Tables.Volumes[%d]", depth), Reason: "must be within [0,1]"}
		}
	}
	for direction, pan := range c.Tables.Pans {
		if pan < -1 || pan > 1 {
			return &ConfigurationError{Field: fmt.Sprintf("Tables.Pans[%s]", direction), Reason: "must be within [-1,1]"}
		}
	}
	return nil
}

// withDefaults fills zero-valued fields from DefaultEngineConfig.
func (c EngineConfig) withDefaults() EngineConfig {
	defaults := DefaultEngineConfig()
	if c.MaxDepth == 0 {
		c.MaxDepth = defaults.MaxDepth
	}
	if c.Scale.ScaleName == "" {
		c.Scale = defaults.Scale
	}
	if c.MaxVoices == 0 {
		c.MaxVoices = defaults.MaxVoices
	}
	if c.BaseCadenceMs == 0 {
		c.BaseCadenceMs = defaults.BaseCadenceMs
	}
	if c.IntraDepthSpreadMs == 0 {
		c.IntraDepthSpreadMs = defaults.IntraDepthSpreadMs
	}
	return c
}

// BaseCadence returns the onset spacing as a duration.
func (c EngineConfig) BaseCadence() time.Duration {
	if c.BaseCadenceMs <= 0 {
		return 400 * time.Millisecond
	}
	return time.Duration(c.BaseCadenceMs) * time.Millisecond
}
