package config

import (
	"fmt"
	"os"

	"graphony/pkg/pipeline"

	"gopkg.in/yaml.v3"
)

// Config is the file-based configuration surface. The engine block sets
// the defaults a run request may override per run.
type Config struct {
	Engine pipeline.EngineConfig `yaml:"engine"`
}

// Load reads a YAML config file. A missing path or missing file yields
// the built-in engine defaults; a malformed or invalid file is an error.
func Load(path string) (Config, error) {
	cfg := Config{Engine: pipeline.DefaultEngineConfig()}
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// The defaults file never names a center document; runs supply one.
	probe := cfg.Engine
	probe.CenterID = "probe"
	if err := probe.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid engine defaults in %s: %w", path, err)
	}
	return cfg, nil
}

// Merge lays a run request's engine configuration over the file defaults.
// Blocks the request leaves zeroed keep the default values.
func Merge(base, req pipeline.EngineConfig) pipeline.EngineConfig {
	out := base
	out.CenterID = req.CenterID

	if req.MaxDepth != 0 {
		out.MaxDepth = req.MaxDepth
	}
	if req.MaxNodesPerDepth != 0 {
		out.MaxNodesPerDepth = req.MaxNodesPerDepth
	}
	if req.OrderByRecency {
		out.OrderByRecency = true
	}
	if !isZeroFilter(req) {
		out.Filter = req.Filter
	}
	if req.DirectionalPanning {
		out.DirectionalPanning = true
	}
	if req.Tables.InstrumentPools != nil || req.Tables.Volumes != nil || req.Tables.Pans != nil {
		out.Tables = req.Tables
	}
	if req.Scale.ScaleName != "" {
		out.Scale = req.Scale
	}
	if req.Fusion.Mode != "" || req.Fusion.TimingWindowMs != 0 {
		out.Fusion = req.Fusion
	}
	if req.MaxVoices != 0 {
		out.MaxVoices = req.MaxVoices
	}
	if req.BaseCadenceMs != 0 {
		out.BaseCadenceMs = req.BaseCadenceMs
	}
	if req.IntraDepthSpreadMs != 0 {
		out.IntraDepthSpreadMs = req.IntraDepthSpreadMs
	}
	return out
}

func isZeroFilter(cfg pipeline.EngineConfig) bool {
	f := cfg.Filter
	return len(f.IncludeTags) == 0 && len(f.ExcludeTags) == 0 &&
		len(f.IncludeFolders) == 0 && len(f.ExcludeFolders) == 0 &&
		len(f.FileTypes) == 0 && len(f.LinkDirections) == 0
}
