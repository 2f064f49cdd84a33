package prism

import (
	"encoding/json"
	"fmt"
	"os"
)

// MaxBounceCap is the hard upper bound on traced reflection bounces.
// The compute kernel walks chains with a bounded loop; raising this
// requires resizing the ray buffer headroom as well.
const MaxBounceCap = 4

// RenderSettings are the runtime-tunable knobs of the pipeline.
type RenderSettings struct {
	// RoughnessThreshold gates ray seeding in the geometry pass.
	// Pixels whose sampled roughness is <= the threshold are seeded,
	// so 0 disables tracing entirely and 1 traces every covered pixel.
	RoughnessThreshold float32 `json:"roughness_threshold"`
	MaxBounces         int     `json:"max_bounces"`
	BackfaceCulling    bool    `json:"backface_culling"`
	ShadowMapSize      uint32  `json:"shadow_map_size"`
	Overlay            bool    `json:"overlay"`
}

func DefaultSettings() RenderSettings {
	return RenderSettings{
		RoughnessThreshold: 0.25,
		MaxBounces:         3,
		BackfaceCulling:    true,
		ShadowMapSize:      1024,
		Overlay:            true,
	}
}

// Clamp normalizes out-of-range values in place and returns the settings.
func (s *RenderSettings) Clamp() *RenderSettings {
	if s.RoughnessThreshold < 0 {
		s.RoughnessThreshold = 0
	}
	if s.RoughnessThreshold > 1 {
		s.RoughnessThreshold = 1
	}
	if s.MaxBounces < 0 {
		s.MaxBounces = 0
	}
	if s.MaxBounces > MaxBounceCap {
		s.MaxBounces = MaxBounceCap
	}
	if s.ShadowMapSize == 0 {
		s.ShadowMapSize = DefaultSettings().ShadowMapSize
	}
	return s
}

func SaveSettings(s RenderSettings, filename string) error {
	bytes, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, bytes, 0644)
}

func LoadSettings(filename string) (RenderSettings, error) {
	s := DefaultSettings()
	bytes, err := os.ReadFile(filename)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(bytes, &s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", filename, err)
	}
	s.Clamp()
	return s, nil
}
