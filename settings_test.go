package prism

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_Defaults(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, float32(0.25), s.RoughnessThreshold)
	assert.Equal(t, 3, s.MaxBounces)
	assert.True(t, s.BackfaceCulling)
	assert.Equal(t, uint32(1024), s.ShadowMapSize)
}

func TestSettings_Clamp(t *testing.T) {
	s := RenderSettings{
		RoughnessThreshold: 2.5,
		MaxBounces:         9,
	}
	s.Clamp()
	assert.Equal(t, float32(1), s.RoughnessThreshold)
	assert.Equal(t, MaxBounceCap, s.MaxBounces)
	assert.Equal(t, uint32(1024), s.ShadowMapSize)

	s = RenderSettings{
		RoughnessThreshold: -1,
		MaxBounces:         -3,
		ShadowMapSize:      512,
	}
	s.Clamp()
	assert.Equal(t, float32(0), s.RoughnessThreshold)
	assert.Equal(t, 0, s.MaxBounces)
	assert.Equal(t, uint32(512), s.ShadowMapSize)
}

func TestSettings_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "render.json")

	s := DefaultSettings()
	s.RoughnessThreshold = 0.5
	s.MaxBounces = 2
	s.Overlay = false

	require.NoError(t, SaveSettings(s, path))

	loaded, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}

func TestSettings_LoadMissingFileReturnsDefaults(t *testing.T) {
	loaded, err := LoadSettings(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.Equal(t, DefaultSettings(), loaded)
}

func TestSettings_LoadClampsOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "render.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"roughness_threshold": 3.0, "max_bounces": 99}`), 0644))

	loaded, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, float32(1), loaded.RoughnessThreshold)
	assert.Equal(t, MaxBounceCap, loaded.MaxBounces)
}
