package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// AssetId is an opaque reference into the asset server's registries.
// The empty id means "none".
type AssetId string

type Material struct {
	Albedo    mgl32.Vec4
	Emission  mgl32.Vec4
	Metalness float32
	Roughness float32

	AlbedoTexture    AssetId
	NormalTexture    AssetId
	MetalnessTexture AssetId
	RoughnessTexture AssetId
}

func NewMaterial(albedo mgl32.Vec4) Material {
	return Material{
		Albedo:    albedo,
		Emission:  mgl32.Vec4{0, 0, 0, 0},
		Metalness: 0.0,
		Roughness: 1.0,
	}
}

// Helper for default white
func DefaultMaterial() Material {
	return NewMaterial(mgl32.Vec4{1, 1, 1, 1})
}
