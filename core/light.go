package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Light is a shadow-casting point light with a perspective projection
// used for its shadow map.
type Light struct {
	Transform Transform
	Color     mgl32.Vec3
	FovDeg    float32
	Near      float32
	Far       float32
}

func NewLight() *Light {
	return &Light{
		Transform: NewTransform(),
		Color:     mgl32.Vec3{1, 1, 1},
		FovDeg:    90.0,
		Near:      1.0,
		Far:       1000.0,
	}
}

func (l *Light) Projection() mgl32.Mat4 {
	// Shadow maps are square, aspect 1
	return mgl32.Perspective(mgl32.DegToRad(l.FovDeg), 1.0, l.Near, l.Far)
}

// View is the inverse of the light's world matrix.
func (l *Light) View() mgl32.Mat4 {
	return l.Transform.WorldToObject()
}

func (l *Light) LightSpace() mgl32.Mat4 {
	return l.Projection().Mul4(l.View())
}
