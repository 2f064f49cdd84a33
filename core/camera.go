package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type Camera struct {
	Position    mgl32.Vec3
	Yaw         float32
	Pitch       float32
	FovDeg      float32
	Near        float32
	Far         float32
	Speed       float32
	Sensitivity float32
}

func NewCamera() *Camera {
	return &Camera{
		Position:    mgl32.Vec3{0, 5, 30},
		Yaw:         0,
		Pitch:       0,
		FovDeg:      45.0,
		Near:        0.1,
		Far:         1000.0,
		Speed:       10.0,
		Sensitivity: 0.003,
	}
}

func (c *Camera) GetForward() mgl32.Vec3 {
	// Y-up: yaw 0 looks down -Z
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Pitch)) * math.Sin(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
		float32(-math.Cos(float64(c.Pitch)) * math.Cos(float64(c.Yaw))),
	}
}

func (c *Camera) GetRight() mgl32.Vec3 {
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Yaw))),
		0,
		float32(math.Sin(float64(c.Yaw))),
	}
}

func (c *Camera) GetViewMatrix() mgl32.Mat4 {
	forward := c.GetForward()
	eye := c.Position
	target := eye.Add(forward)
	up := mgl32.Vec3{0, 1, 0}
	return mgl32.LookAtV(eye, target, up)
}

func (c *Camera) GetProjection(aspect float32) mgl32.Mat4 {
	if aspect <= 0 {
		aspect = 1.0
	}
	return mgl32.Perspective(mgl32.DegToRad(c.FovDeg), aspect, c.Near, c.Far)
}
