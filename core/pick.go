package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

type Ray struct {
	Origin mgl32.Vec3
	Dir    mgl32.Vec3
}

type PickSphere struct {
	Center mgl32.Vec3
	Radius float32
	Object *MeshObject
}

type PickHit struct {
	Hit    bool
	T      float32
	Point  mgl32.Vec3
	Object *MeshObject
}

// ScreenRay unprojects a cursor position into a world-space ray from
// the camera through that pixel.
func ScreenRay(x, y float64, width, height int, cam *Camera) Ray {
	w, h := float32(width), float32(height)
	if w <= 0 || h <= 0 {
		return Ray{Origin: cam.Position, Dir: cam.GetForward()}
	}

	// Screen to NDC, Y flipped
	ndcX := (float32(x)/w)*2.0 - 1.0
	ndcY := 1.0 - (float32(y)/h)*2.0

	invVP := cam.GetProjection(w / h).Mul4(cam.GetViewMatrix()).Inv()

	nearPt := invVP.Mul4x1(mgl32.Vec4{ndcX, ndcY, -1, 1})
	farPt := invVP.Mul4x1(mgl32.Vec4{ndcX, ndcY, 1, 1})
	nearW := nearPt.Vec3().Mul(1.0 / nearPt.W())
	farW := farPt.Vec3().Mul(1.0 / farPt.W())

	return Ray{
		Origin: cam.Position,
		Dir:    farW.Sub(nearW).Normalize(),
	}
}

// RaySphere returns the nearest non-negative intersection distance, or
// false when the ray misses. A ray starting inside the sphere hits at
// the exit point.
func RaySphere(ray Ray, center mgl32.Vec3, radius float32) (float32, bool) {
	oc := ray.Origin.Sub(center)
	b := oc.Dot(ray.Dir)
	c := oc.Dot(oc) - radius*radius
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	sq := float32(math.Sqrt(float64(disc)))
	t := -b - sq
	if t < 0 {
		t = -b + sq
	}
	if t < 0 {
		return 0, false
	}
	return t, true
}

// PickNearest tests the ray against world-space bounding spheres and
// returns the closest hit within tMax.
func PickNearest(ray Ray, spheres []PickSphere, tMax float32) PickHit {
	best := PickHit{T: tMax}
	for _, s := range spheres {
		t, ok := RaySphere(ray, s.Center, s.Radius)
		if !ok || t >= best.T {
			continue
		}
		best.Hit = true
		best.T = t
		best.Point = ray.Origin.Add(ray.Dir.Mul(t))
		best.Object = s.Object
	}
	if !best.Hit {
		return PickHit{}
	}
	return best
}
