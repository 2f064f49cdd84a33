package core

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// MeshData is indexed triangle geometry with per-vertex attributes.
// All attribute slices must have the same length; indices are CCW
// front-facing triples into them.
type MeshData struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Tangents  []mgl32.Vec3
	UVs       []mgl32.Vec2
	Indices   []uint32
}

func (m *MeshData) VertexCount() int {
	return len(m.Positions)
}

func (m *MeshData) TriangleCount() int {
	return len(m.Indices) / 3
}

func (m *MeshData) Validate() error {
	n := len(m.Positions)
	if n == 0 {
		return fmt.Errorf("mesh has no vertices")
	}
	if len(m.Normals) != n || len(m.Tangents) != n || len(m.UVs) != n {
		return fmt.Errorf("mesh attribute count mismatch: pos=%d normals=%d tangents=%d uvs=%d",
			n, len(m.Normals), len(m.Tangents), len(m.UVs))
	}
	if len(m.Indices) == 0 || len(m.Indices)%3 != 0 {
		return fmt.Errorf("mesh index count %d is not a multiple of 3", len(m.Indices))
	}
	for _, idx := range m.Indices {
		if int(idx) >= n {
			return fmt.Errorf("mesh index %d out of range (max %d)", idx, n-1)
		}
	}
	return nil
}

// BoundingSphere returns the centroid of the vertices and the maximum
// distance from it. Conservative, object space.
func (m *MeshData) BoundingSphere() (mgl32.Vec3, float32) {
	if len(m.Positions) == 0 {
		return mgl32.Vec3{}, 0
	}

	center := mgl32.Vec3{}
	for _, p := range m.Positions {
		center = center.Add(p)
	}
	center = center.Mul(1.0 / float32(len(m.Positions)))

	radius := float32(0)
	for _, p := range m.Positions {
		if d := p.Sub(center).Len(); d > radius {
			radius = d
		}
	}
	return center, radius
}
