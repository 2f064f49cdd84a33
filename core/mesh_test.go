package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func quadMesh() *MeshData {
	return &MeshData{
		Positions: []mgl32.Vec3{{-1, -1, 0}, {1, -1, 0}, {1, 1, 0}, {-1, 1, 0}},
		Normals:   []mgl32.Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		Tangents:  []mgl32.Vec3{{1, 0, 0}, {1, 0, 0}, {1, 0, 0}, {1, 0, 0}},
		UVs:       []mgl32.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
		Indices:   []uint32{0, 1, 2, 0, 2, 3},
	}
}

func TestMeshValidate(t *testing.T) {
	m := quadMesh()
	if err := m.Validate(); err != nil {
		t.Fatalf("Valid quad rejected: %v", err)
	}
	if m.TriangleCount() != 2 {
		t.Errorf("Expected 2 triangles, got %d", m.TriangleCount())
	}

	bad := quadMesh()
	bad.Indices[3] = 99
	if err := bad.Validate(); err == nil {
		t.Error("Out-of-range index should be rejected")
	}

	bad = quadMesh()
	bad.Indices = bad.Indices[:5]
	if err := bad.Validate(); err == nil {
		t.Error("Index count not divisible by 3 should be rejected")
	}

	bad = quadMesh()
	bad.UVs = bad.UVs[:2]
	if err := bad.Validate(); err == nil {
		t.Error("Attribute length mismatch should be rejected")
	}

	if err := (&MeshData{}).Validate(); err == nil {
		t.Error("Empty mesh should be rejected")
	}
}

func TestMeshBoundingSphere(t *testing.T) {
	m := quadMesh()
	center, radius := m.BoundingSphere()

	if !closeEnough(center.X(), 0, 1e-5) || !closeEnough(center.Y(), 0, 1e-5) {
		t.Errorf("Quad centroid should be origin, got %v", center)
	}
	// Corner distance sqrt(2)
	if !closeEnough(radius, 1.41421356, 1e-4) {
		t.Errorf("Expected radius sqrt(2), got %f", radius)
	}

	// Every vertex inside
	for i, p := range m.Positions {
		if p.Sub(center).Len() > radius+1e-5 {
			t.Errorf("Vertex %d outside bounding sphere", i)
		}
	}
}
