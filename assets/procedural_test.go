package assets

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/prism3d/prism/core"
)

func closeEnough(a, b, eps float32) bool {
	return float32(math.Abs(float64(a-b))) <= eps
}

func generators() map[string]*core.MeshData {
	return map[string]*core.MeshData{
		"cube":   Cube(2),
		"plane":  Plane(10, 10, 4),
		"sphere": UVSphere(1.5, 8, 16),
		"torus":  Torus(3, 1, 12, 8),
	}
}

func TestGeneratorsValidate(t *testing.T) {
	for name, mesh := range generators() {
		if err := mesh.Validate(); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestGeneratorsUnitNormals(t *testing.T) {
	for name, mesh := range generators() {
		for i, n := range mesh.Normals {
			if !closeEnough(n.Len(), 1, 1e-5) {
				t.Fatalf("%s: normal %d has length %v", name, i, n.Len())
			}
		}
		for i, tan := range mesh.Tangents {
			if !closeEnough(tan.Len(), 1, 1e-5) {
				t.Fatalf("%s: tangent %d has length %v", name, i, tan.Len())
			}
		}
	}
}

// Geometric triangle normals must agree with the vertex normals, so
// every face is counter-clockwise viewed from outside. Pole and seam
// slivers have no area and are skipped.
func TestGeneratorsWindOutward(t *testing.T) {
	for name, mesh := range generators() {
		for i := 0; i+2 < len(mesh.Indices); i += 3 {
			a := mesh.Positions[mesh.Indices[i]]
			b := mesh.Positions[mesh.Indices[i+1]]
			c := mesh.Positions[mesh.Indices[i+2]]
			face := b.Sub(a).Cross(c.Sub(b))
			if face.Len() < 1e-6 {
				continue
			}
			avg := mesh.Normals[mesh.Indices[i]].
				Add(mesh.Normals[mesh.Indices[i+1]]).
				Add(mesh.Normals[mesh.Indices[i+2]])
			if face.Dot(avg) <= 0 {
				t.Fatalf("%s: triangle %d winds inward", name, i/3)
			}
		}
	}
}

func TestCubeShape(t *testing.T) {
	mesh := Cube(2)
	if len(mesh.Positions) != 24 || len(mesh.Indices) != 36 {
		t.Fatalf("got %d vertices, %d indices, want 24/36", len(mesh.Positions), len(mesh.Indices))
	}
	for i, p := range mesh.Positions {
		for axis := 0; axis < 3; axis++ {
			if !closeEnough(float32(math.Abs(float64(p[axis]))), 1, 1e-6) {
				t.Fatalf("vertex %d = %v, want corners at +-1", i, p)
			}
		}
		// Normal matches the face the vertex sits on.
		if !closeEnough(p.Dot(mesh.Normals[i]), 1, 1e-6) {
			t.Errorf("vertex %d normal %v does not face out of %v", i, mesh.Normals[i], p)
		}
	}
}

func TestPlaneShape(t *testing.T) {
	mesh := Plane(10, 4, 2)
	for i, p := range mesh.Positions {
		if p.Y() != 0 {
			t.Errorf("vertex %d off the plane: %v", i, p)
		}
		if mesh.Normals[i] != (mgl32.Vec3{0, 1, 0}) {
			t.Errorf("vertex %d normal %v, want +Y", i, mesh.Normals[i])
		}
	}
	if !closeEnough(mesh.Positions[1].X()-mesh.Positions[0].X(), 10, 1e-5) {
		t.Errorf("width edge %v to %v", mesh.Positions[0], mesh.Positions[1])
	}
	if mesh.UVs[2] != (mgl32.Vec2{2, 2}) {
		t.Errorf("uv tiling %v, want {2 2}", mesh.UVs[2])
	}
}

func TestSphereShape(t *testing.T) {
	const radius = 1.5
	mesh := UVSphere(radius, 8, 16)
	for i, p := range mesh.Positions {
		if !closeEnough(p.Len(), radius, 1e-5) {
			t.Fatalf("vertex %d at distance %v, want %v", i, p.Len(), radius)
		}
		if !closeEnough(p.Dot(mesh.Normals[i]), radius, 1e-5) {
			t.Fatalf("vertex %d normal not radial", i)
		}
	}
	// 8 rings x 16 sectors, seam and poles duplicated.
	if len(mesh.Positions) != 9*17 {
		t.Errorf("got %d vertices, want %d", len(mesh.Positions), 9*17)
	}
	if len(mesh.Indices) != 8*16*6 {
		t.Errorf("got %d indices, want %d", len(mesh.Indices), 8*16*6)
	}
}

func TestTorusShape(t *testing.T) {
	mesh := Torus(3, 1, 12, 8)
	for i, p := range mesh.Positions {
		// Distance from the center circle must equal the tube radius.
		ring := float32(math.Hypot(float64(p.X()), float64(p.Z())))
		d := mgl32.Vec2{ring - 3, p.Y()}.Len()
		if !closeEnough(d, 1, 1e-5) {
			t.Fatalf("vertex %d at tube distance %v, want 1", i, d)
		}
	}
}

func TestClampedResolution(t *testing.T) {
	if err := UVSphere(1, 0, 0).Validate(); err != nil {
		t.Errorf("sphere: %v", err)
	}
	if err := Torus(2, 1, 1, -4).Validate(); err != nil {
		t.Errorf("torus: %v", err)
	}
}
