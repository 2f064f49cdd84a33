package gpu

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/prism3d/prism/core"
)

func testMesh() *core.MeshData {
	return &core.MeshData{
		Positions: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Normals:   []mgl32.Vec3{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
		Tangents:  []mgl32.Vec3{{1, 0, 0}, {1, 0, 0}, {1, 0, 0}},
		UVs:       []mgl32.Vec2{{0, 0}, {1, 0}, {0, 1}},
		Indices:   []uint32{0, 1, 2},
	}
}

func TestVertexEncodeLayout(t *testing.T) {
	mesh := testMesh()
	buf := EncodeVertices(mesh)
	if len(buf) != 3*VertexStride {
		t.Fatalf("encoded %d bytes, want %d", len(buf), 3*VertexStride)
	}

	// Second vertex: position.x at stride, normal.z, tangent.x, uv.x
	if f32At(buf, VertexStride) != 1 {
		t.Errorf("v1 position.x = %v, want 1", f32At(buf, VertexStride))
	}
	if f32At(buf, VertexStride+vertexNormalOffset+8) != 1 {
		t.Errorf("v1 normal.z misplaced")
	}
	if f32At(buf, VertexStride+vertexTangentOffset) != 1 {
		t.Errorf("v1 tangent.x misplaced")
	}
	if f32At(buf, VertexStride+vertexUVOffset) != 1 {
		t.Errorf("v1 uv.x misplaced")
	}
}

func TestVertexRoundTrip(t *testing.T) {
	mesh := testMesh()
	decoded, err := DecodeVertices(EncodeVertices(mesh), 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := range mesh.Positions {
		if decoded.Positions[i] != mesh.Positions[i] {
			t.Errorf("position %d: %v != %v", i, decoded.Positions[i], mesh.Positions[i])
		}
		if decoded.Normals[i] != mesh.Normals[i] {
			t.Errorf("normal %d changed", i)
		}
		if decoded.UVs[i] != mesh.UVs[i] {
			t.Errorf("uv %d changed", i)
		}
	}

	indices, err := DecodeIndices(EncodeIndices(mesh), 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, idx := range mesh.Indices {
		if indices[i] != idx {
			t.Errorf("index %d: %d != %d", i, indices[i], idx)
		}
	}
}

func TestDecodeShortBuffers(t *testing.T) {
	if _, err := DecodeVertices(make([]byte, VertexStride-1), 1); err == nil {
		t.Error("short vertex buffer must fail")
	}
	if _, err := DecodeIndices(make([]byte, 7), 2); err == nil {
		t.Error("short index buffer must fail")
	}

	// Trailing alignment padding is tolerated.
	buf := make([]byte, VertexStride+3)
	if _, err := DecodeVertices(buf, 1); err != nil {
		t.Errorf("padded buffer must decode: %v", err)
	}
}
