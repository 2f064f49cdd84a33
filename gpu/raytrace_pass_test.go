package gpu

import (
	"bytes"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/prism3d/prism/core"
)

func flatInputs() []FlatMesh {
	matA := core.NewMaterial(mgl32.Vec4{1, 0, 0, 1})
	matA.Roughness = 0.1
	matA.AlbedoTexture = "tex-wood"
	matB := core.NewMaterial(mgl32.Vec4{0, 1, 0, 1})
	matB.AlbedoTexture = "tex-stone"
	matB.RoughnessTexture = "tex-wood"

	return []FlatMesh{
		{Mesh: testMesh(), World: mgl32.Translate3D(10, 0, 0), Material: matA},
		{Mesh: testMesh(), World: mgl32.Ident4(), Material: matB},
	}
}

func marshalFlat(flat *FlatScene) []byte {
	var buf bytes.Buffer
	for _, t := range flat.Triangles {
		buf.Write(t.Marshal())
	}
	for _, s := range flat.Spheres {
		buf.Write(s.Marshal())
	}
	for _, m := range flat.Materials {
		buf.Write(m.Marshal())
	}
	return buf.Bytes()
}

func TestFlattenSceneDeterministic(t *testing.T) {
	a, err := FlattenScene(flatInputs())
	if err != nil {
		t.Fatal(err)
	}
	b, err := FlattenScene(flatInputs())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(marshalFlat(a), marshalFlat(b)) {
		t.Error("same input must flatten to identical records")
	}
	if len(a.TextureLayers) != len(b.TextureLayers) {
		t.Fatal("texture layer count differs between runs")
	}
	for i := range a.TextureLayers {
		if a.TextureLayers[i] != b.TextureLayers[i] {
			t.Errorf("layer %d differs: %s vs %s", i, a.TextureLayers[i], b.TextureLayers[i])
		}
	}
}

func TestFlattenSceneRanges(t *testing.T) {
	flat, err := FlattenScene(flatInputs())
	if err != nil {
		t.Fatal(err)
	}
	if len(flat.Spheres) != 2 || len(flat.Materials) != 2 {
		t.Fatalf("got %d spheres, %d materials, want 2 each", len(flat.Spheres), len(flat.Materials))
	}

	// Each mesh owns a contiguous range and its own material record.
	s0, s1 := flat.Spheres[0], flat.Spheres[1]
	if s0.FirstTriangle != 0 || s0.TriangleCount != 1 {
		t.Errorf("mesh 0 range [%d,%d)", s0.FirstTriangle, s0.FirstTriangle+s0.TriangleCount)
	}
	if s1.FirstTriangle != s0.TriangleCount {
		t.Errorf("mesh 1 must start where mesh 0 ends, got %d", s1.FirstTriangle)
	}
	if int(s1.FirstTriangle+s1.TriangleCount) != len(flat.Triangles) {
		t.Errorf("ranges must cover all %d triangles", len(flat.Triangles))
	}
	for i, tri := range flat.Triangles {
		wantMat := uint32(0)
		if uint32(i) >= s1.FirstTriangle {
			wantMat = 1
		}
		if tri.MaterialIndex != wantMat {
			t.Errorf("triangle %d material %d, want %d", i, tri.MaterialIndex, wantMat)
		}
	}
}

func TestFlattenSceneWorldSpace(t *testing.T) {
	flat, err := FlattenScene(flatInputs())
	if err != nil {
		t.Fatal(err)
	}
	// First mesh translated by +10 on x.
	if !closeEnough(flat.Triangles[0].V0.X(), 10, 1e-5) {
		t.Errorf("translated vertex x = %v, want 10", flat.Triangles[0].V0.X())
	}
	if !closeEnough(flat.Spheres[0].Center.X()-flat.Spheres[1].Center.X(), 10, 1e-5) {
		t.Errorf("bounding sphere did not follow the transform")
	}
	if !closeEnough(flat.Spheres[0].Radius, flat.Spheres[1].Radius, 1e-5) {
		t.Errorf("pure translation must keep the radius")
	}
}

func TestFlattenSceneNormals(t *testing.T) {
	mesh := testMesh()
	// Tilt the shared normal so non-uniform scale shows.
	n := mgl32.Vec3{1, 1, 0}.Normalize()
	for i := range mesh.Normals {
		mesh.Normals[i] = n
	}

	flat, err := FlattenScene([]FlatMesh{
		{Mesh: mesh, World: mgl32.Scale3D(2, 1, 1), Material: core.DefaultMaterial()},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := flat.Triangles[0].N0
	want := mgl32.Vec3{0.5, 1, 0}.Normalize()
	for i := 0; i < 3; i++ {
		if !closeEnough(got[i], want[i], 1e-5) {
			t.Fatalf("normal under non-uniform scale = %v, want %v", got, want)
		}
	}
	if !closeEnough(got.Len(), 1, 1e-5) {
		t.Errorf("normal must stay unit length, len %v", got.Len())
	}
}

func TestFlattenSceneTextureLayers(t *testing.T) {
	flat, err := FlattenScene(flatInputs())
	if err != nil {
		t.Fatal(err)
	}

	// First-use order: wood (mesh 0 albedo), stone (mesh 1 albedo);
	// mesh 1 roughness reuses the wood layer.
	if len(flat.TextureLayers) != 2 {
		t.Fatalf("got %d layers, want 2: %v", len(flat.TextureLayers), flat.TextureLayers)
	}
	if flat.TextureLayers[0] != "tex-wood" || flat.TextureLayers[1] != "tex-stone" {
		t.Errorf("layer order %v", flat.TextureLayers)
	}

	m0, m1 := flat.Materials[0], flat.Materials[1]
	if m0.AlbedoLayer != 0 || m1.AlbedoLayer != 1 {
		t.Errorf("albedo layers %d/%d, want 0/1", m0.AlbedoLayer, m1.AlbedoLayer)
	}
	if m1.RoughnessLayer != 0 {
		t.Errorf("shared texture must reuse layer 0, got %d", m1.RoughnessLayer)
	}
	if m0.MetalnessLayer != -1 {
		t.Errorf("missing texture must map to layer -1, got %d", m0.MetalnessLayer)
	}
}

func TestFlattenSceneEmpty(t *testing.T) {
	flat, err := FlattenScene(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(flat.Triangles) != 0 || len(flat.Spheres) != 0 {
		t.Error("empty input must flatten to an empty scene")
	}
}

func TestFlattenSceneRejectsBadMesh(t *testing.T) {
	bad := testMesh()
	bad.Indices = []uint32{0, 1, 9}
	if _, err := FlattenScene([]FlatMesh{{Mesh: bad, World: mgl32.Ident4(), Material: core.DefaultMaterial()}}); err == nil {
		t.Error("out-of-range index must fail flattening")
	}
}
