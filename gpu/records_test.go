package gpu

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func closeEnough(a, b, eps float32) bool {
	return float32(math.Abs(float64(a-b))) <= eps
}

func f32At(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
}

func u32At(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off:])
}

func TestTriangleRecordLayout(t *testing.T) {
	tr := TriangleRecord{
		V0: mgl32.Vec3{1, 2, 3},
		V1: mgl32.Vec3{4, 5, 6},
		V2: mgl32.Vec3{7, 8, 9},
		N0: mgl32.Vec3{0, 1, 0},
		N1: mgl32.Vec3{1, 0, 0},
		N2: mgl32.Vec3{0, 0, 1},
		UV0: mgl32.Vec2{0.1, 0.2}, UV1: mgl32.Vec2{0.3, 0.4}, UV2: mgl32.Vec2{0.5, 0.6},
		MaterialIndex: 7,
	}
	buf := tr.Marshal()
	if len(buf) != TriangleRecordSize {
		t.Fatalf("triangle record is %d bytes, want %d", len(buf), TriangleRecordSize)
	}

	// Vertices in 16-byte slots, normals from offset 48, uvs packed
	// from 96, material index at 120.
	if f32At(buf, 0) != 1 || f32At(buf, 16) != 4 || f32At(buf, 32) != 7 {
		t.Errorf("vertex slots misplaced: %v %v %v", f32At(buf, 0), f32At(buf, 16), f32At(buf, 32))
	}
	if f32At(buf, 52) != 1 {
		t.Errorf("n0.y at offset 52 = %v, want 1", f32At(buf, 52))
	}
	if f32At(buf, 96) != 0.1 || f32At(buf, 104) != 0.3 || f32At(buf, 112) != 0.5 {
		t.Errorf("uv slots misplaced")
	}
	if u32At(buf, 120) != 7 {
		t.Errorf("material index at 120 = %d, want 7", u32At(buf, 120))
	}
}

func TestSphereRecordLayout(t *testing.T) {
	s := SphereRecord{
		Center:        mgl32.Vec3{1, 2, 3},
		Radius:        4.5,
		FirstTriangle: 10,
		TriangleCount: 20,
	}
	buf := s.Marshal()
	if len(buf) != SphereRecordSize {
		t.Fatalf("sphere record is %d bytes, want %d", len(buf), SphereRecordSize)
	}
	if f32At(buf, 16) != 4.5 {
		t.Errorf("radius at 16 = %v", f32At(buf, 16))
	}
	if u32At(buf, 20) != 10 || u32At(buf, 24) != 20 {
		t.Errorf("triangle range at 20/24 = %d/%d", u32At(buf, 20), u32At(buf, 24))
	}
}

func TestMaterialRecordLayout(t *testing.T) {
	m := MaterialRecord{
		Albedo:         mgl32.Vec4{1, 0, 0, 1},
		Emission:       mgl32.Vec4{0, 1, 0, 1},
		Metalness:      0.25,
		Roughness:      0.75,
		AlbedoLayer:    2,
		MetalnessLayer: -1,
		RoughnessLayer: 0,
	}
	buf := m.Marshal()
	if len(buf) != MaterialRecordSize {
		t.Fatalf("material record is %d bytes, want %d", len(buf), MaterialRecordSize)
	}
	if f32At(buf, 32) != 0.25 || f32At(buf, 36) != 0.75 {
		t.Errorf("pbr scalars at 32/36 = %v/%v", f32At(buf, 32), f32At(buf, 36))
	}
	if int32(u32At(buf, 40)) != 2 {
		t.Errorf("albedo layer = %d, want 2", int32(u32At(buf, 40)))
	}
	if int32(u32At(buf, 44)) != -1 {
		t.Errorf("missing metalness layer must marshal as -1, got %d", int32(u32At(buf, 44)))
	}
}

func TestRayRecordRoundTrip(t *testing.T) {
	r := RayRecord{
		Position:  mgl32.Vec3{1, 2, 3},
		Metalness: 0.5,
		Normal:    mgl32.Vec3{0, 1, 0},
		Roughness: 0.1,
		Albedo:    mgl32.Vec3{0.9, 0.8, 0.7},
		Next:      -1,
		RayDir:    mgl32.Vec3{0, 0, -1},
	}
	buf := r.Marshal()
	if len(buf) != RayRecordSize {
		t.Fatalf("ray record is %d bytes, want %d", len(buf), RayRecordSize)
	}
	if int32(u32At(buf, 44)) != -1 {
		t.Errorf("next at offset 44 = %d, want -1", int32(u32At(buf, 44)))
	}

	got, err := UnmarshalRayRecord(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != r {
		t.Errorf("round trip mismatch: %+v != %+v", got, r)
	}

	if _, err := UnmarshalRayRecord(buf[:32]); err == nil {
		t.Error("short buffer must fail to unmarshal")
	}
}

func TestWorkgroupCount(t *testing.T) {
	cases := []struct {
		n, size, want uint32
	}{
		{0, 64, 0},
		{1, 64, 1},
		{64, 64, 1},
		{65, 64, 2},
		{128, 64, 2},
		{129, 64, 3},
		{10, 0, 0},
	}
	for _, c := range cases {
		if got := WorkgroupCount(c.n, c.size); got != c.want {
			t.Errorf("WorkgroupCount(%d, %d) = %d, want %d", c.n, c.size, got, c.want)
		}
	}
}

func TestSeedsReflection(t *testing.T) {
	if !SeedsReflection(0.3, 0.3) {
		t.Error("roughness equal to threshold must seed")
	}
	if !SeedsReflection(0.0, 0.3) {
		t.Error("smooth surface must seed")
	}
	if SeedsReflection(0.31, 0.3) {
		t.Error("rough surface must not seed")
	}
	if SeedsReflection(1.0, 0.0) {
		t.Error("zero threshold seeds only mirrors")
	}
}

func TestWalkChain(t *testing.T) {
	records := []RayRecord{
		{Next: 2},
		{Next: -1},
		{Next: 1},
	}
	visited, err := WalkChain(records, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []int32{0, 2, 1}
	if len(visited) != len(want) {
		t.Fatalf("visited %v, want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("visited %v, want %v", visited, want)
		}
	}
}

func TestWalkChainCycle(t *testing.T) {
	records := []RayRecord{{Next: 1}, {Next: 0}}
	if _, err := WalkChain(records, 0, 8); err == nil {
		t.Error("cycle must be reported")
	}
}

func TestWalkChainBadLinks(t *testing.T) {
	if _, err := WalkChain([]RayRecord{{Next: -1}}, 5, 4); err == nil {
		t.Error("out-of-range start must be reported")
	}
	if _, err := WalkChain([]RayRecord{{Next: 9}}, 0, 4); err == nil {
		t.Error("out-of-range link must be reported")
	}
}

func TestDepthRange01(t *testing.T) {
	// GL clip z -1..1 must land on 0..1 after conversion.
	conv := DepthRange01(mgl32.Ident4())
	near := conv.Mul4x1(mgl32.Vec4{0, 0, -1, 1})
	far := conv.Mul4x1(mgl32.Vec4{0, 0, 1, 1})
	if !closeEnough(near.Z(), 0, 1e-6) {
		t.Errorf("near plane maps to %v, want 0", near.Z())
	}
	if !closeEnough(far.Z(), 1, 1e-6) {
		t.Errorf("far plane maps to %v, want 1", far.Z())
	}
	if !closeEnough(near.X(), 0, 1e-6) || !closeEnough(far.W(), 1, 1e-6) {
		t.Errorf("conversion must not touch x/y/w")
	}

	// And a real projection keeps its w (z-divide) column.
	proj := mgl32.Perspective(mgl32.DegToRad(60), 1.5, 0.1, 100)
	p := DepthRange01(proj).Mul4x1(mgl32.Vec4{0, 0, -0.1, 1})
	if !closeEnough(p.Z()/p.W(), 0, 1e-5) {
		t.Errorf("projected near plane depth = %v, want 0", p.Z()/p.W())
	}
}
