package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// GPU record sizes and layout constants. These mirror the WGSL structs
// byte for byte; the codec tests pin the offsets.
const (
	RayRecordSize      = 64
	TriangleRecordSize = 128
	SphereRecordSize   = 32
	MaterialRecordSize = 64
	SeedCounterSize    = 16
	SeedArgsSize       = 16

	// Ray kernel workgroup width; seed-args x = ceil(seeds/RayWorkgroupSize).
	RayWorkgroupSize = 64

	// Ray record arena capacity per pixel of drawable area.
	RayRecordsPerPixel = 3

	// Shadow map array capacity; extra lights are skipped.
	MaxLights = 4
)

// TriangleRecord is one world-space triangle of the flattened scene.
type TriangleRecord struct {
	V0, V1, V2    mgl32.Vec3
	N0, N1, N2    mgl32.Vec3
	UV0, UV1, UV2 mgl32.Vec2
	MaterialIndex uint32
}

func (t TriangleRecord) Marshal() []byte {
	buf := make([]byte, TriangleRecordSize)
	putVec3Padded(buf[0:], t.V0)
	putVec3Padded(buf[16:], t.V1)
	putVec3Padded(buf[32:], t.V2)
	putVec3Padded(buf[48:], t.N0)
	putVec3Padded(buf[64:], t.N1)
	putVec3Padded(buf[80:], t.N2)
	putVec2(buf[96:], t.UV0)
	putVec2(buf[104:], t.UV1)
	putVec2(buf[112:], t.UV2)
	binary.LittleEndian.PutUint32(buf[120:], t.MaterialIndex)
	return buf
}

// SphereRecord bounds one mesh renderable's contiguous triangle range.
type SphereRecord struct {
	Center        mgl32.Vec3
	Radius        float32
	FirstTriangle uint32
	TriangleCount uint32
}

func (s SphereRecord) Marshal() []byte {
	buf := make([]byte, SphereRecordSize)
	putVec3Padded(buf[0:], s.Center)
	binary.LittleEndian.PutUint32(buf[16:], math.Float32bits(s.Radius))
	binary.LittleEndian.PutUint32(buf[20:], s.FirstTriangle)
	binary.LittleEndian.PutUint32(buf[24:], s.TriangleCount)
	return buf
}

// MaterialRecord is the ray tracer's view of a material. Texture layers
// index the migration-built texture array; -1 means untextured.
type MaterialRecord struct {
	Albedo         mgl32.Vec4
	Emission       mgl32.Vec4
	Metalness      float32
	Roughness      float32
	AlbedoLayer    int32
	MetalnessLayer int32
	RoughnessLayer int32
}

func (m MaterialRecord) Marshal() []byte {
	buf := make([]byte, MaterialRecordSize)
	putVec4(buf[0:], m.Albedo)
	putVec4(buf[16:], m.Emission)
	binary.LittleEndian.PutUint32(buf[32:], math.Float32bits(m.Metalness))
	binary.LittleEndian.PutUint32(buf[36:], math.Float32bits(m.Roughness))
	binary.LittleEndian.PutUint32(buf[40:], uint32(m.AlbedoLayer))
	binary.LittleEndian.PutUint32(buf[44:], uint32(m.MetalnessLayer))
	binary.LittleEndian.PutUint32(buf[48:], uint32(m.RoughnessLayer))
	return buf
}

// RayRecord is one node of a reflection chain in the GPU arena. Next is
// the only field mutated after append (-1 terminates the chain).
type RayRecord struct {
	Position  mgl32.Vec3
	Metalness float32
	Normal    mgl32.Vec3
	Roughness float32
	Albedo    mgl32.Vec3
	Next      int32
	RayDir    mgl32.Vec3
}

func (r RayRecord) Marshal() []byte {
	buf := make([]byte, RayRecordSize)
	putVec3(buf[0:], r.Position)
	binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(r.Metalness))
	putVec3(buf[16:], r.Normal)
	binary.LittleEndian.PutUint32(buf[28:], math.Float32bits(r.Roughness))
	putVec3(buf[32:], r.Albedo)
	binary.LittleEndian.PutUint32(buf[44:], uint32(r.Next))
	putVec3(buf[48:], r.RayDir)
	return buf
}

func UnmarshalRayRecord(buf []byte) (RayRecord, error) {
	if len(buf) < RayRecordSize {
		return RayRecord{}, fmt.Errorf("ray record needs %d bytes, got %d", RayRecordSize, len(buf))
	}
	var r RayRecord
	r.Position = getVec3(buf[0:])
	r.Metalness = math.Float32frombits(binary.LittleEndian.Uint32(buf[12:]))
	r.Normal = getVec3(buf[16:])
	r.Roughness = math.Float32frombits(binary.LittleEndian.Uint32(buf[28:]))
	r.Albedo = getVec3(buf[32:])
	r.Next = int32(binary.LittleEndian.Uint32(buf[44:]))
	r.RayDir = getVec3(buf[48:])
	return r, nil
}

// WorkgroupCount is ceil(n/size), the dispatch width for n items.
func WorkgroupCount(n, size uint32) uint32 {
	if size == 0 {
		return 0
	}
	return (n + size - 1) / size
}

// SeedsReflection mirrors the geometry shader's seeding predicate:
// smooth surfaces (roughness at or below the threshold) trace.
// The comparison direction is part of the pipeline contract.
func SeedsReflection(roughness, threshold float32) bool {
	return roughness <= threshold
}

// WalkChain follows next links from start, returning the visited record
// indices (start included). Errors on out-of-range links and on chains
// longer than maxSteps, which a correct arena cannot produce.
func WalkChain(records []RayRecord, start int32, maxSteps int) ([]int32, error) {
	if start < 0 || int(start) >= len(records) {
		return nil, fmt.Errorf("chain start %d out of range (%d records)", start, len(records))
	}
	visited := make([]int32, 0, maxSteps)
	idx := start
	for len(visited) <= maxSteps {
		visited = append(visited, idx)
		next := records[idx].Next
		if next < 0 {
			return visited, nil
		}
		if int(next) >= len(records) {
			return visited, fmt.Errorf("record %d links to %d, out of range (%d records)", idx, next, len(records))
		}
		idx = next
	}
	return visited, fmt.Errorf("chain from %d exceeds %d steps, assuming a cycle", start, maxSteps)
}

// Byte packing helpers, little endian to match the GPU.

func putVec2(buf []byte, v mgl32.Vec2) {
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(v[1]))
}

func putVec3(buf []byte, v mgl32.Vec3) {
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(v[2]))
}

// putVec3Padded writes a vec3 into a 16-byte slot, pad zeroed.
func putVec3Padded(buf []byte, v mgl32.Vec3) {
	putVec3(buf, v)
	binary.LittleEndian.PutUint32(buf[12:], 0)
}

func putVec4(buf []byte, v mgl32.Vec4) {
	binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(v[2]))
	binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(v[3]))
}

func putMat4(buf []byte, m mgl32.Mat4) {
	for i, v := range m {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
}

func getVec3(buf []byte) mgl32.Vec3 {
	return mgl32.Vec3{
		math.Float32frombits(binary.LittleEndian.Uint32(buf[0:])),
		math.Float32frombits(binary.LittleEndian.Uint32(buf[4:])),
		math.Float32frombits(binary.LittleEndian.Uint32(buf[8:])),
	}
}
