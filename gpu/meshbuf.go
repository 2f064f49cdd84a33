package gpu

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/prism3d/prism/core"
)

// Interleaved vertex layout shared by the geometry and shadow passes:
// position, normal, tangent, uv. The shader locations 0..3 map onto
// these offsets in order.
const (
	VertexStride        = 44
	vertexNormalOffset  = 12
	vertexTangentOffset = 24
	vertexUVOffset      = 36
)

// MeshBuffers is one uploaded mesh. The vertex and index buffers stay
// in object space; migration reads them back and transforms on the CPU.
type MeshBuffers struct {
	Vertex *wgpu.Buffer
	Index  *wgpu.Buffer

	VertexCount uint32
	IndexCount  uint32

	// Object-space bounding sphere, captured at upload.
	Center mgl32.Vec3
	Radius float32
}

func (b *MeshBuffers) Release() {
	if b.Vertex != nil {
		b.Vertex.Release()
		b.Vertex = nil
	}
	if b.Index != nil {
		b.Index.Release()
		b.Index = nil
	}
}

// EncodeVertices interleaves the mesh attributes into the GPU layout.
// The mesh must already be validated; attribute slices are same length.
func EncodeVertices(mesh *core.MeshData) []byte {
	buf := make([]byte, len(mesh.Positions)*VertexStride)
	for i := range mesh.Positions {
		off := i * VertexStride
		putVec3(buf[off:], mesh.Positions[i])
		putVec3(buf[off+vertexNormalOffset:], mesh.Normals[i])
		putVec3(buf[off+vertexTangentOffset:], mesh.Tangents[i])
		putVec2(buf[off+vertexUVOffset:], mesh.UVs[i])
	}
	return buf
}

func EncodeIndices(mesh *core.MeshData) []byte {
	buf := make([]byte, len(mesh.Indices)*4)
	for i, idx := range mesh.Indices {
		binary.LittleEndian.PutUint32(buf[i*4:], idx)
	}
	return buf
}

// DecodeVertices is the inverse of EncodeVertices, used on migration
// readbacks. Tolerates trailing alignment padding after the last vertex.
func DecodeVertices(buf []byte, vertexCount uint32) (*core.MeshData, error) {
	needed := int(vertexCount) * VertexStride
	if len(buf) < needed {
		return nil, fmt.Errorf("vertex data is %d bytes, need %d for %d vertices", len(buf), needed, vertexCount)
	}
	mesh := &core.MeshData{
		Positions: make([]mgl32.Vec3, vertexCount),
		Normals:   make([]mgl32.Vec3, vertexCount),
		Tangents:  make([]mgl32.Vec3, vertexCount),
		UVs:       make([]mgl32.Vec2, vertexCount),
	}
	for i := uint32(0); i < vertexCount; i++ {
		off := int(i) * VertexStride
		mesh.Positions[i] = getVec3(buf[off:])
		mesh.Normals[i] = getVec3(buf[off+vertexNormalOffset:])
		mesh.Tangents[i] = getVec3(buf[off+vertexTangentOffset:])
		mesh.UVs[i] = mgl32.Vec2{
			math.Float32frombits(binary.LittleEndian.Uint32(buf[off+vertexUVOffset:])),
			math.Float32frombits(binary.LittleEndian.Uint32(buf[off+vertexUVOffset+4:])),
		}
	}
	return mesh, nil
}

func DecodeIndices(buf []byte, indexCount uint32) ([]uint32, error) {
	needed := int(indexCount) * 4
	if len(buf) < needed {
		return nil, fmt.Errorf("index data is %d bytes, need %d for %d indices", len(buf), needed, indexCount)
	}
	indices := make([]uint32, indexCount)
	for i := range indices {
		indices[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return indices, nil
}
