package assets

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/prism3d/prism/core"
)

// Procedural meshes. All generators emit counter-clockwise triangles
// viewed from outside, unit normals, and tangents along increasing u.

// Cube builds an axis-aligned cube centered on the origin with flat
// per-face normals and a full 0..1 uv per face.
func Cube(size float32) *core.MeshData {
	h := size / 2

	type face struct {
		n, u, v mgl32.Vec3
	}
	faces := []face{
		{n: mgl32.Vec3{1, 0, 0}, u: mgl32.Vec3{0, 0, -1}, v: mgl32.Vec3{0, 1, 0}},
		{n: mgl32.Vec3{-1, 0, 0}, u: mgl32.Vec3{0, 0, 1}, v: mgl32.Vec3{0, 1, 0}},
		{n: mgl32.Vec3{0, 1, 0}, u: mgl32.Vec3{1, 0, 0}, v: mgl32.Vec3{0, 0, -1}},
		{n: mgl32.Vec3{0, -1, 0}, u: mgl32.Vec3{1, 0, 0}, v: mgl32.Vec3{0, 0, 1}},
		{n: mgl32.Vec3{0, 0, 1}, u: mgl32.Vec3{1, 0, 0}, v: mgl32.Vec3{0, 1, 0}},
		{n: mgl32.Vec3{0, 0, -1}, u: mgl32.Vec3{-1, 0, 0}, v: mgl32.Vec3{0, 1, 0}},
	}

	mesh := &core.MeshData{}
	for _, f := range faces {
		base := uint32(len(mesh.Positions))
		center := f.n.Mul(h)
		corners := [4]mgl32.Vec3{
			center.Sub(f.u.Mul(h)).Sub(f.v.Mul(h)),
			center.Add(f.u.Mul(h)).Sub(f.v.Mul(h)),
			center.Add(f.u.Mul(h)).Add(f.v.Mul(h)),
			center.Sub(f.u.Mul(h)).Add(f.v.Mul(h)),
		}
		uvs := [4]mgl32.Vec2{{0, 1}, {1, 1}, {1, 0}, {0, 0}}
		for i := 0; i < 4; i++ {
			mesh.Positions = append(mesh.Positions, corners[i])
			mesh.Normals = append(mesh.Normals, f.n)
			mesh.Tangents = append(mesh.Tangents, f.u)
			mesh.UVs = append(mesh.UVs, uvs[i])
		}
		mesh.Indices = append(mesh.Indices,
			base, base+1, base+2,
			base, base+2, base+3)
	}
	return mesh
}

// Plane builds a horizontal quad on the XZ plane facing +Y. uvTiles
// repeats the texture that many times along each edge.
func Plane(width, depth, uvTiles float32) *core.MeshData {
	hw, hd := width/2, depth/2
	return &core.MeshData{
		Positions: []mgl32.Vec3{
			{-hw, 0, -hd}, {hw, 0, -hd}, {hw, 0, hd}, {-hw, 0, hd},
		},
		Normals: []mgl32.Vec3{
			{0, 1, 0}, {0, 1, 0}, {0, 1, 0}, {0, 1, 0},
		},
		Tangents: []mgl32.Vec3{
			{1, 0, 0}, {1, 0, 0}, {1, 0, 0}, {1, 0, 0},
		},
		UVs: []mgl32.Vec2{
			{0, 0}, {uvTiles, 0}, {uvTiles, uvTiles}, {0, uvTiles},
		},
		Indices: []uint32{0, 3, 2, 0, 2, 1},
	}
}

// UVSphere builds a latitude/longitude sphere. rings counts latitude
// bands (min 3), sectors longitude slices (min 3); the seam column and
// pole rows are duplicated for clean uvs.
func UVSphere(radius float32, rings, sectors int) *core.MeshData {
	if rings < 3 {
		rings = 3
	}
	if sectors < 3 {
		sectors = 3
	}

	mesh := &core.MeshData{}
	for r := 0; r <= rings; r++ {
		theta := math.Pi * float64(r) / float64(rings)
		sinT, cosT := math.Sincos(theta)
		for s := 0; s <= sectors; s++ {
			phi := 2 * math.Pi * float64(s) / float64(sectors)
			sinP, cosP := math.Sincos(phi)

			n := mgl32.Vec3{
				float32(sinT * cosP),
				float32(cosT),
				float32(sinT * sinP),
			}
			mesh.Positions = append(mesh.Positions, n.Mul(radius))
			mesh.Normals = append(mesh.Normals, n)
			mesh.Tangents = append(mesh.Tangents, mgl32.Vec3{float32(-sinP), 0, float32(cosP)})
			mesh.UVs = append(mesh.UVs, mgl32.Vec2{
				float32(s) / float32(sectors),
				float32(r) / float32(rings),
			})
		}
	}

	stride := uint32(sectors + 1)
	for r := 0; r < rings; r++ {
		for s := 0; s < sectors; s++ {
			a := uint32(r)*stride + uint32(s)
			b := a + 1
			c := a + stride
			d := c + 1
			mesh.Indices = append(mesh.Indices, a, b, c, b, d, c)
		}
	}
	return mesh
}

// Torus builds a torus around the Y axis: major is the center-circle
// radius, minor the tube radius.
func Torus(major, minor float32, segments, sides int) *core.MeshData {
	if segments < 3 {
		segments = 3
	}
	if sides < 3 {
		sides = 3
	}

	mesh := &core.MeshData{}
	for i := 0; i <= segments; i++ {
		u := 2 * math.Pi * float64(i) / float64(segments)
		sinU, cosU := math.Sincos(u)
		for j := 0; j <= sides; j++ {
			v := 2 * math.Pi * float64(j) / float64(sides)
			sinV, cosV := math.Sincos(v)

			ring := float64(major) + float64(minor)*cosV
			mesh.Positions = append(mesh.Positions, mgl32.Vec3{
				float32(ring * cosU),
				float32(float64(minor) * sinV),
				float32(ring * sinU),
			})
			mesh.Normals = append(mesh.Normals, mgl32.Vec3{
				float32(cosV * cosU),
				float32(sinV),
				float32(cosV * sinU),
			})
			mesh.Tangents = append(mesh.Tangents, mgl32.Vec3{float32(-sinU), 0, float32(cosU)})
			mesh.UVs = append(mesh.UVs, mgl32.Vec2{
				float32(i) / float32(segments),
				float32(j) / float32(sides),
			})
		}
	}

	stride := uint32(sides + 1)
	for i := 0; i < segments; i++ {
		for j := 0; j < sides; j++ {
			a := uint32(i)*stride + uint32(j)
			b := a + 1
			c := a + stride
			d := c + 1
			mesh.Indices = append(mesh.Indices, a, b, c, b, d, c)
		}
	}
	return mesh
}
