// Package assets holds the CPU-side registries renderables reference by
// id: mesh data, materials, and decoded textures. The render passes see
// it through a narrow accessor interface and never load anything
// themselves.
package assets

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"

	"github.com/prism3d/prism/core"
)

// Server owns the asset registries. Ids are opaque uuids; the zero id
// resolves to nothing.
type Server struct {
	meshes    map[core.AssetId]*core.MeshData
	materials map[core.AssetId]core.Material
	textures  map[core.AssetId]*image.RGBA
}

func NewServer() *Server {
	return &Server{
		meshes:    make(map[core.AssetId]*core.MeshData),
		materials: make(map[core.AssetId]core.Material),
		textures:  make(map[core.AssetId]*image.RGBA),
	}
}

func makeAssetId() core.AssetId {
	return core.AssetId(uuid.NewString())
}

// RegisterMesh validates and registers mesh data, returning its id. The
// server keeps the pointer; callers must not mutate the mesh afterwards.
func (s *Server) RegisterMesh(mesh *core.MeshData) (core.AssetId, error) {
	if mesh == nil {
		return "", fmt.Errorf("nil mesh")
	}
	if err := mesh.Validate(); err != nil {
		return "", err
	}
	id := makeAssetId()
	s.meshes[id] = mesh
	return id, nil
}

func (s *Server) RegisterMaterial(mat core.Material) core.AssetId {
	id := makeAssetId()
	s.materials[id] = mat
	return id
}

// RegisterTexture registers an already-decoded image.
func (s *Server) RegisterTexture(img *image.RGBA) (core.AssetId, error) {
	if img == nil || img.Rect.Empty() {
		return "", fmt.Errorf("empty texture")
	}
	id := makeAssetId()
	s.textures[id] = img
	return id, nil
}

// LoadTexture decodes a PNG file into an RGBA texture and registers it.
func (s *Server) LoadTexture(filename string) (core.AssetId, error) {
	file, err := os.Open(filename)
	if err != nil {
		return "", fmt.Errorf("open texture: %w", err)
	}
	defer file.Close()

	img, err := png.Decode(file)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", filename, err)
	}
	return s.RegisterTexture(ToRGBA(img))
}

func (s *Server) Mesh(id core.AssetId) (*core.MeshData, bool) {
	m, ok := s.meshes[id]
	return m, ok
}

func (s *Server) Material(id core.AssetId) (*core.Material, bool) {
	m, ok := s.materials[id]
	if !ok {
		return nil, false
	}
	return &m, true
}

func (s *Server) Texture(id core.AssetId) (*image.RGBA, bool) {
	t, ok := s.textures[id]
	return t, ok
}

// ToRGBA returns img as *image.RGBA, converting unless it already is one.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			rgba.Set(x, y, img.At(x, y))
		}
	}
	return rgba
}

// ScaleRGBA resamples src to w x h with bilinear filtering. Returns src
// untouched when it already has that size and a tight stride.
func ScaleRGBA(src *image.RGBA, w, h int) *image.RGBA {
	if src.Rect.Dx() == w && src.Rect.Dy() == h && src.Stride == 4*w {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(dst, dst.Rect, src, src.Rect, xdraw.Src, nil)
	return dst
}
