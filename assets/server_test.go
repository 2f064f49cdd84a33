package assets

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/prism3d/prism/core"
)

func TestRegisterAndLookup(t *testing.T) {
	s := NewServer()

	meshId, err := s.RegisterMesh(Cube(1))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Mesh(meshId); !ok {
		t.Error("registered mesh not found")
	}

	mat := core.NewMaterial(mgl32.Vec4{1, 0, 0, 1})
	matId := s.RegisterMaterial(mat)
	got, ok := s.Material(matId)
	if !ok || got.Albedo != mat.Albedo {
		t.Errorf("material lookup: ok=%v albedo=%v", ok, got)
	}

	if _, ok := s.Mesh("nope"); ok {
		t.Error("unknown mesh id must miss")
	}
	if _, ok := s.Material(""); ok {
		t.Error("empty material id must miss")
	}
	if _, ok := s.Texture("nope"); ok {
		t.Error("unknown texture id must miss")
	}
}

func TestRegisterMeshValidates(t *testing.T) {
	s := NewServer()
	bad := Cube(1)
	bad.Indices[0] = 999
	if _, err := s.RegisterMesh(bad); err == nil {
		t.Error("out-of-range index must be rejected")
	}
	if _, err := s.RegisterMesh(nil); err == nil {
		t.Error("nil mesh must be rejected")
	}
}

func TestLoadTexture(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	img.SetNRGBA(2, 1, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	path := filepath.Join(t.TempDir(), "tex.png")
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(file, img); err != nil {
		t.Fatal(err)
	}
	file.Close()

	s := NewServer()
	id, err := s.LoadTexture(path)
	if err != nil {
		t.Fatal(err)
	}
	tex, ok := s.Texture(id)
	if !ok {
		t.Fatal("loaded texture not found")
	}
	if tex.Rect.Dx() != 4 || tex.Rect.Dy() != 2 {
		t.Errorf("texture size %v, want 4x2", tex.Rect)
	}
	if got := tex.RGBAAt(2, 1); got.R != 10 || got.G != 20 || got.B != 30 {
		t.Errorf("pixel (2,1) = %v", got)
	}

	if _, err := s.LoadTexture(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("missing file must error")
	}
}

func TestScaleRGBA(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := range src.Pix {
		src.Pix[i] = 200
	}

	scaled := ScaleRGBA(src, 8, 8)
	if scaled.Rect.Dx() != 8 || scaled.Rect.Dy() != 8 {
		t.Fatalf("scaled to %v, want 8x8", scaled.Rect)
	}
	// Solid input stays solid through the filter.
	for i, v := range scaled.Pix {
		if v < 199 || v > 201 {
			t.Fatalf("byte %d = %d after scaling solid image", i, v)
		}
	}

	if same := ScaleRGBA(src, 2, 2); same != src {
		t.Error("matching size must return the source image")
	}
}
