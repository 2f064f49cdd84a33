package core

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func closeEnough(a, b, eps float32) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func TestBuildRenderablesOrdering(t *testing.T) {
	scene := NewScene()

	obj1 := NewMeshObject("mesh-a", "mat-a")
	obj1.Transform.Position = mgl32.Vec3{1, 0, 0}
	scene.AddObject(obj1)

	light1 := NewLight()
	light1.Transform.Position = mgl32.Vec3{0, 10, 0}
	scene.AddLight(light1)

	obj2 := NewMeshObject("mesh-b", "mat-b")
	scene.AddObject(obj2)

	light2 := NewLight()
	scene.AddLight(light2)

	list, err := BuildRenderables(scene)
	if err != nil {
		t.Fatalf("BuildRenderables failed: %v", err)
	}

	if list.LightCount != 2 {
		t.Errorf("Expected 2 lights, got %d", list.LightCount)
	}
	if list.MeshCount() != 2 {
		t.Errorf("Expected 2 meshes, got %d", list.MeshCount())
	}
	if len(list.Elements) != 4 {
		t.Fatalf("Expected 4 elements, got %d", len(list.Elements))
	}

	// Lights strictly before meshes
	for i, elem := range list.Elements {
		if i < list.LightCount {
			if elem.Kind != RenderableLight || elem.Light == nil || elem.Mesh != nil {
				t.Errorf("Element %d should be a light", i)
			}
		} else {
			if elem.Kind != RenderableMesh || elem.Mesh == nil || elem.Light != nil {
				t.Errorf("Element %d should be a mesh", i)
			}
		}
	}

	if len(list.Lights()) != 2 || len(list.Meshes()) != 2 {
		t.Errorf("Subslice helpers disagree: lights=%d meshes=%d", len(list.Lights()), len(list.Meshes()))
	}
}

func TestBuildRenderablesWorldMatrix(t *testing.T) {
	scene := NewScene()
	obj := NewMeshObject("m", "")
	obj.Transform.Position = mgl32.Vec3{3, 4, 5}
	scene.AddObject(obj)

	list, err := BuildRenderables(scene)
	if err != nil {
		t.Fatalf("BuildRenderables failed: %v", err)
	}

	world := list.Meshes()[0].World
	p := world.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	if !closeEnough(p.X(), 3, 1e-5) || !closeEnough(p.Y(), 4, 1e-5) || !closeEnough(p.Z(), 5, 1e-5) {
		t.Errorf("World matrix does not place origin at (3,4,5): got %v", p)
	}
}

func TestBuildRenderablesEmptyScene(t *testing.T) {
	if _, err := BuildRenderables(NewScene()); err == nil {
		t.Error("Empty scene should be rejected")
	}
	if _, err := BuildRenderables(nil); err == nil {
		t.Error("Nil scene should be rejected")
	}
}

func TestSceneGeneration(t *testing.T) {
	scene := NewScene()
	gen := scene.Generation()

	obj := NewMeshObject("m", "")
	scene.AddObject(obj)
	if scene.Generation() == gen {
		t.Error("AddObject should advance the generation")
	}

	gen = scene.Generation()
	scene.Touch()
	if scene.Generation() != gen+1 {
		t.Error("Touch should advance the generation by one")
	}

	gen = scene.Generation()
	scene.RemoveObject(obj)
	if scene.Generation() == gen {
		t.Error("RemoveObject should advance the generation")
	}
	if len(scene.Objects) != 0 {
		t.Errorf("Object should be removed, %d left", len(scene.Objects))
	}

	// Removing something not in the scene is a no-op
	gen = scene.Generation()
	scene.RemoveObject(obj)
	if scene.Generation() != gen {
		t.Error("Removing an absent object should not advance the generation")
	}
}
