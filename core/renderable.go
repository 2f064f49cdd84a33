package core

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

type RenderableKind uint8

const (
	RenderableLight RenderableKind = iota
	RenderableMesh
)

// RenderableElement is one draw-ordered entry: a light or a mesh with
// its world matrix snapshotted at build time. Exactly one of Light/Mesh
// is set, matching Kind.
type RenderableElement struct {
	Kind  RenderableKind
	World mgl32.Mat4
	Light *Light
	Mesh  *MeshObject
}

// RenderableList is the frame's draw list: all lights first, then all
// meshes, both runs contiguous. Passes index lights as Elements[0..LightCount)
// and meshes as Elements[LightCount..].
type RenderableList struct {
	Elements   []RenderableElement
	LightCount int
}

func (l RenderableList) Empty() bool {
	return len(l.Elements) == 0
}

func (l RenderableList) MeshCount() int {
	return len(l.Elements) - l.LightCount
}

func (l RenderableList) Lights() []RenderableElement {
	return l.Elements[:l.LightCount]
}

func (l RenderableList) Meshes() []RenderableElement {
	return l.Elements[l.LightCount:]
}

// BuildRenderables flattens the scene into the lights-first list the
// passes consume. An empty scene is an error: every pass treats an
// empty list as an invalid argument.
func BuildRenderables(scene *Scene) (RenderableList, error) {
	if scene == nil {
		return RenderableList{}, fmt.Errorf("nil scene")
	}
	total := len(scene.Lights) + len(scene.Objects)
	if total == 0 {
		return RenderableList{}, fmt.Errorf("scene has no lights and no objects")
	}

	list := RenderableList{
		Elements:   make([]RenderableElement, 0, total),
		LightCount: len(scene.Lights),
	}
	for _, l := range scene.Lights {
		list.Elements = append(list.Elements, RenderableElement{
			Kind:  RenderableLight,
			World: l.Transform.ObjectToWorld(),
			Light: l,
		})
	}
	for _, obj := range scene.Objects {
		list.Elements = append(list.Elements, RenderableElement{
			Kind:  RenderableMesh,
			World: obj.Transform.ObjectToWorld(),
			Mesh:  obj,
		})
	}
	return list, nil
}
